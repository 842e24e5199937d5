package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
	"github.com/avroom/roomlink/internal/session"
)

type stubClient struct {
	onConn func(core.ConnSignal)
}

func (c *stubClient) Join(ctx context.Context, channel string, uid domain.UserID) error {
	if c.onConn != nil {
		c.onConn(core.SignalConnected)
	}
	return nil
}

func (c *stubClient) Publish(ctx context.Context, track core.LocalTrack) error { return nil }

func (c *stubClient) Unpublish(ctx context.Context, track core.LocalTrack) error { return nil }

func (c *stubClient) Subscribe(ctx context.Context, user core.RemoteUser, kind core.TrackKind) error {
	return nil
}

func (c *stubClient) Leave(ctx context.Context) error { return nil }

func (c *stubClient) OnConnSignal(fn func(core.ConnSignal)) { c.onConn = fn }

func (c *stubClient) OnUserPublished(fn func(core.RemoteUser, core.TrackKind)) {}

func (c *stubClient) OnUserUnpublished(fn func(core.RemoteUser, core.TrackKind)) {}

func (c *stubClient) OnException(fn func(error)) {}

type stubFactory struct{}

func (stubFactory) CreateClient(mode, codec string) (core.Client, error) {
	return &stubClient{}, nil
}

type stubTrack struct {
	id      string
	kind    core.TrackKind
	enabled bool
}

func (t *stubTrack) ID() string { return t.id }

func (t *stubTrack) Kind() core.TrackKind { return t.kind }

func (t *stubTrack) SetEnabled(v bool) { t.enabled = v }

func (t *stubTrack) Enabled() bool { return t.enabled }

func (t *stubTrack) Stop() {}

type stubProvider struct{}

func (stubProvider) WrapVideo(src core.MediaSource) (core.LocalTrack, error) {
	return &stubTrack{id: "video-out", kind: core.TrackVideo, enabled: true}, nil
}

func (stubProvider) AcquireMicrophone() (core.LocalTrack, error) {
	return &stubTrack{id: "mic", kind: core.TrackAudio, enabled: true}, nil
}

type stubSource struct{ port int }

func (s *stubSource) ID() string           { return "rtp" }
func (s *stubSource) Kind() core.TrackKind { return core.TrackVideo }

func newTestRouter(t *testing.T) (*gin.Engine, *session.Service) {
	t.Helper()
	svc := session.NewService(stubFactory{}, stubProvider{}, session.Options{
		ChannelPrefix: "room-",
	}, core.RealClock(), zerolog.Nop())
	t.Cleanup(func() { _ = svc.Destroy(context.Background()) })
	r := SetupRouter("release", svc, func(port int) (core.MediaSource, error) {
		return &stubSource{port: port}, nil
	})
	return r, svc
}

func doJSON(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSessionLifecycleEndpoints(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(r, http.MethodPost, "/api/session", `{"user_id":"u1","room":"lobby"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["state"])

	w = doJSON(r, http.MethodGet, "/api/session/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp["state"])
	assert.EqualValues(t, 0, resp["pending"])

	w = doJSON(r, http.MethodDelete, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "idle", resp["state"])
}

func TestInitializeRejectsBadBody(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/api/session", `{"user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublishEndpointsQueueWork(t *testing.T) {
	r, svc := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/api/session", `{"user_id":"u1","room":"lobby"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodPost, "/api/publish/audio", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	w = doJSON(r, http.MethodPost, "/api/publish/video", `{"rtp_port":5006}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		tracks := svc.TracksSnapshot()
		return tracks.Audio != nil && tracks.Video != nil
	}, time.Second, 5*time.Millisecond)

	w = doJSON(r, http.MethodGet, "/api/session/tracks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Audio *trackView `json:"audio"`
		Video *trackView `json:"video"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Audio)
	require.NotNil(t, resp.Video)
	assert.Equal(t, "mic", resp.Audio.ID)
	assert.True(t, resp.Video.Enabled)

	w = doJSON(r, http.MethodPut, "/api/tracks/audio/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, svc.TracksSnapshot().Audio.Enabled())

	w = doJSON(r, http.MethodDelete, "/api/publish/audio", "")
	require.Equal(t, http.StatusAccepted, w.Code)
	require.Eventually(t, func() bool {
		return svc.TracksSnapshot().Audio == nil
	}, time.Second, 5*time.Millisecond)
}

func TestPublishRejectsUnknownKind(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPost, "/api/publish/screen", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(r, http.MethodDelete, "/api/publish/screen", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetEnabledWithoutTrackConflicts(t *testing.T) {
	r, _ := newTestRouter(t)
	w := doJSON(r, http.MethodPut, "/api/tracks/audio/enabled", `{"enabled":true}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}
