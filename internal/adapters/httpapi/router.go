// Package httpapi is the local control surface of the session service:
// lifecycle and publish calls over REST, events over a websocket feed.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
	"github.com/avroom/roomlink/internal/session"
)

// VideoSourceOpener opens a caller-side raw video source for a publish
// request. Wired to the rtc adapter in main.
type VideoSourceOpener func(port int) (core.MediaSource, error)

type Router struct {
	svc       *session.Service
	openVideo VideoSourceOpener
}

func SetupRouter(mode string, svc *session.Service, openVideo VideoSourceOpener) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	rt := &Router{svc: svc, openVideo: openVideo}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.POST("/session", rt.handleInitialize)
	api.DELETE("/session", rt.handleLeave)
	api.GET("/session/state", rt.handleState)
	api.GET("/session/tracks", rt.handleTracks)
	api.POST("/publish/:kind", rt.handlePublish)
	api.DELETE("/publish/:kind", rt.handleUnpublish)
	api.PUT("/tracks/:kind/enabled", rt.handleSetEnabled)
	api.GET("/ws/events", rt.handleEvents)

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}

type initializeRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Room   string `json:"room" binding:"required"`
}

func (rt *Router) handleInitialize(c *gin.Context) {
	var req initializeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := rt.svc.Initialize(c.Request.Context(), domain.UserID(req.UserID), domain.RoomID(req.Room)); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "state": rt.svc.State().String()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": rt.svc.State().String()})
}

func (rt *Router) handleLeave(c *gin.Context) {
	if err := rt.svc.Leave(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": rt.svc.State().String()})
}

func (rt *Router) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   rt.svc.State().String(),
		"pending": rt.svc.PendingOperations(),
	})
}

type trackView struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

func viewOf(t core.LocalTrack) *trackView {
	if t == nil {
		return nil
	}
	return &trackView{ID: t.ID(), Enabled: t.Enabled()}
}

func (rt *Router) handleTracks(c *gin.Context) {
	tracks := rt.svc.TracksSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"audio": viewOf(tracks.Audio),
		"video": viewOf(tracks.Video),
	})
}

type publishVideoRequest struct {
	RTPPort int `json:"rtp_port" binding:"required"`
}

func (rt *Router) handlePublish(c *gin.Context) {
	switch core.TrackKind(c.Param("kind")) {
	case core.TrackAudio:
		if err := rt.svc.PublishAudio(); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	case core.TrackVideo:
		var req publishVideoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		src, err := rt.openVideo(req.RTPPort)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := rt.svc.PublishVideo(src); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown track kind"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (rt *Router) handleUnpublish(c *gin.Context) {
	var err error
	switch core.TrackKind(c.Param("kind")) {
	case core.TrackAudio:
		err = rt.svc.UnpublishAudio()
	case core.TrackVideo:
		err = rt.svc.UnpublishVideo()
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown track kind"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

type setEnabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (rt *Router) handleSetEnabled(c *gin.Context) {
	var req setEnabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var err error
	switch core.TrackKind(c.Param("kind")) {
	case core.TrackAudio:
		err = rt.svc.SetAudioEnabled(*req.Enabled)
	case core.TrackVideo:
		err = rt.svc.SetVideoEnabled(*req.Enabled)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown track kind"})
		return
	}
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
