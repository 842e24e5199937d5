package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avroom/roomlink/internal/core"
	"github.com/avroom/roomlink/internal/domain"
)

// --- virtual clock ---

type fakeTimer struct {
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
	clk     *fakeClock
}

func (t *fakeTimer) Stop() bool {
	t.clk.mu.Lock()
	defer t.clk.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) core.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{when: c.now.Add(d), fn: fn, clk: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves virtual time forward, firing due timers synchronously
// in order. Callbacks may schedule further timers within the window.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		var next *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.when.After(target) {
				continue
			}
			if next == nil || t.when.Before(next.when) {
				next = t
			}
		}
		if next == nil {
			break
		}
		next.fired = true
		c.now = next.when
		c.mu.Unlock()
		next.fn()
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// --- transport fakes ---

type fakeClient struct {
	mu           sync.Mutex
	joinErrs     []error
	publishErrs  []error
	unpublishErr error
	autoConnect  bool

	joinCalls    int
	publishCalls int
	leaveCalls   int
	published    []core.LocalTrack
	unpublished  []core.LocalTrack
	subscribed   []string
	channel      string

	onConn  func(core.ConnSignal)
	onPub   func(core.RemoteUser, core.TrackKind)
	onUnpub func(core.RemoteUser, core.TrackKind)
	onExc   func(error)
}

func (c *fakeClient) Join(ctx context.Context, channel string, uid domain.UserID) error {
	c.mu.Lock()
	c.joinCalls++
	c.channel = channel
	var err error
	if len(c.joinErrs) > 0 {
		err = c.joinErrs[0]
		c.joinErrs = c.joinErrs[1:]
	}
	auto := c.autoConnect
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if auto {
		c.EmitConn(core.SignalConnected)
	}
	return nil
}

func (c *fakeClient) Publish(ctx context.Context, track core.LocalTrack) error {
	c.mu.Lock()
	c.publishCalls++
	var err error
	if len(c.publishErrs) > 0 {
		err = c.publishErrs[0]
		c.publishErrs = c.publishErrs[1:]
	}
	if err == nil {
		c.published = append(c.published, track)
	}
	c.mu.Unlock()
	return err
}

func (c *fakeClient) Unpublish(ctx context.Context, track core.LocalTrack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unpublished = append(c.unpublished, track)
	return c.unpublishErr
}

func (c *fakeClient) Subscribe(ctx context.Context, user core.RemoteUser, kind core.TrackKind) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = append(c.subscribed, fmt.Sprintf("%s/%s", user.ID(), kind))
	return nil
}

func (c *fakeClient) Leave(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leaveCalls++
	return nil
}

func (c *fakeClient) OnConnSignal(fn func(core.ConnSignal)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConn = fn
}

func (c *fakeClient) OnUserPublished(fn func(core.RemoteUser, core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPub = fn
}

func (c *fakeClient) OnUserUnpublished(fn func(core.RemoteUser, core.TrackKind)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnpub = fn
}

func (c *fakeClient) OnException(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExc = fn
}

func (c *fakeClient) EmitConn(sig core.ConnSignal) {
	c.mu.Lock()
	fn := c.onConn
	c.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}

func (c *fakeClient) EmitUserPublished(user core.RemoteUser, kind core.TrackKind) {
	c.mu.Lock()
	fn := c.onPub
	c.mu.Unlock()
	if fn != nil {
		fn(user, kind)
	}
}

func (c *fakeClient) EmitException(err error) {
	c.mu.Lock()
	fn := c.onExc
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (c *fakeClient) PublishCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publishCalls
}

type fakeFactory struct {
	mu      sync.Mutex
	clients []*fakeClient
	make    func() *fakeClient
	created int
}

func (f *fakeFactory) CreateClient(mode, codec string) (core.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if len(f.clients) > 0 {
		c := f.clients[0]
		f.clients = f.clients[1:]
		return c, nil
	}
	if f.make != nil {
		return f.make(), nil
	}
	return &fakeClient{autoConnect: true}, nil
}

func (f *fakeFactory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// --- track fakes ---

type fakeSource struct {
	id   string
	kind core.TrackKind
}

func (s *fakeSource) ID() string           { return s.id }
func (s *fakeSource) Kind() core.TrackKind { return s.kind }

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    core.TrackKind
	enabled bool
	stopped bool
}

func (t *fakeTrack) ID() string           { return t.id }
func (t *fakeTrack) Kind() core.TrackKind { return t.kind }

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTrack) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeProvider struct {
	mu      sync.Mutex
	micErr  error
	wrapErr error
	serial  int
	created []*fakeTrack
}

func (p *fakeProvider) newTrack(kind core.TrackKind) *fakeTrack {
	p.serial++
	t := &fakeTrack{id: fmt.Sprintf("%s-%d", kind, p.serial), kind: kind, enabled: true}
	p.created = append(p.created, t)
	return t
}

func (p *fakeProvider) WrapVideo(src core.MediaSource) (core.LocalTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wrapErr != nil {
		return nil, p.wrapErr
	}
	return p.newTrack(core.TrackVideo), nil
}

func (p *fakeProvider) AcquireMicrophone() (core.LocalTrack, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.micErr != nil {
		return nil, p.micErr
	}
	return p.newTrack(core.TrackAudio), nil
}

type fakeRemote struct {
	id    domain.UserID
	audio bool
	video bool
}

func (u fakeRemote) ID() domain.UserID { return u.id }
func (u fakeRemote) HasAudio() bool    { return u.audio }
func (u fakeRemote) HasVideo() bool    { return u.video }

// errRecorder collects emitted errors across goroutines.
type errRecorder struct {
	mu   sync.Mutex
	errs []*ServiceError
}

func (r *errRecorder) add(serr *ServiceError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, serr)
}

func (r *errRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

func (r *errRecorder) at(i int) *ServiceError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errs[i]
}

// --- wiring helper ---

func newTestService(factory *fakeFactory, provider *fakeProvider, clk *fakeClock) *Service {
	return NewService(factory, provider, Options{
		ChannelPrefix: "room-",
	}, clk, zerolog.Nop())
}
