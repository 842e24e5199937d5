// Package signalws is the websocket signaling client used by the rtc
// adapter to carry join/offer/answer/candidate envelopes to the
// signaling server.
package signalws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrBackpressure = errors.New("signaling backpressure")
	ErrClosed       = errors.New("signaling connection closed")
)

const writeDeadline = 5 * time.Second

// Client is one signaling connection. Owned by the rtc adapter; the
// adapter must Close() it.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	log  zerolog.Logger

	mu       sync.RWMutex
	closed   bool
	handlers map[string]func(Envelope)
	onClosed func()
}

// Dial connects to the signaling server. Start must be called to run
// the pumps.
func Dial(ctx context.Context, url string, log zerolog.Logger) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Client{
		conn:     conn,
		send:     make(chan []byte, 32),
		handlers: make(map[string]func(Envelope)),
		log:      log.With().Str("module", "signalws").Logger(),
	}, nil
}

// On registers a handler for an envelope type. Register everything
// before Start; later registrations race the read pump.
func (c *Client) On(msgType string, fn func(Envelope)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = fn
}

// OnClosed sets a callback fired once when the connection dies.
func (c *Client) OnClosed(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

func (c *Client) Start(ctx context.Context) {
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Send marshals payload into an envelope and queues it. Never blocks;
// a full send buffer is an error.
func (c *Client) Send(msgType string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}
	env := Envelope{Type: msgType, ID: uuid.NewString(), Payload: raw}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onClosed := c.onClosed
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()

	if onClosed != nil {
		onClosed()
	}
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.log.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug().Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.log.Warn().Err(err).Msg("readPump read error")
				return
			}
			c.dispatch(data)
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.log.Error().Err(err).Msg("bad signaling json")
		return
	}
	c.mu.RLock()
	fn, ok := c.handlers[env.Type]
	c.mu.RUnlock()
	if !ok {
		c.log.Warn().Str("type", env.Type).Msg("unknown signaling envelope")
		return
	}
	fn(env)
}
