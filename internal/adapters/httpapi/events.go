package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/avroom/roomlink/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type stateChangeView struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
	Error    string `json:"error,omitempty"`
}

type remoteEventView struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

type reconnectionView struct {
	Attempt        int    `json:"attempt"`
	MaxAttempts    int    `json:"max_attempts"`
	NextRetryDelay string `json:"next_retry_delay"`
}

type errorView struct {
	Kind        string `json:"kind"`
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// handleEvents streams session events to one websocket subscriber. Slow
// consumers lose events rather than stalling the session.
func (rt *Router) handleEvents(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "httpapi").Msg("ws upgrade")
		return
	}

	send := make(chan eventEnvelope, 32)
	push := func(ev eventEnvelope) {
		select {
		case send <- ev:
		default:
			log.Warn().Str("module", "httpapi").Str("type", ev.Type).Msg("event feed backpressure, dropping")
		}
	}

	unsubs := []func(){
		rt.svc.OnStateChange(func(ch session.StateChange) {
			v := stateChangeView{Previous: ch.Previous.String(), Current: ch.Current.String()}
			if ch.Err != nil {
				v.Error = ch.Err.Message
			}
			push(eventEnvelope{Type: "state", Payload: v})
		}),
		rt.svc.OnRemoteUserPublished(func(ev session.RemoteEvent) {
			push(eventEnvelope{Type: "remote-published", Payload: remoteEventView{UserID: string(ev.User.ID()), Kind: string(ev.Kind)}})
		}),
		rt.svc.OnRemoteUserUnpublished(func(ev session.RemoteEvent) {
			push(eventEnvelope{Type: "remote-unpublished", Payload: remoteEventView{UserID: string(ev.User.ID()), Kind: string(ev.Kind)}})
		}),
		rt.svc.OnReconnection(func(ev session.ReconnectionEvent) {
			push(eventEnvelope{Type: "reconnection", Payload: reconnectionView{
				Attempt:        ev.Attempt,
				MaxAttempts:    ev.MaxAttempts,
				NextRetryDelay: ev.NextRetryDelay.String(),
			}})
		}),
		rt.svc.OnError(func(serr *session.ServiceError) {
			push(eventEnvelope{Type: "error", Payload: errorView{
				Kind:        serr.Kind.String(),
				Code:        serr.Code,
				Message:     serr.Message,
				Recoverable: serr.Recoverable,
			}})
		}),
	}

	done := make(chan struct{})

	// Reader only to detect the peer going away.
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer func() {
			for _, u := range unsubs {
				u()
			}
			_ = ws.Close()
		}()
		for {
			select {
			case <-done:
				return
			case ev := <-send:
				b, err := json.Marshal(ev)
				if err != nil {
					log.Error().Err(err).Str("module", "httpapi").Msg("marshal event")
					continue
				}
				if err := ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
					return
				}
				if err := ws.WriteMessage(websocket.TextMessage, b); err != nil {
					return
				}
			}
		}
	}()
}
