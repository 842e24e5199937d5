package signalws

import "encoding/json"

// Envelope is the wire frame of the signaling protocol. Payload shape
// depends on Type.
type Envelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Outbound payloads.

type JoinPayload struct {
	Channel string `json:"channel"`
	UserID  string `json:"user_id"`
	AppID   string `json:"app_id,omitempty"`
}

type SDPPayload struct {
	SDP  string `json:"sdp"`
	Kind string `json:"kind"` // "offer" or "answer"
}

type CandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

type SubscribePayload struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
}

// Inbound payloads.

type JoinedPayload struct {
	Channel string `json:"channel"`
}

type UserMediaPayload struct {
	UserID string `json:"user_id"`
	Kind   string `json:"kind"`
	Audio  bool   `json:"audio"`
	Video  bool   `json:"video"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
