package api

import (
	"time"

	"github.com/remdbg/remdbg/pkg/wire"
	"github.com/remdbg/remdbg/viewer/internal/store"
)

// PairResponse is one expression/value pair of a value dump.
type PairResponse struct {
	Expr  string `json:"expr"`
	Value string `json:"value"`
}

// MessageResponse is one entry in GET /api/v1/messages and the data of a
// "message" WebSocket event.
type MessageResponse struct {
	ID          uint64         `json:"id"`
	Session     string         `json:"session"`
	ReceivedAt  string         `json:"received_at"` // RFC3339
	TimestampMs uint64         `json:"timestamp_ms"`
	Thread      string         `json:"thread"`
	File        string         `json:"file"`
	Line        uint32         `json:"line"`
	Kind        string         `json:"kind"`
	Text        string         `json:"text,omitempty"`
	Values      []PairResponse `json:"values,omitempty"`
}

// SessionResponse is the data of "connected" and "disconnected" events.
type SessionResponse struct {
	Session string `json:"session"`
	Peer    string `json:"peer,omitempty"`
	Error   string `json:"error,omitempty"`
	At      string `json:"at"` // RFC3339
}

// StatusResponse is the payload for GET /api/v1/status.
type StatusResponse struct {
	Mode           string `json:"mode"`
	Target         string `json:"target"`
	Connected      bool   `json:"connected"`
	Session        string `json:"session,omitempty"`
	Peer           string `json:"peer,omitempty"`
	ConnectedSince string `json:"connected_since,omitempty"` // RFC3339
	Sessions       int    `json:"sessions"`
	Received       uint64 `json:"received"`
	Stored         int    `json:"stored"`
	LastError      string `json:"last_error,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}

// ToMessageResponse maps a store.Entry to its JSON representation.
func ToMessageResponse(e store.Entry) MessageResponse {
	m := e.Message
	resp := MessageResponse{
		ID:          e.ID,
		Session:     e.Session,
		ReceivedAt:  e.ReceivedAt.UTC().Format(time.RFC3339Nano),
		TimestampMs: m.Timestamp,
		Thread:      m.ThreadID,
		File:        m.Location.File,
		Line:        m.Location.Line,
		Kind:        m.Kind().String(),
	}
	switch p := m.Payload.(type) {
	case wire.Text:
		resp.Text = string(p)
	case wire.Values:
		resp.Values = make([]PairResponse, 0, len(p))
		for _, pair := range p {
			resp.Values = append(resp.Values, PairResponse{Expr: pair.Expr, Value: pair.Value})
		}
	}
	return resp
}
