package client

import (
	"bytes"
	"encoding/json"
	"time"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string `json:"message"`
	// SessionID is null on the first turn; the server assigns one.
	SessionID     *string `json:"session_id"`
	CheckContinue bool    `json:"check_continue"`
}

// ContinueRequest is the body of POST /api/chat/continue.
type ContinueRequest struct {
	SessionID     string `json:"session_id"`
	CheckContinue bool   `json:"check_continue"`
}

// ChatResponse is returned by both chat endpoints.
type ChatResponse struct {
	Response        string          `json:"response"`
	SessionID       string          `json:"session_id"`
	Timestamp       Timestamp       `json:"timestamp"`
	Thoughts        string          `json:"thoughts,omitempty"`
	ShouldContinue  bool            `json:"should_continue"`
	DetectionResult json.RawMessage `json:"detection_result,omitempty"`
}

// SessionInfo describes a server-side session.
type SessionInfo struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      Timestamp `json:"created_at"`
	MessageCount   int       `json:"message_count"`
	ToolsAvailable bool      `json:"tools_available"`
}

// Health is the body of GET /health.
type Health struct {
	Status    string    `json:"status"`
	Timestamp Timestamp `json:"timestamp"`
}

// Frame types sent by the server over the socket.
const (
	FrameMessage      = "message"
	FrameContinuation = "continuation"
	FrameError        = "error"
)

// Frame is an inbound socket frame.
type Frame struct {
	Type           string    `json:"type"`
	Response       string    `json:"response,omitempty"`
	Message        string    `json:"message,omitempty"`
	Timestamp      Timestamp `json:"timestamp"`
	Thoughts       string    `json:"thoughts,omitempty"`
	SessionID      string    `json:"session_id,omitempty"`
	ShouldContinue bool      `json:"should_continue,omitempty"`
}

// OutboundFrame is what the client sends over the socket.
type OutboundFrame struct {
	Message       string `json:"message"`
	CheckContinue bool   `json:"check_continue"`
}

// timestampLayouts are tried in order. The backend emits naive ISO-8601
// timestamps (no zone), which time.Time's own decoder rejects.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// Timestamp is a lenient time decoder. Values that cannot be parsed leave
// the zero time instead of failing the whole response.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	t.Time = time.Time{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// Or returns t, or fallback when t is unset.
func (t Timestamp) Or(fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.Time
}
