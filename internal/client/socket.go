package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// closeGrace bounds how long Close waits to deliver the close frame.
const closeGrace = time.Second

// SocketCallbacks defines callbacks for socket events.
// All callbacks are optional and run on the socket's read goroutine.
type SocketCallbacks struct {
	// OnFrame is called for every frame that parses as JSON.
	OnFrame func(Frame)

	// OnMalformed is called for frames that are not valid JSON.
	OnMalformed func(raw []byte, err error)

	// OnClosed is called exactly once when the connection ends, whether it
	// was closed locally, by the server, or by a transport error. err is nil
	// for a clean close.
	OnClosed func(err error)
}

// Socket is an open WebSocket connection to a session endpoint.
// It is safe for concurrent use.
type Socket struct {
	sessionID string
	conn      *websocket.Conn
	callbacks SocketCallbacks
	logger    *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	closing bool

	done chan struct{}
}

// SocketURL builds ws(s)://host/ws/{sessionID}, with the model as a query
// parameter when set.
func (c *Client) SocketURL(sessionID, model string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = "/ws/" + sessionID
	u.RawPath = "/ws/" + url.PathEscape(sessionID)

	q := url.Values{}
	if model != "" {
		q.Set("model", model)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Dial opens a socket for sessionID and starts reading frames.
func (c *Client) Dial(ctx context.Context, sessionID, model string, callbacks SocketCallbacks) (*Socket, error) {
	wsURL, err := c.SocketURL(sessionID, model)
	if err != nil {
		return nil, &APIError{Op: "socket", Err: err}
	}

	dialer := *websocket.DefaultDialer
	conn, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Op: "socket", StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &APIError{Op: "socket", Err: err}
	}

	s := &Socket{
		sessionID: sessionID,
		conn:      conn,
		callbacks: callbacks,
		logger:    c.logger.With("session_id", sessionID),
		done:      make(chan struct{}),
	}
	s.logger.Debug("socket connected", "url", wsURL)

	go s.readLoop()

	return s, nil
}

// SessionID returns the session the socket was opened for.
func (s *Socket) SessionID() string {
	return s.sessionID
}

// Send writes an outbound frame.
func (s *Socket) Send(frame OutboundFrame) error {
	s.mu.Lock()
	closing := s.closing
	s.mu.Unlock()
	if closing {
		return &APIError{Op: "socket", Message: "connection closed"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteJSON(frame); err != nil {
		return &APIError{Op: "socket", Err: err}
	}
	return nil
}

// Close starts closing the connection and returns immediately. OnClosed
// fires once the read loop has observed the close; Done is closed after it.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	s.mu.Unlock()

	s.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
	s.writeMu.Unlock()

	// Unblock the reader if the peer never answers the close frame.
	return s.conn.SetReadDeadline(time.Now().Add(closeGrace))
}

// Done is closed after OnClosed has returned.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// readLoop reads frames until the connection ends.
func (s *Socket) readLoop() {
	var closeErr error
	defer func() {
		_ = s.conn.Close()
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		if s.callbacks.OnClosed != nil {
			s.callbacks.OnClosed(closeErr)
		}
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			closeErr = s.classifyReadError(err)
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Debug("malformed frame", "error", err, "size", len(data))
			if s.callbacks.OnMalformed != nil {
				s.callbacks.OnMalformed(data, err)
			}
			continue
		}
		if s.callbacks.OnFrame != nil {
			s.callbacks.OnFrame(frame)
		}
	}
}

// classifyReadError maps the read error that ended the loop to the error
// reported through OnClosed: nil for normal closes and for local closes.
func (s *Socket) classifyReadError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		s.logger.Debug("socket closed", "reason", err)
		return nil
	}

	s.mu.Lock()
	local := s.closing
	s.mu.Unlock()
	if local {
		s.logger.Debug("socket closed locally", "reason", err)
		return nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		s.logger.Info("socket closed by server", "code", closeErr.Code, "text", closeErr.Text)
		return &APIError{Op: "socket", Message: fmt.Sprintf("closed by server (%d)", closeErr.Code), Err: err}
	}
	s.logger.Warn("socket read failed", "error", err)
	return &APIError{Op: "socket", Err: err}
}
