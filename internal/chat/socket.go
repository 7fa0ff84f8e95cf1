package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/decode"
	"github.com/inercia/analyst/internal/logging"
)

const (
	connectedText    = "Connected to Data Analysis Assistant"
	disconnectedText = "Disconnected from Data Analysis Assistant"
	socketErrorText  = "WebSocket connection error"
)

// State is the lifecycle state of a SocketManager.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Connected reports whether messages can be sent.
func (s State) Connected() bool {
	return s == StateOpen
}

// Transport is an open socket as seen by the manager.
type Transport interface {
	Send(client.OutboundFrame) error
	// Close starts closing; the transport reports completion through its
	// OnClosed callback and then closes Done.
	Close() error
	Done() <-chan struct{}
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, sessionID, model string, callbacks client.SocketCallbacks) (Transport, error)
}

// ClientDialer dials through a client.Client.
type ClientDialer struct {
	Client *client.Client
}

// Dial implements Dialer.
func (d ClientDialer) Dial(ctx context.Context, sessionID, model string, callbacks client.SocketCallbacks) (Transport, error) {
	s, err := d.Client.Dial(ctx, sessionID, model, callbacks)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewSessionID returns a fresh client-side session token.
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// SocketOption configures a SocketManager.
type SocketOption func(*SocketManager)

// WithSocketDecoder sets the response decoder.
func WithSocketDecoder(d *decode.Decoder) SocketOption {
	return func(m *SocketManager) {
		m.decoder = d
	}
}

// WithSocketLogger sets the logger.
func WithSocketLogger(l *slog.Logger) SocketOption {
	return func(m *SocketManager) {
		m.logger = l
	}
}

// WithModel sets the model requested on connect.
func WithModel(model string) SocketOption {
	return func(m *SocketManager) {
		m.model = model
	}
}

// WithSocketCheckContinue sets the check_continue flag of outbound frames.
func WithSocketCheckContinue(v bool) SocketOption {
	return func(m *SocketManager) {
		m.checkContinue = v
	}
}

// WithSessionIDFunc replaces the session token generator.
func WithSessionIDFunc(fn func() string) SocketOption {
	return func(m *SocketManager) {
		m.newSessionID = fn
	}
}

// WithSocketObserver registers an observer.
func WithSocketObserver(o Observer) SocketOption {
	return func(m *SocketManager) {
		m.observers.add(o)
	}
}

// SocketManager owns one WebSocket session at a time.
//
// States move idle → connecting → open → closed. The transport's close
// callback is the only place that moves the manager to closed, so local
// disconnects, server closes and transport errors share one code path.
//
// It is safe for concurrent use.
type SocketManager struct {
	dialer        Dialer
	conv          *conversation.Conversation
	decoder       *decode.Decoder
	logger        *slog.Logger
	checkContinue bool
	newSessionID  func() string
	observers     observers

	// lifecycle serializes Connect, Disconnect and SetModel.
	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	sessionID string
	model     string
	transport Transport
	// generation identifies the current transport; callbacks from older
	// transports are ignored.
	generation uint64
	// firstFrame is closed when the current transport delivers its first
	// frame, closes, or fails to dial.
	firstFrame     chan struct{}
	firstFrameSeen bool
}

// NewSocketManager creates a manager writing into conv.
func NewSocketManager(dialer Dialer, conv *conversation.Conversation, opts ...SocketOption) *SocketManager {
	m := &SocketManager{
		dialer:        dialer,
		conv:          conv,
		checkContinue: true,
		newSessionID:  NewSessionID,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.decoder == nil {
		m.decoder = &decode.Decoder{}
	}
	if m.logger == nil {
		m.logger = logging.Socket()
	}
	m.firstFrame = make(chan struct{})
	m.markFirstFrameLocked()
	return m
}

// AddObserver registers an observer.
func (m *SocketManager) AddObserver(o Observer) {
	m.observers.add(o)
}

// State returns the connection state.
func (m *SocketManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionID returns the id of the current or last session.
func (m *SocketManager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Model returns the model requested on connect.
func (m *SocketManager) Model() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// FirstFrame returns a channel that is closed once the current session has
// delivered its first inbound frame, has closed, or has failed to dial. The
// server may greet a new session; callers wait on this before sending so
// the greeting is not taken as the reply. Before any Connect the channel is
// already closed.
func (m *SocketManager) FirstFrame() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstFrame
}

func (m *SocketManager) markFirstFrameLocked() {
	if !m.firstFrameSeen {
		m.firstFrameSeen = true
		close(m.firstFrame)
	}
}

// markFirstFrame records inbound traffic for generation gen.
func (m *SocketManager) markFirstFrame(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.markFirstFrameLocked()
	}
}

// Conversation returns the conversation the manager writes to.
func (m *SocketManager) Conversation() *conversation.Conversation {
	return m.conv
}

// Connect opens a new session. Any existing connection is closed first and
// its close is waited for, so the old session is released before the new
// one is dialed.
func (m *SocketManager) Connect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.connectLocked(ctx)
}

func (m *SocketManager) connectLocked(ctx context.Context) error {
	if err := m.disconnectLocked(ctx); err != nil {
		return err
	}

	sessionID := m.newSessionID()
	ready := make(chan struct{})

	m.mu.Lock()
	m.generation++
	m.firstFrame = make(chan struct{})
	m.firstFrameSeen = false
	gen := m.generation
	m.state = StateConnecting
	m.sessionID = sessionID
	model := m.model
	m.mu.Unlock()

	m.conv.SetBanner("")
	m.observers.state(StateConnecting)

	logger := logging.WithSessionContext(m.logger, sessionID, "socket", model)
	logger.Debug("connecting")

	transport, err := m.dialer.Dial(ctx, sessionID, model, m.callbacks(gen, ready))
	if err != nil {
		logger.Warn("connect failed", "error", err)
		m.mu.Lock()
		stale := gen != m.generation
		if !stale {
			m.state = StateClosed
			m.markFirstFrameLocked()
		}
		m.mu.Unlock()
		if !stale {
			msg := conversation.ErrorMessage("Failed to create WebSocket connection: "+client.DisplayError(err), time.Now())
			m.conv.Append(msg)
			m.conv.SetBanner("Failed to create WebSocket connection")
			m.conv.SetPending(false)
			m.observers.state(StateClosed)
			m.observers.message(msg)
		}
		return fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	m.transport = transport
	m.state = StateOpen
	m.mu.Unlock()

	msg := conversation.SystemMessage(connectedText, time.Now())
	m.conv.Append(msg)
	logger.Info("connected")

	// Frames are held until the connected message is in the log.
	close(ready)

	m.observers.state(StateOpen)
	m.observers.message(msg)
	return nil
}

// Disconnect closes the current connection, if any, and waits until the
// close has been processed.
func (m *SocketManager) Disconnect(ctx context.Context) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.disconnectLocked(ctx)
}

func (m *SocketManager) disconnectLocked(ctx context.Context) error {
	m.mu.Lock()
	transport := m.transport
	m.mu.Unlock()

	if transport == nil {
		return nil
	}
	if err := transport.Close(); err != nil {
		m.logger.Debug("close returned error", "error", err)
	}

	select {
	case <-transport.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("disconnect: %w", ctx.Err())
	}
}

// Close disconnects; it is an alias of Disconnect for owners that manage
// the manager as a resource.
func (m *SocketManager) Close(ctx context.Context) error {
	return m.Disconnect(ctx)
}

// SetModel changes the model. When a session is open it is closed, the
// close is acknowledged, and a new session is opened with the new model.
func (m *SocketManager) SetModel(ctx context.Context, model string) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	changed := model != m.model
	m.model = model
	reconnect := changed && (m.state == StateOpen || m.state == StateConnecting)
	m.mu.Unlock()

	if !reconnect {
		return nil
	}
	m.logger.Info("model changed, reconnecting", "model", model)
	return m.connectLocked(ctx)
}

// Send transmits a user turn. It is a no-op returning ErrNotConnected
// unless the socket is open, ErrEmptyMessage for blank text and ErrPending
// while a reply is outstanding.
func (m *SocketManager) Send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var ev events

	m.mu.Lock()
	if m.state != StateOpen || m.transport == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.conv.Pending() {
		m.mu.Unlock()
		return ErrPending
	}
	transport := m.transport
	checkContinue := m.checkContinue

	msg := conversation.UserMessage(text, time.Now())
	m.conv.Append(msg)
	ev.addMessage(msg)
	m.conv.SetBanner("")
	m.conv.SetPending(true)
	ev.setPending(true)
	m.mu.Unlock()

	ev.deliver(&m.observers)

	err := transport.Send(client.OutboundFrame{Message: text, CheckContinue: checkContinue})
	if err != nil {
		m.logger.Warn("send failed", "error", err)
		errMsg := conversation.Message{
			Role:      conversation.RoleError,
			Content:   "Error sending message: " + client.DisplayError(err),
			Timestamp: time.Now(),
		}
		m.conv.Append(errMsg)
		m.conv.SetPending(false)
		m.observers.message(errMsg)
		m.observers.pending(false)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Clear empties the conversation and forces the pending indicator off. The
// connection is left as it is.
func (m *SocketManager) Clear() {
	m.conv.Clear()
	m.observers.pending(false)
}

// callbacks binds transport events to generation gen. Events wait for ready
// so nothing is processed before the connected message.
func (m *SocketManager) callbacks(gen uint64, ready <-chan struct{}) client.SocketCallbacks {
	return client.SocketCallbacks{
		OnFrame: func(f client.Frame) {
			<-ready
			if !m.current(gen) {
				return
			}
			m.handleFrame(f)
			m.markFirstFrame(gen)
		},
		OnMalformed: func(raw []byte, err error) {
			<-ready
			if !m.current(gen) {
				return
			}
			m.logger.Debug("dropping malformed frame", "error", err)
			if m.conv.SetPending(false) {
				m.observers.pending(false)
			}
			m.markFirstFrame(gen)
		},
		OnClosed: func(err error) {
			<-ready
			m.handleClosed(gen, err)
		},
	}
}

func (m *SocketManager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen == m.generation
}

func (m *SocketManager) handleFrame(f client.Frame) {
	var ev events
	ts := f.Timestamp.Or(time.Now())

	switch f.Type {
	case client.FrameMessage, client.FrameContinuation:
		if m.conv.SetPending(false) {
			ev.setPending(false)
		}
		msg := conversation.AssistantMessage(m.decoder.Decode(f.Response), f.Type, ts)
		m.conv.Append(msg)
		ev.addMessage(msg)

		if m.conv.Thoughts().Set(f.Thoughts) {
			ev.setThought(f.Thoughts)
		}
		if f.SessionID != "" {
			m.mu.Lock()
			m.sessionID = f.SessionID
			m.mu.Unlock()
		}

	case client.FrameError:
		if m.conv.SetPending(false) {
			ev.setPending(false)
		}
		apiErr := &client.APIError{Op: "socket", Message: f.Message}
		msg := conversation.ErrorMessage(apiErr.Display(), ts)
		m.conv.Append(msg)
		m.conv.SetBanner(msg.Content)
		ev.addMessage(msg)

	default:
		m.logger.Debug("ignoring frame", "type", f.Type)
		return
	}

	ev.deliver(&m.observers)
}

// handleClosed is the single transition into StateClosed.
func (m *SocketManager) handleClosed(gen uint64, err error) {
	var ev events

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state = StateClosed
	m.transport = nil
	m.markFirstFrameLocked()
	sessionID := m.sessionID
	m.mu.Unlock()
	ev.setState(StateClosed)

	if m.conv.SetPending(false) {
		ev.setPending(false)
	}
	if err != nil {
		m.logger.Warn("connection lost", "session_id", sessionID, "error", err)
		m.conv.SetBanner(socketErrorText)
		msg := conversation.ErrorMessage(client.DisplayError(err), time.Now())
		m.conv.Append(msg)
		ev.addMessage(msg)
	} else {
		m.logger.Info("disconnected", "session_id", sessionID)
	}

	msg := conversation.SystemMessage(disconnectedText, time.Now())
	m.conv.Append(msg)
	ev.addMessage(msg)

	ev.deliver(&m.observers)
}
