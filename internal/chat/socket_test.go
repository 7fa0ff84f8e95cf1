package chat

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/decode"
)

// fakeTransport records outbound frames and lets tests inject events.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []client.OutboundFrame
	sendErr error
	cb      client.SocketCallbacks
	done    chan struct{}
	once    sync.Once
}

func (t *fakeTransport) Send(f client.OutboundFrame) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, f)
	return nil
}

func (t *fakeTransport) Close() error {
	t.finish(nil)
	return nil
}

func (t *fakeTransport) Done() <-chan struct{} {
	return t.done
}

func (t *fakeTransport) finish(err error) {
	t.once.Do(func() {
		go func() {
			if t.cb.OnClosed != nil {
				t.cb.OnClosed(err)
			}
			close(t.done)
		}()
	})
}

func (t *fakeTransport) frames() []client.OutboundFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]client.OutboundFrame(nil), t.sent...)
}

func (t *fakeTransport) isDone() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

type dialRecord struct {
	sessionID    string
	model        string
	previousDone bool
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	dials      []dialRecord
	err        error
}

func (d *fakeDialer) Dial(_ context.Context, sessionID, model string, cb client.SocketCallbacks) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec := dialRecord{sessionID: sessionID, model: model, previousDone: true}
	if n := len(d.transports); n > 0 {
		rec.previousDone = d.transports[n-1].isDone()
	}
	d.dials = append(d.dials, rec)

	if d.err != nil {
		return nil, d.err
	}
	t := &fakeTransport{cb: cb, done: make(chan struct{})}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[len(d.transports)-1]
}

func newTestManager(t *testing.T, opts ...SocketOption) (*SocketManager, *fakeDialer, *conversation.Conversation) {
	t.Helper()
	conv := conversation.New()
	t.Cleanup(conv.Close)
	d := &fakeDialer{}
	opts = append([]SocketOption{WithSocketDecoder(decode.New("http://localhost:8000/image"))}, opts...)
	return NewSocketManager(d, conv, opts...), d, conv
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSocketManager_SendWhenNotOpenIsNoop(t *testing.T) {
	m, _, conv := newTestManager(t)

	if err := m.Send(context.Background(), "hello"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send in idle state = %v, want ErrNotConnected", err)
	}
	if conv.Len() != 0 {
		t.Errorf("message log changed: %d messages", conv.Len())
	}
	if conv.Pending() {
		t.Error("pending should stay false")
	}
}

func TestSocketManager_ConnectAppendsSystemMessage(t *testing.T) {
	var states []State
	var mu sync.Mutex
	m, d, conv := newTestManager(t, WithSocketObserver(ObserverFuncs{
		StateChange: func(s State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		},
	}))

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if m.State() != StateOpen {
		t.Errorf("State = %v, want open", m.State())
	}
	if !strings.HasPrefix(m.SessionID(), "session_") {
		t.Errorf("SessionID = %q", m.SessionID())
	}
	if d.dials[0].sessionID != m.SessionID() {
		t.Errorf("dialed %q, manager has %q", d.dials[0].sessionID, m.SessionID())
	}

	msgs := conv.Messages()
	if len(msgs) != 1 || msgs[0].Role != conversation.RoleSystem || msgs[0].Content != connectedText {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateConnecting || states[1] != StateOpen {
		t.Errorf("state transitions = %v", states)
	}
}

func TestSocketManager_SendAndReceive(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := d.last()

	if err := m.Send(ctx, "plot sales"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !conv.Pending() {
		t.Error("pending should be set after Send")
	}
	sent := tr.frames()
	if len(sent) != 1 || sent[0].Message != "plot sales" || !sent[0].CheckContinue {
		t.Errorf("sent frames = %+v", sent)
	}

	if err := m.Send(ctx, "again"); !errors.Is(err, ErrPending) {
		t.Errorf("second Send = %v, want ErrPending", err)
	}

	tr.cb.OnFrame(client.Frame{
		Type:      client.FrameMessage,
		Response:  "```json\n{\"text\":\"Here is the chart\",\"image_path\":\"/tmp/sales.png\"}\n```",
		Thoughts:  "called plot tool",
		SessionID: "session_server",
	})

	if conv.Pending() {
		t.Error("pending should be cleared by the response")
	}
	last, _ := conv.Last()
	if last.Role != conversation.RoleAssistant || last.Content != "Here is the chart" {
		t.Errorf("unexpected assistant message: %+v", last)
	}
	if last.Image == nil || last.Image.URL != "http://localhost:8000/image/sales.png" {
		t.Errorf("unexpected image: %+v", last.Image)
	}
	if last.Kind != client.FrameMessage {
		t.Errorf("Kind = %q", last.Kind)
	}
	if got := conv.Thoughts().Text(); got != "called plot tool" {
		t.Errorf("thoughts = %q", got)
	}
	if m.SessionID() != "session_server" {
		t.Errorf("session id not adopted: %q", m.SessionID())
	}

	tr.cb.OnFrame(client.Frame{Type: client.FrameContinuation, Response: "more"})
	last, _ = conv.Last()
	if last.Kind != client.FrameContinuation || last.Content != "more" {
		t.Errorf("unexpected continuation: %+v", last)
	}
	if conv.Thoughts().Text() != "called plot tool" {
		t.Error("thoughts without update should be kept")
	}
}

func TestSocketManager_SendRejectsBlank(t *testing.T) {
	m, _, conv := newTestManager(t)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	before := conv.Len()
	if err := m.Send(context.Background(), "   \n"); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("Send blank = %v, want ErrEmptyMessage", err)
	}
	if conv.Len() != before {
		t.Error("blank send should not change the log")
	}
}

func TestSocketManager_ErrorFrame(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send(ctx, "q"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	d.last().cb.OnFrame(client.Frame{Type: client.FrameError, Message: "tool crashed"})

	if conv.Pending() {
		t.Error("error frame should clear pending")
	}
	last, _ := conv.Last()
	if last.Role != conversation.RoleError || last.Content != "Error: tool crashed" {
		t.Errorf("unexpected error message: %+v", last)
	}
	if conv.Banner() == "" {
		t.Error("expected a banner")
	}
}

func TestSocketManager_MalformedFrameClearsPending(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send(ctx, "q"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	before := conv.Len()

	d.last().cb.OnMalformed([]byte("{oops"), errors.New("bad json"))

	if conv.Pending() {
		t.Error("malformed frame should clear pending")
	}
	if conv.Len() != before {
		t.Error("malformed frame should not append messages")
	}
}

func TestSocketManager_UnknownFrameIgnored(t *testing.T) {
	m, d, conv := newTestManager(t)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	before := conv.Len()
	d.last().cb.OnFrame(client.Frame{Type: "heartbeat"})
	if conv.Len() != before {
		t.Error("unknown frame types should be ignored")
	}
}

func TestSocketManager_DisconnectGoesThroughCloseHandler(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send(ctx, "q"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !d.last().isDone() {
		t.Error("Disconnect should wait for the close acknowledgement")
	}
	if m.State() != StateClosed {
		t.Errorf("State = %v, want closed", m.State())
	}
	if conv.Pending() {
		t.Error("pending should be cleared on close")
	}

	disconnects := 0
	for _, msg := range conv.Messages() {
		if msg.Content == disconnectedText {
			disconnects++
		}
	}
	if disconnects != 1 {
		t.Errorf("disconnect messages = %d, want 1", disconnects)
	}

	// Disconnecting again is a no-op.
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("second Disconnect failed: %v", err)
	}
	before := conv.Len()
	if err := m.Send(ctx, "late"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after close = %v, want ErrNotConnected", err)
	}
	if conv.Len() != before {
		t.Error("Send after close should not change the log")
	}
}

func TestSocketManager_RemoteCloseWithError(t *testing.T) {
	m, d, conv := newTestManager(t)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	d.last().finish(&client.APIError{Op: "socket", Message: "connection reset"})
	waitFor(t, func() bool { return m.State() == StateClosed })

	msgs := conv.Messages()
	n := len(msgs)
	if n < 2 {
		t.Fatalf("expected error and disconnect messages, got %+v", msgs)
	}
	if msgs[n-2].Role != conversation.RoleError || msgs[n-2].Content != "Error: connection reset" {
		t.Errorf("unexpected error message: %+v", msgs[n-2])
	}
	if msgs[n-1].Content != disconnectedText {
		t.Errorf("unexpected last message: %+v", msgs[n-1])
	}
	if conv.Banner() != socketErrorText {
		t.Errorf("Banner = %q", conv.Banner())
	}
}

func TestSocketManager_ClearAlwaysEmpties(t *testing.T) {
	ctx := context.Background()

	cases := map[string]func(*SocketManager){
		"idle": func(*SocketManager) {},
		"open and pending": func(m *SocketManager) {
			_ = m.Connect(ctx)
			_ = m.Send(ctx, "q")
		},
		"closed": func(m *SocketManager) {
			_ = m.Connect(ctx)
			_ = m.Disconnect(ctx)
		},
	}

	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			m, _, conv := newTestManager(t)
			conv.Thoughts().Set("t")
			setup(m)

			m.Clear()

			if conv.Len() != 0 {
				t.Errorf("expected empty log, got %d", conv.Len())
			}
			if conv.Pending() {
				t.Error("expected pending=false")
			}
			if conv.Thoughts().HasContent() {
				t.Error("expected thoughts cleared")
			}
		})
	}
}

func TestSocketManager_ClearKeepsConnection(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send(ctx, "q"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	m.Clear()
	if m.State() != StateOpen {
		t.Errorf("State = %v after Clear, want open", m.State())
	}
	if err := m.Send(ctx, "next"); err != nil {
		t.Errorf("Send after Clear should be allowed, got %v", err)
	}
}

func TestSocketManager_ReconnectWaitsForClose(t *testing.T) {
	m, d, _ := newTestManager(t)
	ctx := context.Background()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	first := m.SessionID()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}

	if len(d.dials) != 2 {
		t.Fatalf("dials = %d, want 2", len(d.dials))
	}
	if !d.dials[1].previousDone {
		t.Error("second dial happened before the first socket finished closing")
	}
	if m.SessionID() == first {
		t.Error("reconnect should use a fresh session id")
	}
	if m.State() != StateOpen {
		t.Errorf("State = %v, want open", m.State())
	}
}

func TestSocketManager_SetModelReconnects(t *testing.T) {
	m, d, _ := newTestManager(t, WithModel("model-a"))
	ctx := context.Background()

	// Changing the model while idle only records it.
	if err := m.SetModel(ctx, "model-b"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if len(d.dials) != 0 {
		t.Fatal("SetModel while idle should not dial")
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.SetModel(ctx, "model-b"); err != nil {
		t.Fatalf("SetModel (unchanged) failed: %v", err)
	}
	if len(d.dials) != 1 {
		t.Fatal("unchanged model should not reconnect")
	}

	if err := m.SetModel(ctx, "model-c"); err != nil {
		t.Fatalf("SetModel failed: %v", err)
	}
	if len(d.dials) != 2 {
		t.Fatalf("dials = %d, want 2", len(d.dials))
	}
	if d.dials[1].model != "model-c" || !d.dials[1].previousDone {
		t.Errorf("unexpected reconnect: %+v", d.dials[1])
	}
	if m.Model() != "model-c" {
		t.Errorf("Model = %q", m.Model())
	}
}

func TestSocketManager_DialFailure(t *testing.T) {
	m, d, conv := newTestManager(t)
	d.err = &client.APIError{Op: "socket", Err: errors.New("connection refused")}

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if m.State() != StateClosed {
		t.Errorf("State = %v, want closed", m.State())
	}
	last, ok := conv.Last()
	if !ok || last.Role != conversation.RoleError {
		t.Errorf("expected an error message, got %+v", last)
	}
	if conv.Banner() == "" {
		t.Error("expected a banner")
	}
}

func TestSocketManager_SendFailure(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	tr := d.last()
	tr.mu.Lock()
	tr.sendErr = errors.New("broken pipe")
	tr.mu.Unlock()

	if err := m.Send(ctx, "q"); err == nil {
		t.Fatal("expected send error")
	}
	if conv.Pending() {
		t.Error("pending should be cleared after a send failure")
	}
	last, _ := conv.Last()
	if last.Role != conversation.RoleError || !strings.HasPrefix(last.Content, "Error sending message: ") {
		t.Errorf("expected error message, got %+v", last)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestSocketManager_FirstFrame(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()

	if !isClosed(m.FirstFrame()) {
		t.Fatal("FirstFrame should be closed before any Connect")
	}

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	first := m.FirstFrame()
	if isClosed(first) {
		t.Fatal("FirstFrame closed before the server said anything")
	}

	tr := d.last()
	tr.cb.OnFrame(client.Frame{Type: client.FrameMessage, Response: "Hello, which data?"})
	if !isClosed(first) {
		t.Fatal("FirstFrame should close on the greeting")
	}
	last, _ := conv.Last()
	if last.Content != "Hello, which data?" {
		t.Errorf("greeting should be in the log before FirstFrame closes, got %+v", last)
	}

	// A reconnect starts a new wait; a close ends it.
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	second := m.FirstFrame()
	if isClosed(second) {
		t.Fatal("reconnect should reset FirstFrame")
	}
	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if !isClosed(second) {
		t.Error("FirstFrame should close when the session closes")
	}
}

func TestSocketManager_FirstFrameOnDialFailure(t *testing.T) {
	m, d, _ := newTestManager(t)
	d.err = errors.New("connection refused")

	if err := m.Connect(context.Background()); err == nil {
		t.Fatal("expected dial error")
	}
	if !isClosed(m.FirstFrame()) {
		t.Error("FirstFrame should be closed after a failed dial")
	}
}

func TestSocketManager_StaleCallbacksIgnored(t *testing.T) {
	m, d, conv := newTestManager(t)
	ctx := context.Background()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	old := d.last()
	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	before := conv.Len()

	old.cb.OnFrame(client.Frame{Type: client.FrameMessage, Response: "stale"})

	if conv.Len() != before {
		t.Error("frames from a replaced socket should be ignored")
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateIdle:       "idle",
		StateConnecting: "connecting",
		StateOpen:       "open",
		StateClosed:     "closed",
	} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
	if !StateOpen.Connected() || StateClosed.Connected() {
		t.Error("Connected() mismatch")
	}
}

func TestSocketManager_OverRealWebSocket(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/session_") {
			http.NotFound(w, r)
			return
		}
		sessionID := strings.TrimPrefix(r.URL.Path, "/ws/")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			var in client.OutboundFrame
			if err := conn.ReadJSON(&in); err != nil {
				return
			}
			_ = conn.WriteJSON(map[string]any{
				"type":       "message",
				"response":   "echo: " + in.Message,
				"session_id": sessionID,
				"timestamp":  "2025-03-01T10:00:00.000001",
			})
		}
	}))
	defer srv.Close()

	conv := conversation.New()
	defer conv.Close()
	m := NewSocketManager(ClientDialer{Client: client.New(srv.URL)}, conv)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Send(ctx, "hi"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	waitFor(t, func() bool { return !conv.Pending() })

	last, _ := conv.Last()
	if last.Content != "echo: hi" || last.Role != conversation.RoleAssistant {
		t.Errorf("unexpected reply: %+v", last)
	}

	if err := m.Disconnect(ctx); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if m.State() != StateClosed {
		t.Errorf("State = %v, want closed", m.State())
	}
	last, _ = conv.Last()
	if last.Content != disconnectedText {
		t.Errorf("last message = %+v", last)
	}
}
