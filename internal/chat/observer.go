// Package chat implements the two conversation transports of the assistant
// client: a persistent WebSocket session (SocketManager) and HTTP polling
// with server-driven continuation (Poller). Both decode responses with the
// same decoder and record everything in a conversation.Conversation.
package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/inercia/analyst/internal/conversation"
)

var (
	// ErrNotConnected is returned by Send when the socket is not open.
	ErrNotConnected = errors.New("not connected")
	// ErrEmptyMessage is returned by Send for blank input.
	ErrEmptyMessage = errors.New("empty message")
	// ErrPending is returned by Send while a reply is outstanding.
	ErrPending = errors.New("a response is already pending")
)

// Chat is the behaviour shared by both transports.
type Chat interface {
	// Send submits one user turn.
	Send(ctx context.Context, text string) error
	// Clear empties the conversation and forces the pending indicator off.
	Clear()
	// SessionID returns the current session id, if any.
	SessionID() string
	// Conversation returns the state the transport writes to.
	Conversation() *conversation.Conversation
}

// Observer receives conversation events. Callbacks may run on transport
// goroutines and must not call back into Connect or Disconnect.
type Observer interface {
	// OnStateChange is called when the socket state changes.
	OnStateChange(state State)
	// OnMessage is called after a message has been appended.
	OnMessage(msg conversation.Message)
	// OnThought is called when the thought buffer changes.
	OnThought(text string)
	// OnPending is called when the pending indicator flips.
	OnPending(pending bool)
}

// ObserverFuncs adapts optional functions to Observer.
type ObserverFuncs struct {
	StateChange func(State)
	Message     func(conversation.Message)
	Thought     func(string)
	Pending     func(bool)
}

func (f ObserverFuncs) OnStateChange(s State) {
	if f.StateChange != nil {
		f.StateChange(s)
	}
}

func (f ObserverFuncs) OnMessage(m conversation.Message) {
	if f.Message != nil {
		f.Message(m)
	}
}

func (f ObserverFuncs) OnThought(text string) {
	if f.Thought != nil {
		f.Thought(text)
	}
}

func (f ObserverFuncs) OnPending(p bool) {
	if f.Pending != nil {
		f.Pending(p)
	}
}

// observers is a concurrency-safe list of Observer.
type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	if obs == nil {
		return
	}
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]Observer(nil), o.list...)
}

func (o *observers) state(s State) {
	for _, obs := range o.snapshot() {
		obs.OnStateChange(s)
	}
}

func (o *observers) message(m conversation.Message) {
	for _, obs := range o.snapshot() {
		obs.OnMessage(m)
	}
}

func (o *observers) thought(text string) {
	for _, obs := range o.snapshot() {
		obs.OnThought(text)
	}
}

func (o *observers) pending(p bool) {
	for _, obs := range o.snapshot() {
		obs.OnPending(p)
	}
}

// events collects notifications while state locks are held so they can be
// delivered afterwards.
type events struct {
	messages []conversation.Message
	thought  *string
	pending  *bool
	state    *State
}

func (e *events) addMessage(m conversation.Message) {
	e.messages = append(e.messages, m)
}

func (e *events) setThought(text string) {
	e.thought = &text
}

func (e *events) setPending(p bool) {
	e.pending = &p
}

func (e *events) setState(s State) {
	e.state = &s
}

func (e *events) deliver(o *observers) {
	if e.state != nil {
		o.state(*e.state)
	}
	for _, m := range e.messages {
		o.message(m)
	}
	if e.thought != nil {
		o.thought(*e.thought)
	}
	if e.pending != nil {
		o.pending(*e.pending)
	}
}
