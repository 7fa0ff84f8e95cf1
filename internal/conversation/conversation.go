package conversation

import (
	"sync"
	"time"
)

// Conversation is the in-memory state of one chat: an append-only message
// log, the thought buffer, the pending-response indicator and a transient
// error banner. Nothing is persisted.
//
// It is safe for concurrent use.
type Conversation struct {
	mu       sync.RWMutex
	messages []Message
	pending  bool
	banner   string

	// transitions serializes pending changes with the timer they drive.
	transitions sync.Mutex

	thoughts ThoughtBuffer
	timer    *PendingTimer
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithTimer replaces the default pending timer.
func WithTimer(t *PendingTimer) Option {
	return func(c *Conversation) {
		c.timer = t
	}
}

// New creates an empty conversation.
func New(opts ...Option) *Conversation {
	c := &Conversation{}
	for _, opt := range opts {
		opt(c)
	}
	if c.timer == nil {
		c.timer = NewPendingTimer(DefaultTimerInterval, nil)
	}
	return c
}

// Append adds a message to the end of the log.
func (c *Conversation) Append(m Message) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	c.mu.Lock()
	c.messages = append(c.messages, m.clone())
	c.mu.Unlock()
}

// Messages returns a copy of the log.
func (c *Conversation) Messages() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1].clone(), true
}

// Since returns the messages appended after the first n.
func (c *Conversation) Since(n int) []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n < 0 {
		n = 0
	}
	if n >= len(c.messages) {
		return nil
	}
	out := make([]Message, 0, len(c.messages)-n)
	for _, m := range c.messages[n:] {
		out = append(out, m.clone())
	}
	return out
}

// Thoughts returns the thought buffer.
func (c *Conversation) Thoughts() *ThoughtBuffer {
	return &c.thoughts
}

// SetPending updates the pending-response indicator and reports whether it
// changed. Every transition resets the elapsed-time counter.
func (c *Conversation) SetPending(pending bool) bool {
	c.transitions.Lock()
	defer c.transitions.Unlock()

	c.mu.Lock()
	changed := c.pending != pending
	c.pending = pending
	c.mu.Unlock()

	if !changed {
		return false
	}
	if pending {
		c.timer.Start()
	} else {
		c.timer.Stop()
	}
	return true
}

// Pending reports whether a reply is outstanding.
func (c *Conversation) Pending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pending
}

// Elapsed returns how long the current reply has been pending.
func (c *Conversation) Elapsed() time.Duration {
	return c.timer.Elapsed()
}

// SetBanner sets the transient error banner.
func (c *Conversation) SetBanner(text string) {
	c.mu.Lock()
	c.banner = text
	c.mu.Unlock()
}

// Banner returns the transient error banner.
func (c *Conversation) Banner() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.banner
}

// Clear empties the log and the thought buffer, drops the banner and forces
// the pending indicator off.
func (c *Conversation) Clear() {
	c.mu.Lock()
	c.messages = nil
	c.banner = ""
	c.mu.Unlock()

	c.thoughts.Reset()
	c.SetPending(false)
}

// Close stops the pending timer.
func (c *Conversation) Close() {
	c.SetPending(false)
}
