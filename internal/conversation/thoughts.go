package conversation

import "sync"

// ThoughtBuffer holds the latest auxiliary "thoughts" text sent by the
// backend. It is independent of the message log: each update replaces the
// previous value, and visibility is toggled by the user.
//
// It is safe for concurrent use.
type ThoughtBuffer struct {
	mu      sync.Mutex
	text    string
	visible bool
}

// Set replaces the buffered text. Empty updates are ignored so that a
// response without thoughts keeps the previous ones. It reports whether the
// buffer changed.
func (tb *ThoughtBuffer) Set(text string) bool {
	if text == "" {
		return false
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	if tb.text == text {
		return false
	}
	tb.text = text
	return true
}

// Text returns the buffered text.
func (tb *ThoughtBuffer) Text() string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.text
}

// HasContent reports whether there is anything to show.
func (tb *ThoughtBuffer) HasContent() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.text != ""
}

// Toggle flips visibility and returns the new value.
func (tb *ThoughtBuffer) Toggle() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.visible = !tb.visible
	return tb.visible
}

// SetVisible sets visibility explicitly.
func (tb *ThoughtBuffer) SetVisible(v bool) {
	tb.mu.Lock()
	tb.visible = v
	tb.mu.Unlock()
}

// Visible reports whether the user asked to see the thoughts.
func (tb *ThoughtBuffer) Visible() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.visible
}

// Reset drops the buffered text. Visibility is a user preference and is kept.
func (tb *ThoughtBuffer) Reset() {
	tb.mu.Lock()
	tb.text = ""
	tb.mu.Unlock()
}
