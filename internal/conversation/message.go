// Package conversation holds the client-side state of a chat: the ordered
// message log, the thought buffer and the pending-response indicator.
package conversation

import (
	"time"

	"github.com/inercia/analyst/internal/decode"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// Kind is an optional sub-type of an assistant message.
const (
	KindMessage      = "message"
	KindContinuation = "continuation"
)

// Message is a single entry of the conversation log.
// Messages are never modified once appended.
type Message struct {
	Role      Role          `json:"role"`
	Content   string        `json:"content"`
	Image     *decode.Image `json:"image,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
	Kind      string        `json:"kind,omitempty"`
}

// HasImage reports whether the message references an image.
func (m Message) HasImage() bool {
	return m.Image != nil
}

// clone returns a copy that shares nothing mutable with m.
func (m Message) clone() Message {
	if m.Image != nil {
		img := *m.Image
		m.Image = &img
	}
	return m
}

// UserMessage builds a user message stamped with now.
func UserMessage(text string, now time.Time) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: now}
}

// SystemMessage builds a system message stamped with now.
func SystemMessage(text string, now time.Time) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: now}
}

// ErrorMessage builds an error message. The content is prefixed with
// "Error: " the way errors are shown to the user.
func ErrorMessage(text string, now time.Time) Message {
	return Message{Role: RoleError, Content: "Error: " + text, Timestamp: now}
}

// AssistantMessage builds an assistant message from a decoded response.
func AssistantMessage(res decode.Result, kind string, ts time.Time) Message {
	return Message{
		Role:      RoleAssistant,
		Content:   res.Text,
		Image:     res.Image,
		Timestamp: ts,
		Kind:      kind,
	}
}
