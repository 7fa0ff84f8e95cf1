package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/decode"
	"github.com/inercia/analyst/internal/logging"
)

// DefaultContinueRate is the default pace of continuation calls per second.
// Zero means continue calls are issued as soon as the previous reply lands.
const DefaultContinueRate = 0

// ChatAPI is the subset of the REST client used by the Poller.
type ChatAPI interface {
	Chat(ctx context.Context, req client.ChatRequest) (*client.ChatResponse, error)
	Continue(ctx context.Context, req client.ContinueRequest) (*client.ChatResponse, error)
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollerDecoder sets the response decoder.
func WithPollerDecoder(d *decode.Decoder) PollerOption {
	return func(p *Poller) {
		p.decoder = d
	}
}

// WithPollerLogger sets the logger.
func WithPollerLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithPollerCheckContinue sets the check_continue flag sent to the server.
func WithPollerCheckContinue(v bool) PollerOption {
	return func(p *Poller) {
		p.checkContinue = v
	}
}

// WithContinueRate limits continuation calls to perSecond. Zero or a
// negative value disables pacing.
func WithContinueRate(perSecond float64) PollerOption {
	return func(p *Poller) {
		if perSecond <= 0 {
			p.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		p.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithMaxContinuations caps the number of continuation calls per turn.
// Zero means unlimited.
func WithMaxContinuations(n int) PollerOption {
	return func(p *Poller) {
		p.maxContinuations = n
	}
}

// WithPollerObserver registers an observer.
func WithPollerObserver(o Observer) PollerOption {
	return func(p *Poller) {
		p.observers.add(o)
	}
}

// Poller drives a conversation over the request/response HTTP API. Each
// user turn is one chat call, followed by continue calls for as long as the
// server reports should_continue.
//
// It is safe for concurrent use; turns are serialized.
type Poller struct {
	api              ChatAPI
	conv             *conversation.Conversation
	decoder          *decode.Decoder
	logger           *slog.Logger
	checkContinue    bool
	limiter          *rate.Limiter
	maxContinuations int
	observers        observers

	mu        sync.Mutex
	sessionID string
	busy      bool
	// generation is bumped by Clear; responses from older turns are dropped.
	generation uint64
}

// NewPoller creates a poller writing into conv.
func NewPoller(api ChatAPI, conv *conversation.Conversation, opts ...PollerOption) *Poller {
	p := &Poller{
		api:           api,
		conv:          conv,
		checkContinue: true,
	}
	WithContinueRate(DefaultContinueRate)(p)
	for _, opt := range opts {
		opt(p)
	}
	if p.decoder == nil {
		p.decoder = &decode.Decoder{}
	}
	if p.logger == nil {
		p.logger = logging.Poll()
	}
	return p
}

// AddObserver registers an observer.
func (p *Poller) AddObserver(o Observer) {
	p.observers.add(o)
}

// SessionID returns the server-assigned session id, empty before the first
// response.
func (p *Poller) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Conversation returns the conversation the poller writes to.
func (p *Poller) Conversation() *conversation.Conversation {
	return p.conv
}

// Send runs one user turn, including its continuation chain. Responses are
// appended in arrival order. The first error appends one error message and
// ends the chain; messages already appended are kept.
func (p *Poller) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	var ev events
	p.mu.Lock()
	if p.busy {
		p.mu.Unlock()
		return ErrPending
	}
	p.busy = true
	gen := p.generation
	sessionID := p.sessionID

	msg := conversation.UserMessage(text, time.Now())
	p.conv.Append(msg)
	ev.addMessage(msg)
	p.conv.SetBanner("")
	if p.conv.SetPending(true) {
		ev.setPending(true)
	}
	p.mu.Unlock()
	ev.deliver(&p.observers)

	defer p.finish(gen)

	req := client.ChatRequest{Message: text, CheckContinue: p.checkContinue}
	if sessionID != "" {
		req.SessionID = &sessionID
	}

	logger := p.logger.With("session_id", sessionID)
	logger.Debug("sending turn")

	resp, err := p.api.Chat(ctx, req)
	if err != nil {
		p.fail(gen, err)
		return fmt.Errorf("chat: %w", err)
	}
	if !p.accept(gen, resp, conversation.KindMessage) {
		logger.Debug("dropping response of a cleared conversation")
		return nil
	}

	for continuations := 0; resp.ShouldContinue; {
		continuations++
		if p.maxContinuations > 0 && continuations > p.maxContinuations {
			err := &client.APIError{Op: "continue", Message: fmt.Sprintf("continuation limit of %d reached", p.maxContinuations)}
			p.fail(gen, err)
			return err
		}
		if err := p.limiter.Wait(ctx); err != nil {
			p.fail(gen, err)
			return fmt.Errorf("continue: %w", err)
		}

		sessionID := p.SessionID()
		p.logger.Debug("continuing", "session_id", sessionID, "n", continuations)
		resp, err = p.api.Continue(ctx, client.ContinueRequest{SessionID: sessionID, CheckContinue: p.checkContinue})
		if err != nil {
			p.fail(gen, err)
			return fmt.Errorf("continue: %w", err)
		}
		if !p.accept(gen, resp, conversation.KindContinuation) {
			return nil
		}
	}
	return nil
}

// Clear empties the conversation, forgets the session id and forces the
// pending indicator off. Responses to requests already in flight are
// discarded when they arrive.
func (p *Poller) Clear() {
	p.mu.Lock()
	p.generation++
	p.sessionID = ""
	p.busy = false
	p.conv.Clear()
	p.mu.Unlock()

	p.observers.pending(false)
}

// accept records resp if it belongs to the current generation.
func (p *Poller) accept(gen uint64, resp *client.ChatResponse, kind string) bool {
	var ev events

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return false
	}
	if p.sessionID == "" && resp.SessionID != "" {
		p.sessionID = resp.SessionID
	}
	msg := conversation.AssistantMessage(p.decoder.Decode(resp.Response), kind, resp.Timestamp.Or(time.Now()))
	p.conv.Append(msg)
	ev.addMessage(msg)
	if p.conv.Thoughts().Set(resp.Thoughts) {
		ev.setThought(resp.Thoughts)
	}
	p.mu.Unlock()

	ev.deliver(&p.observers)
	return true
}

// fail records err as a single error message if gen is current.
func (p *Poller) fail(gen uint64, err error) {
	var ev events

	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.logger.Warn("turn failed", "session_id", p.sessionID, "error", err)
	text := client.DisplayError(err)
	msg := conversation.ErrorMessage(text, time.Now())
	p.conv.Append(msg)
	p.conv.SetBanner("Error: " + text)
	ev.addMessage(msg)
	p.mu.Unlock()

	ev.deliver(&p.observers)
}

// finish ends the turn started in generation gen.
func (p *Poller) finish(gen uint64) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.busy = false
	changed := p.conv.SetPending(false)
	p.mu.Unlock()

	if changed {
		p.observers.pending(false)
	}
}
