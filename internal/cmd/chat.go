package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/reeflective/readline"
	"github.com/spf13/cobra"

	"github.com/inercia/analyst/internal/chat"
	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/config"
	"github.com/inercia/analyst/internal/conversation"
	"github.com/inercia/analyst/internal/decode"
	"github.com/inercia/analyst/internal/logging"
	"github.com/inercia/analyst/internal/render"
	"github.com/inercia/analyst/internal/shutdown"
)

const (
	// disconnectTimeout bounds how long exit waits for the socket close.
	disconnectTimeout = 5 * time.Second
	// greetingTimeout bounds the wait for the greeting of a new session.
	greetingTimeout = 3 * time.Second
)

var (
	// chat-specific flags
	chatMode   string
	chatModel  string
	oncePrompt string
	noWatch    bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the Data Analysis Assistant",
	Long: `Start an interactive conversation with the assistant.

In socket mode (the default) a WebSocket session is kept open and replies,
including server-pushed continuations, are printed as they arrive. In http
mode each message is a request; while the server reports that the agent
wants to keep going, continuation requests are sent automatically.

Use --once to send a single message and exit:
  analyst chat --once "Summarize sales.csv by region"

Commands (interactive mode only):
  /help         - Show available commands
  /quit         - Exit
  /clear        - Clear the conversation
  /connect      - Open a new socket session
  /disconnect   - Close the socket session
  /model [name] - Show or change the model (reconnects)
  /thoughts     - Toggle display of the agent's thoughts
  /export FILE  - Export the transcript (.html, .md or .json)
  /session      - Show session details`,
	Annotations: map[string]string{interactiveAnnotation: "true"},
	RunE:        runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().StringVar(&chatMode, "mode", "", "Transport: socket or http (overrides chat.mode)")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "Model to request in socket mode (overrides chat.model)")
	chatCmd.Flags().StringVar(&oncePrompt, "once", "", "Send a single message and exit (non-interactive mode)")
	chatCmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the configuration file when it changes")
}

func runChat(cmd *cobra.Command, args []string) error {
	settings, _ := cfg.Apply(config.Overrides{Mode: config.Mode(chatMode), Model: chatModel})
	if err := settings.Validate(); err != nil {
		return err
	}

	isOnceMode := oncePrompt != ""
	out := cmd.OutOrStdout()
	term := render.NewTerminal(out)

	sm := shutdown.NewManager()
	ctx := sm.Start(cmd.Context())
	defer sm.Shutdown("exit")

	var convOpts []conversation.Option
	showTimer := isOnceMode && render.IsTerminal(os.Stderr)
	if showTimer {
		convOpts = append(convOpts, conversation.WithTimer(conversation.NewPendingTimer(time.Second, func(d time.Duration) {
			fmt.Fprintf(os.Stderr, "\r%s", term.FormatPending(d))
		})))
	}
	conv := conversation.New(convOpts...)

	s := newChatSession(settings, newClient(), conv, term, out)
	s.clearLine = showTimer
	s.once = isOnceMode

	if s.socket != nil && !noWatch && cfg.Source == config.SourceFile {
		if w, err := config.NewWatcher(cfg.Path, logging.Settings()); err != nil {
			s.logger.Warn("config watcher disabled", "error", err)
		} else {
			w.Subscribe(config.SubscriberFunc(func(ev config.ChangeEvent) {
				s.applyConfig(ctx, ev)
			}))
			w.Start()
			sm.AddCleanup(func(string) { w.Close() })
		}
	}

	if s.socket != nil {
		sm.AddCleanup(func(string) {
			dctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
			defer cancel()
			if err := s.socket.Close(dctx); err != nil {
				s.logger.Debug("disconnect on exit", "error", err)
			}
		})
	}
	sm.AddCleanup(func(string) { conv.Close() })

	if s.socket != nil {
		err := s.socket.Connect(ctx)
		if err != nil && isOnceMode {
			return err
		}
		if err == nil {
			s.awaitGreeting(ctx)
		}
	}

	if isOnceMode {
		err := s.send(ctx, oncePrompt)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return s.runInteractive(ctx)
}

// chatSession ties a transport to the terminal.
type chatSession struct {
	settings *config.Config
	api      *client.Client
	conv     *conversation.Conversation
	term     *render.Terminal
	out      io.Writer
	logger   *slog.Logger

	chat   chat.Chat
	socket *chat.SocketManager // nil in http mode

	// clearLine erases the pending indicator before printing.
	clearLine bool
	// once suppresses connection notices in single-message mode.
	once      bool
	printMu   sync.Mutex
	// settled receives when the pending indicator turns off, after the
	// messages of that event have been printed.
	settled   chan struct{}
}

func newChatSession(settings *config.Config, api *client.Client, conv *conversation.Conversation, term *render.Terminal, out io.Writer) *chatSession {
	s := &chatSession{
		settings: settings,
		api:      api,
		conv:     conv,
		term:     term,
		out:      out,
		logger:   logging.CLI(),
		settled:  make(chan struct{}, 1),
	}

	dec := decode.New(settings.ImageBaseURL())
	obs := chat.ObserverFuncs{
		Message: s.onMessage,
		Thought: s.onThought,
		Pending: func(p bool) {
			if p {
				return
			}
			select {
			case s.settled <- struct{}{}:
			default:
			}
		},
		StateChange: func(st chat.State) {
			s.logger.Debug("connection state changed", "state", st.String())
		},
	}

	switch settings.Chat.Mode {
	case config.ModeHTTP:
		s.chat = chat.NewPoller(api, conv,
			chat.WithPollerDecoder(dec),
			chat.WithPollerCheckContinue(settings.Chat.CheckContinue),
			chat.WithContinueRate(settings.Chat.ContinueRate),
			chat.WithMaxContinuations(settings.Chat.MaxContinuations),
			chat.WithPollerObserver(obs),
		)
	default:
		s.socket = chat.NewSocketManager(chat.ClientDialer{Client: api}, conv,
			chat.WithSocketDecoder(dec),
			chat.WithModel(settings.Chat.Model),
			chat.WithSocketCheckContinue(settings.Chat.CheckContinue),
			chat.WithSocketObserver(obs),
		)
		s.chat = s.socket
	}
	return s
}

// onMessage prints appended messages. User input is already on screen.
func (s *chatSession) onMessage(m conversation.Message) {
	if m.Role == conversation.RoleUser || (s.once && m.Role == conversation.RoleSystem) {
		return
	}
	s.printMu.Lock()
	defer s.printMu.Unlock()
	if s.clearLine {
		fmt.Fprint(os.Stderr, "\r\033[K")
	}
	s.term.PrintMessage(m)
}

func (s *chatSession) onThought(text string) {
	if !s.conv.Thoughts().Visible() {
		return
	}
	s.printMu.Lock()
	defer s.printMu.Unlock()
	s.term.PrintThoughts(text)
}

// printf writes a line under the print lock.
func (s *chatSession) printf(format string, args ...any) {
	s.printMu.Lock()
	defer s.printMu.Unlock()
	fmt.Fprintf(s.out, format+"\n", args...)
}

// send submits text and waits until the reply has arrived. In http mode
// that includes the whole continuation chain.
func (s *chatSession) send(ctx context.Context, text string) error {
	select {
	case <-s.settled:
	default:
	}

	err := s.chat.Send(ctx, text)
	switch {
	case errors.Is(err, chat.ErrNotConnected):
		s.printf("Not connected. Use /connect to open a session.")
		return err
	case errors.Is(err, chat.ErrPending):
		s.printf("Still waiting for the previous reply.")
		return err
	case err != nil:
		// Already recorded in the conversation.
		return err
	}
	return s.waitIdle(ctx)
}

// waitIdle blocks until the pending indicator has turned off and the
// messages that turned it off have been printed. Replies, errors and socket
// closes all end that way.
func (s *chatSession) waitIdle(ctx context.Context) error {
	select {
	case <-s.settled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// awaitGreeting waits for the first frame of a freshly opened session, so a
// server greeting is not mistaken for the reply to the next message.
func (s *chatSession) awaitGreeting(ctx context.Context) {
	if s.socket == nil {
		return
	}
	timer := time.NewTimer(greetingTimeout)
	defer timer.Stop()
	select {
	case <-s.socket.FirstFrame():
	case <-timer.C:
		s.logger.Debug("no greeting from server", "session_id", s.socket.SessionID())
	case <-ctx.Done():
	}
}

func (s *chatSession) runInteractive(ctx context.Context) error {
	rl := readline.NewShell()
	rl.Prompt.Primary(func() string { return "analyst> " })

	history := readline.NewInMemoryHistory()
	rl.History.Add("default", history)

	rl.Completer = func(line []rune, cursor int) readline.Completions {
		return completeInput(string(line), cursor)
	}

	s.printf("\n📝 Type your message and press Enter. Use /help for commands. Tab completes commands.\n")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				s.printf("\n👋 Goodbye!")
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			if quit := s.handleCommand(ctx, line); quit {
				s.printf("👋 Goodbye!")
				return nil
			}
			continue
		}

		if err := s.send(ctx, line); errors.Is(err, context.Canceled) {
			return nil
		}
	}
}

// applyConfig reacts to edits of the configuration file. A --model flag
// wins over the file.
func (s *chatSession) applyConfig(ctx context.Context, ev config.ChangeEvent) {
	if ev.Err != nil {
		s.printMu.Lock()
		s.term.PrintBanner("Ignoring invalid configuration: " + ev.Err.Error())
		s.printMu.Unlock()
		return
	}
	if s.socket == nil || chatModel != "" {
		return
	}
	model := ev.Config.Chat.Model
	if model == s.socket.Model() {
		return
	}
	s.printf("Model changed to %q in %s, reconnecting...", model, ev.Path)
	if err := s.socket.SetModel(ctx, model); err != nil {
		s.logger.Warn("reconnect after model change failed", "error", err)
	}
}
