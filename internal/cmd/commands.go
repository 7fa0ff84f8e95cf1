package cmd

import (
	"context"
	"strings"

	"github.com/google/shlex"
	"github.com/reeflective/readline"

	"github.com/inercia/analyst/internal/appdir"
	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/render"
)

// slashCommands defines the available slash commands with their descriptions.
var slashCommands = []struct {
	name        string
	description string
}{
	{"/help", "Show available commands"},
	{"/h", "Show available commands (alias)"},
	{"/?", "Show available commands (alias)"},
	{"/quit", "Exit the CLI"},
	{"/exit", "Exit the CLI (alias)"},
	{"/q", "Exit the CLI (alias)"},
	{"/clear", "Clear the conversation"},
	{"/connect", "Open a new socket session"},
	{"/disconnect", "Close the socket session"},
	{"/model", "Show or change the model"},
	{"/thoughts", "Toggle display of the agent's thoughts"},
	{"/export", "Export the transcript to a file"},
	{"/session", "Show session details"},
}

// parseCommand splits a slash command line into its lower-cased name and
// shell-quoted arguments.
func parseCommand(line string) (string, []string, error) {
	parts, err := shlex.Split(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if err != nil {
		return "", nil, err
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return strings.ToLower(parts[0]), parts[1:], nil
}

// handleCommand runs a slash command and reports whether the CLI should exit.
func (s *chatSession) handleCommand(ctx context.Context, line string) (quit bool) {
	name, args, err := parseCommand(line)
	if err != nil {
		s.printf("❌ Invalid command: %v", err)
		return false
	}

	switch name {
	case "":
		s.printf("❓ Empty command (use /help for available commands)")
	case "quit", "exit", "q":
		return true
	case "help", "h", "?":
		s.printHelp()
	case "clear":
		s.chat.Clear()
		s.printf("🧹 Conversation cleared")
	case "connect":
		if s.requireSocket() {
			// Failures are reported through the conversation.
			if err := s.socket.Connect(ctx); err == nil {
				s.printf("🔌 Session %s", s.socket.SessionID())
				s.awaitGreeting(ctx)
			}
		}
	case "disconnect":
		if s.requireSocket() {
			if err := s.socket.Disconnect(ctx); err != nil {
				s.printf("❌ Disconnect error: %v", err)
			}
		}
	case "model":
		s.modelCommand(ctx, args)
	case "thoughts":
		s.thoughtsCommand()
	case "export":
		s.exportCommand(args)
	case "session":
		s.sessionCommand(ctx)
	default:
		s.printf("❓ Unknown command: %s (use /help for available commands)", name)
	}
	return false
}

func (s *chatSession) requireSocket() bool {
	if s.socket == nil {
		s.printf("⚠️  Only available in socket mode")
		return false
	}
	return true
}

func (s *chatSession) modelCommand(ctx context.Context, args []string) {
	if !s.requireSocket() {
		return
	}
	if len(args) == 0 {
		model := s.socket.Model()
		if model == "" {
			model = "(server default)"
		}
		s.printf("Model: %s", model)
		return
	}
	if err := s.socket.SetModel(ctx, args[0]); err != nil {
		s.printf("❌ Reconnect failed: %v", err)
		return
	}
	s.printf("Model set to %s", args[0])
	s.awaitGreeting(ctx)
}

func (s *chatSession) thoughtsCommand() {
	thoughts := s.conv.Thoughts()
	if !thoughts.Toggle() {
		s.printf("Thoughts hidden")
		return
	}
	if !thoughts.HasContent() {
		s.printf("Thoughts shown (none yet)")
		return
	}
	s.printMu.Lock()
	defer s.printMu.Unlock()
	s.term.PrintThoughts(thoughts.Text())
}

func (s *chatSession) exportCommand(args []string) {
	if len(args) != 1 {
		s.printf("Usage: /export FILE (.html, .md or .json)")
		return
	}
	path, err := appdir.ExportPath(args[0])
	if err != nil {
		s.printf("❌ Export failed: %v", err)
		return
	}
	msgs := s.conv.Messages()
	err = render.Export(path, msgs, render.ExportOptions{
		Title:     "Data Analysis Assistant",
		SessionID: s.chat.SessionID(),
	})
	if err != nil {
		s.printf("❌ Export failed: %v", err)
		return
	}
	s.printf("💾 Exported %d messages to %s", len(msgs), path)
}

func (s *chatSession) sessionCommand(ctx context.Context) {
	id := s.chat.SessionID()
	s.printf("Mode:    %s", s.settings.Chat.Mode)
	if s.socket != nil {
		s.printf("State:   %s", s.socket.State())
		if model := s.socket.Model(); model != "" {
			s.printf("Model:   %s", model)
		}
	}
	if id == "" {
		s.printf("Session: (none)")
		return
	}
	s.printf("Session: %s", id)

	info, err := s.api.SessionInfo(ctx, id)
	switch {
	case client.IsNotFound(err):
		s.printf("Server:  session not found")
	case err != nil:
		s.printf("Server:  %s", client.DisplayError(err))
	default:
		s.printf("Server:  %d messages, tools available: %t", info.MessageCount, info.ToolsAvailable)
	}
}

func (s *chatSession) printHelp() {
	s.printf(`
Available commands:
  /quit, /exit, /q  - Exit the CLI
  /clear            - Clear the conversation
  /connect          - Open a new socket session
  /disconnect       - Close the socket session
  /model [NAME]     - Show or change the model (reconnects)
  /thoughts         - Toggle display of the agent's thoughts
  /export FILE      - Export the transcript (.html, .md or .json)
  /session          - Show session details
  /help, /h, /?     - Show this help message

Tips:
  - Type your message and press Enter to send it to the assistant
  - Use Ctrl+C or Ctrl+D to exit gracefully
  - Use up/down arrows for command history
  - Use Tab to autocomplete slash commands`)
}

// matchCommands returns the slash commands starting with prefix, with
// their descriptions.
func matchCommands(prefix string) (matches, descriptions []string) {
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd.name, prefix) {
			matches = append(matches, cmd.name)
			descriptions = append(descriptions, cmd.description)
		}
	}
	return matches, descriptions
}

// completeInput provides tab completion for the CLI input.
func completeInput(line string, cursor int) readline.Completions {
	if cursor > len(line) {
		cursor = len(line)
	}
	if cursor < 0 {
		cursor = 0
	}
	text := line[:cursor]

	// Only complete if the line starts with "/"
	if !strings.HasPrefix(text, "/") {
		return readline.Completions{}
	}

	matches, descriptions := matchCommands(text)
	if len(matches) == 0 {
		return readline.Completions{}
	}

	// Format: value1, desc1, value2, desc2, ...
	pairs := make([]string, 0, len(matches)*2)
	for i, match := range matches {
		pairs = append(pairs, match, descriptions[i])
	}

	return readline.CompleteValuesDescribed(pairs...).
		Tag("commands").
		NoSpace('/')
}

