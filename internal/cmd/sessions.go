package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/inercia/analyst/internal/client"
)

var sessionsJSON bool

// sessionsCmd represents the sessions parent command
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and delete server sessions",
	Long: `Inspect and delete sessions held by the backend.

Session ids are printed by 'analyst chat' (/session) and look like
session_1a2b3c4d.

Examples:
  analyst sessions info session_1a2b3c4d
  analyst sessions history session_1a2b3c4d --json
  analyst sessions delete session_1a2b3c4d`,
}

var sessionsInfoCmd = &cobra.Command{
	Use:   "info SESSION_ID",
	Short: "Show session information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := newClient().SessionInfo(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sessionsJSON {
			return writeJSON(out, info)
		}
		fmt.Fprintf(out, "Session:  %s\n", info.SessionID)
		if !info.CreatedAt.IsZero() {
			fmt.Fprintf(out, "Created:  %s\n", info.CreatedAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "Messages: %d\n", info.MessageCount)
		fmt.Fprintf(out, "Tools:    %t\n", info.ToolsAvailable)
		return nil
	},
}

var sessionsToolsCmd = &cobra.Command{
	Use:   "tools SESSION_ID",
	Short: "List the tools available to a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tools, err := newClient().SessionTools(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sessionsJSON {
			return writeJSON(out, tools)
		}
		if len(tools) == 0 {
			fmt.Fprintln(out, "No tools available")
			return nil
		}
		for _, raw := range tools {
			fmt.Fprintln(out, describeTool(raw))
		}
		return nil
	},
}

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history SESSION_ID",
	Short: "Print the server-side message history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := newClient().SessionHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if sessionsJSON {
			return writeJSON(out, history)
		}
		for _, raw := range history {
			fmt.Fprintln(out, describeHistoryEntry(raw))
		}
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete SESSION_ID",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().DeleteSession(cmd.Context(), args[0]); err != nil {
			if client.IsNotFound(err) {
				return fmt.Errorf("session %s not found", args[0])
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "🗑️  Deleted session %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsInfoCmd, sessionsToolsCmd, sessionsHistoryCmd, sessionsDeleteCmd)

	sessionsCmd.PersistentFlags().BoolVar(&sessionsJSON, "json", false, "Print the raw JSON returned by the server")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// describeTool renders a tool object as "name - description". Tool objects
// are backend-defined; unknown shapes are printed as JSON.
func describeTool(raw json.RawMessage) string {
	var tool struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &tool); err != nil || tool.Name == "" {
		return string(raw)
	}
	if tool.Description == "" {
		return tool.Name
	}
	return tool.Name + " - " + tool.Description
}

// describeHistoryEntry renders a history entry as "role: content".
func describeHistoryEntry(raw json.RawMessage) string {
	var entry struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Role == "" {
		return string(raw)
	}
	return entry.Role + ": " + entry.Content
}
