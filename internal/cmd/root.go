// Package cmd provides the CLI commands for analyst.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/inercia/analyst/internal/appdir"
	"github.com/inercia/analyst/internal/client"
	"github.com/inercia/analyst/internal/config"
	"github.com/inercia/analyst/internal/logging"
)

// interactiveAnnotation marks commands that own the terminal. Their console
// log level defaults to warn so log lines do not interleave with the chat.
const interactiveAnnotation = "interactive"

var (
	// Global flags
	configPath    string
	serverURL     string
	debug         bool
	logLevel      string // --log-level flag (debug, info, warn, error)
	logFile       string
	logComponents string

	// Loaded configuration, with flags applied
	cfg *config.Resolved
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "analyst",
	Short: "analyst - a terminal client for the Data Analysis Assistant",
	Long: `analyst talks to a Data Analysis Assistant backend.

Chat over a persistent WebSocket session or over HTTP with automatic
continuation, inspect and delete server sessions, and download the
images the assistant generates.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}

		// Priority: --log-level flag > --debug flag > config file
		effectiveLogLevel := logLevel
		if effectiveLogLevel == "" && debug {
			effectiveLogLevel = "debug"
		}

		var err error
		cfg, err = config.Resolve(path, config.Overrides{
			ServerURL: serverURL,
			LogLevel:  effectiveLogLevel,
			LogFile:   logFile,
		})
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		// Interactive commands keep the console quiet and log to the data
		// directory unless a file is configured.
		consoleLevel := cfg.Log.Level
		logPath := cfg.Log.File
		if cmd.Annotations[interactiveAnnotation] == "true" {
			if effectiveLogLevel == "" {
				consoleLevel = "warn"
			}
			if logPath == "" {
				logPath, _ = appdir.LogFilePath()
			}
		}
		if err := logging.Initialize(logging.Config{
			Level:      consoleLevel,
			FileLevel:  cfg.Log.Level,
			File:       logPath,
			Components: splitList(logComponents),
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		logging.Settings().Debug("configuration loaded",
			"path", cfg.Path,
			"source", cfg.Source,
			"overridden", cfg.Overridden,
			"server", cfg.Server.URL)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path, YAML or TOML (default: $XDG_CONFIG_HOME/analyst/config.yaml or $"+config.ConfigEnv+")")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Backend base URL (overrides server.url)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: from config, info)")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path, rotated by size (logs are also written to console)")
	rootCmd.PersistentFlags().StringVar(&logComponents, "log-components", "", "Comma-separated list of components to log (e.g., 'socket,poll'). Empty means all components.")
}

func splitList(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// newClient returns a REST client for the configured backend.
func newClient() *client.Client {
	return client.New(cfg.Server.URL,
		client.WithTimeout(cfg.Server.Timeout),
		client.WithLogger(logging.Client()),
	)
}
