package config

import (
	"errors"
	"os"
)

// Source indicates where a configuration value came from.
type Source string

const (
	// SourceDefault is a built-in default.
	SourceDefault Source = "default"
	// SourceFile is the configuration file.
	SourceFile Source = "file"
	// SourceFlag is a command-line flag.
	SourceFlag Source = "flag"
)

// Overrides holds command-line values. Empty fields leave the configuration
// unchanged.
type Overrides struct {
	ServerURL string
	Mode      Mode
	Model     string
	LogLevel  string
	LogFile   string
}

// Apply returns a copy of c with the non-empty overrides applied, and the
// names of the keys that were overridden. Flags take priority over the file.
func (c *Config) Apply(o Overrides) (*Config, []string) {
	out := c.Clone()
	var applied []string

	set := func(key string, dst *string, v string) {
		if v != "" {
			*dst = v
			applied = append(applied, key)
		}
	}
	set("server.url", &out.Server.URL, o.ServerURL)
	set("chat.model", &out.Chat.Model, o.Model)
	set("log.level", &out.Log.Level, o.LogLevel)
	set("log.file", &out.Log.File, o.LogFile)
	if o.Mode != "" {
		out.Chat.Mode = o.Mode
		applied = append(applied, "chat.mode")
	}
	return out, applied
}

// Resolved is a configuration together with the origin of the file part.
type Resolved struct {
	*Config
	// Path is the file that was read, or the path that was looked for.
	Path string
	// Source is SourceFile when the file existed, SourceDefault otherwise.
	Source Source
	// Overridden lists keys set from flags.
	Overridden []string
}

// Resolve loads the file at path (defaults when missing), applies the
// overrides and validates the result.
func Resolve(path string, o Overrides) (*Resolved, error) {
	src := SourceFile
	cfg, err := Load(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg, src = Default(), SourceDefault
	case err != nil:
		return nil, err
	}

	merged, applied := cfg.Apply(o)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return &Resolved{Config: merged, Path: path, Source: src, Overridden: applied}, nil
}
