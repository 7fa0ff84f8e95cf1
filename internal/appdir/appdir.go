// Package appdir locates the analyst data directory, which holds log files
// (logs/) and exported transcripts and images (exports/).
package appdir

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

const (
	// DirEnv is the environment variable to override the data directory.
	DirEnv = "ANALYST_DIR"

	// LogsDirName is the name of the logs subdirectory.
	LogsDirName = "logs"

	// ExportsDirName is the name of the exports subdirectory.
	ExportsDirName = "exports"

	// LogFileName is the default log file name inside the logs directory.
	LogFileName = "analyst.log"
)

var (
	cachedDir string
	mu        sync.RWMutex
)

// Dir returns the data directory path.
// The directory is determined in the following order:
//  1. ANALYST_DIR environment variable (if set)
//  2. Platform-specific default:
//     - macOS: ~/Library/Application Support/Analyst
//     - Linux: $XDG_DATA_HOME/analyst or ~/.local/share/analyst
//     - Windows: %APPDATA%\Analyst
//
// It does not create the directory; use EnsureDir for that.
func Dir() (string, error) {
	mu.RLock()
	if cachedDir != "" {
		dir := cachedDir
		mu.RUnlock()
		return dir, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	if cachedDir != "" {
		return cachedDir, nil
	}

	dir, err := resolveDir()
	if err != nil {
		return "", err
	}

	cachedDir = dir
	return dir, nil
}

func resolveDir() (string, error) {
	if envDir := os.Getenv(DirEnv); envDir != "" {
		return envDir, nil
	}

	switch runtime.GOOS {
	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, "Library", "Application Support", "Analyst"), nil

	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			appData = filepath.Join(homeDir, "AppData", "Roaming")
		}
		return filepath.Join(appData, "Analyst"), nil

	default:
		dataDir := os.Getenv("XDG_DATA_HOME")
		if dataDir == "" {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			dataDir = filepath.Join(homeDir, ".local", "share")
		}
		return filepath.Join(dataDir, "analyst"), nil
	}
}

// EnsureDir creates the data directory and its subdirectories.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}

	for _, d := range []string{dir, filepath.Join(dir, LogsDirName), filepath.Join(dir, ExportsDirName)} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", d, err)
		}
	}
	return nil
}

// LogsDir returns the full path to the logs directory.
func LogsDir() (string, error) {
	return subdir(LogsDirName)
}

// ExportsDir returns the full path to the exports directory.
func ExportsDir() (string, error) {
	return subdir(ExportsDirName)
}

// LogFilePath returns the default log file path.
func LogFilePath() (string, error) {
	dir, err := LogsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, LogFileName), nil
}

// ExportPath resolves name against the exports directory. Absolute paths
// and paths with a directory component are returned unchanged.
func ExportPath(name string) (string, error) {
	if filepath.IsAbs(name) || filepath.Base(name) != name {
		return name, nil
	}
	dir, err := ExportsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func subdir(name string) (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// ResetCache clears the cached directory path.
// This is primarily useful for testing.
func ResetCache() {
	mu.Lock()
	defer mu.Unlock()
	cachedDir = ""
}
