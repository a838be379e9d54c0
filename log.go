package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"

	"github.com/dgnsrekt/readaloud/internal/config"
)

// logToFile is set when log output goes to a file, leaving the terminal to
// the player.
var logToFile bool

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, config.AppName).CacheDir()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dir, config.AppName+".log"), nil
}

// setupLog writes logs to c.File, or to the cache dir at debug level when
// READALOUD_DEBUG is set. Otherwise logs go to stderr at c.Level.
func setupLog(c config.Log) (func() error, error) {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	path := c.File
	if os.Getenv("READALOUD_DEBUG") != "" {
		level = log.DebugLevel
		if path == "" {
			if path, err = getLogFilePath(); err != nil {
				return nil, err
			}
		}
	}
	log.SetLevel(level)

	if path == "" {
		log.SetOutput(os.Stderr)
		logToFile = false
		return func() error { return nil }, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("unable to open log file: %w", err)
	}
	log.SetOutput(f)
	log.SetReportTimestamp(true)
	logToFile = true
	return f.Close, nil
}
