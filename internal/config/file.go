package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultFile is written when no config file exists yet.
const DefaultFile = `# Speech service
tts:
  url: "http://localhost:8000/api/tts"
  voice: "voice-en-us-amy-low"
  # per request
  timeout: "60s"
  # request rate limit
  requests_per_minute: 120
  # also send the older input/model request fields
  legacy_fields: false

# Article extraction service, used when adding a URL
extract:
  url: "http://localhost:8000/api/extract"
  timeout: "30s"

storage:
  # directory holding readaloud.db (default: user data dir)
  # path: "~/.local/share/readaloud"
  quota: "1GiB"
  auto_cleanup: true
  # percent of the quota (50-90)
  cleanup_threshold: 80
  # days (1-30)
  retention_days: 7
  # zstd level, 0 disables compression
  compression_level: 3

playback:
  # wait for a key press before playing; unset means "when not in a terminal"
  # require_interaction: false
  volume: 1.0

log:
  # debug, info, warn or error
  level: "info"
  # file: "~/.cache/readaloud/readaloud.log"
`

// EnsureFile writes DefaultFile to path unless a file already exists.
func EnsureFile(path string) error {
	if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("unable to stat config file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("unable to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultFile), 0o600); err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}
	return nil
}
