// Package config loads readaloud settings from the config file, the
// environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	homedir "github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/readaloud/internal/blob"
	"github.com/dgnsrekt/readaloud/internal/governor"
)

const (
	// AppName names the config file, the env prefix and the app dirs.
	AppName = "readaloud"
	// FileName is the config file inside the config dir.
	FileName = AppName + ".yml"
	// DatabaseName is the SQLite file inside the storage dir.
	DatabaseName = AppName + ".db"
)

// Config is the effective configuration.
type Config struct {
	TTS      TTS      `mapstructure:"tts"      yaml:"tts"`
	Extract  Extract  `mapstructure:"extract"  yaml:"extract"`
	Storage  Storage  `mapstructure:"storage"  yaml:"storage"`
	Playback Playback `mapstructure:"playback" yaml:"playback"`
	Log      Log      `mapstructure:"log"      yaml:"log"`
}

// TTS configures the speech service.
type TTS struct {
	URL               string        `mapstructure:"url"                 yaml:"url"`
	Voice             string        `mapstructure:"voice"               yaml:"voice"`
	Timeout           time.Duration `mapstructure:"timeout"             yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
	LegacyFields      bool          `mapstructure:"legacy_fields"       yaml:"legacy_fields"`
}

// Extract configures the article extraction service.
type Extract struct {
	URL     string        `mapstructure:"url"     yaml:"url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Storage configures the audio store and its cleanup policy.
type Storage struct {
	Path             string `mapstructure:"path"              yaml:"path"`
	Quota            string `mapstructure:"quota"             yaml:"quota"`
	AutoCleanup      bool   `mapstructure:"auto_cleanup"      yaml:"auto_cleanup"`
	CleanupThreshold int    `mapstructure:"cleanup_threshold" yaml:"cleanup_threshold"`
	RetentionDays    int    `mapstructure:"retention_days"    yaml:"retention_days"`
	CompressionLevel int    `mapstructure:"compression_level" yaml:"compression_level"`
}

// Playback configures audio output.
type Playback struct {
	// RequireInteraction is nil when unset; see Config.RequireInteraction.
	RequireInteraction *bool   `mapstructure:"-"      yaml:"require_interaction,omitempty"`
	Volume             float64 `mapstructure:"volume" yaml:"volume"`
}

// Log configures logging.
type Log struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file"  yaml:"file"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tts.url", "http://localhost:8000/api/tts")
	v.SetDefault("tts.voice", "voice-en-us-amy-low")
	v.SetDefault("tts.timeout", "60s")
	v.SetDefault("tts.requests_per_minute", 120)
	v.SetDefault("tts.legacy_fields", false)

	v.SetDefault("extract.url", "http://localhost:8000/api/extract")
	v.SetDefault("extract.timeout", "30s")

	v.SetDefault("storage.path", "")
	v.SetDefault("storage.quota", "1GiB")
	v.SetDefault("storage.auto_cleanup", true)
	v.SetDefault("storage.cleanup_threshold", 80)
	v.SetDefault("storage.retention_days", 7)
	v.SetDefault("storage.compression_level", 3)

	v.SetDefault("playback.volume", 1.0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// ConfigDirs lists the directories searched for the config file, most
// specific first. READALOUD_CONFIG_HOME and XDG_CONFIG_HOME take
// precedence over the platform defaults.
func ConfigDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("could not find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("READALOUD_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// DataDir is the default storage directory.
func DataDir() (string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).DataDirs()
	if err != nil {
		return "", fmt.Errorf("could not find data directory: %w", err)
	}
	if len(dirs) == 0 {
		return "", errors.New("no data directory available")
	}
	return dirs[0], nil
}

// Init points v at the config file locations and the environment. A
// missing file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)

	v.SetEnvPrefix(AppName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		dirs, err := ConfigDirs()
		if err != nil {
			return err
		}
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("could not parse configuration file: %w", err)
	}
	log.Debug("Using configuration file", "path", v.ConfigFileUsed())
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if v.IsSet("playback.require_interaction") {
		b := v.GetBool("playback.require_interaction")
		cfg.Playback.RequireInteraction = &b
	}

	if cfg.Storage.Path == "" {
		dir, err := DataDir()
		if err != nil {
			return cfg, err
		}
		cfg.Storage.Path = dir
	}
	for _, p := range []*string{&cfg.Storage.Path, &cfg.Log.File} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return cfg, fmt.Errorf("unable to expand %q: %w", *p, err)
		}
		*p = expanded
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every setting and reports all problems at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(validHTTPURL(c.TTS.URL), "tts.url must be an http(s) URL, got %q", c.TTS.URL)
	check(strings.TrimSpace(c.TTS.Voice) != "", "tts.voice must not be empty")
	check(c.TTS.Timeout > 0, "tts.timeout must be positive, got %s", c.TTS.Timeout)
	check(c.TTS.RequestsPerMinute >= 0, "tts.requests_per_minute must not be negative, got %d", c.TTS.RequestsPerMinute)
	check(c.Extract.URL == "" || validHTTPURL(c.Extract.URL), "extract.url must be an http(s) URL, got %q", c.Extract.URL)
	check(c.Storage.CompressionLevel >= 0 && c.Storage.CompressionLevel <= 22,
		"storage.compression_level must be between 0 and 22, got %d", c.Storage.CompressionLevel)
	check(c.Playback.Volume >= 0 && c.Playback.Volume <= 1, "playback.volume must be between 0 and 1, got %.2f", c.Playback.Volume)

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if _, err := c.Governor(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validHTTPURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Governor returns the storage cleanup policy.
func (c Config) Governor() (governor.Config, error) {
	quota, err := humanize.ParseBytes(c.Storage.Quota)
	if err != nil {
		return governor.Config{}, fmt.Errorf("storage.quota: %w", err)
	}
	cfg := governor.Config{
		Quota:         int64(quota), //nolint:gosec
		Threshold:     c.Storage.CleanupThreshold,
		RetentionDays: c.Storage.RetentionDays,
		AutoCleanup:   c.Storage.AutoCleanup,
		Interval:      governor.DefaultInterval,
	}
	if err := cfg.Validate(); err != nil {
		return governor.Config{}, fmt.Errorf("storage: %w", err)
	}
	return cfg, nil
}

// BlobOptions returns the store options.
func (c Config) BlobOptions() blob.Options {
	return blob.Options{CompressionLevel: c.Storage.CompressionLevel}
}

// DatabasePath is the SQLite file holding audio and queue state.
func (c Config) DatabasePath() string {
	return filepath.Join(c.Storage.Path, DatabaseName)
}

// RequireInteraction reports whether playback must pass the unlock gate.
// Unset, it is required when stdin is not a terminal, since nobody is
// there to authorise sound.
func (c Config) RequireInteraction() bool {
	if c.Playback.RequireInteraction != nil {
		return *c.Playback.RequireInteraction
	}
	return !term.IsTerminal(int(os.Stdin.Fd())) //nolint:gosec
}

// YAML renders the configuration as a config file would hold it.
func (c Config) YAML() ([]byte, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("unable to encode configuration: %w", err)
	}
	return b, nil
}
