package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func load(t *testing.T, file string) (Config, error) {
	t.Helper()
	v := viper.New()
	require.NoError(t, Init(v, file))
	return Load(v)
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  path: "+dir+"\n"), 0o600))

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api/tts", cfg.TTS.URL)
	assert.Equal(t, "voice-en-us-amy-low", cfg.TTS.Voice)
	assert.Equal(t, 60*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, 120, cfg.TTS.RequestsPerMinute)
	assert.Equal(t, 30*time.Second, cfg.Extract.Timeout)
	assert.Equal(t, filepath.Join(dir, DatabaseName), cfg.DatabasePath())
	assert.Equal(t, 3, cfg.BlobOptions().CompressionLevel)
	assert.Nil(t, cfg.Playback.RequireInteraction)
	assert.Equal(t, 1.0, cfg.Playback.Volume)

	gov, err := cfg.Governor()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), gov.Quota)
	assert.Equal(t, 80, gov.Threshold)
	assert.Equal(t, 7, gov.RetentionDays)
	assert.True(t, gov.AutoCleanup)
}

func TestDefaultFileMatchesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, EnsureFile(path))

	fromFile, err := load(t, path)
	require.NoError(t, err)
	fromDefaults, err := load(t, filepath.Join(dir, "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, fromDefaults, fromFile)
}

func TestFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	data := `
tts:
  url: "https://speech.example/api/tts"
  timeout: "5s"
storage:
  path: "` + dir + `"
  quota: "200 MB"
  cleanup_threshold: 60
playback:
  require_interaction: true
  volume: 0.5
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	t.Setenv("READALOUD_TTS_VOICE", "voice-de-de-thorsten")
	t.Setenv("READALOUD_STORAGE_RETENTION_DAYS", "14")

	cfg, err := load(t, path)
	require.NoError(t, err)

	assert.Equal(t, "https://speech.example/api/tts", cfg.TTS.URL)
	assert.Equal(t, 5*time.Second, cfg.TTS.Timeout)
	assert.Equal(t, "voice-de-de-thorsten", cfg.TTS.Voice)
	assert.Equal(t, 0.5, cfg.Playback.Volume)
	require.NotNil(t, cfg.Playback.RequireInteraction)
	assert.True(t, cfg.RequireInteraction())

	gov, err := cfg.Governor()
	require.NoError(t, err)
	assert.Equal(t, int64(200_000_000), gov.Quota)
	assert.Equal(t, 60, gov.Threshold)
	assert.Equal(t, 14, gov.RetentionDays)
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad tts url", `tts: {url: "ftp://host/tts"}`, "tts.url"},
		{"empty voice", `tts: {voice: " "}`, "tts.voice"},
		{"threshold too high", `storage: {cleanup_threshold: 95}`, "threshold"},
		{"retention too long", `storage: {retention_days: 60}`, "retention"},
		{"bad quota", `storage: {quota: "lots"}`, "storage.quota"},
		{"volume", `playback: {volume: 1.5}`, "playback.volume"},
		{"log level", `log: {level: "loud"}`, "log.level"},
		{"compression", `storage: {compression_level: 30}`, "compression_level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml+"\n"), 0o600))

			v := viper.New()
			require.NoError(t, Init(v, path))
			v.Set("storage.path", dir)

			_, err := Load(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestHomeExpansion(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.Reset()
	t.Cleanup(homedir.Reset)

	v := viper.New()
	require.NoError(t, Init(v, filepath.Join(t.TempDir(), "missing.yml")))
	v.Set("storage.path", "~/audio")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "audio"), cfg.Storage.Path)
}

func TestYAML(t *testing.T) {
	dir := t.TempDir()
	cfg, err := load(t, filepath.Join(dir, "missing.yml"))
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)

	var doc map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(out, &doc))
	assert.Equal(t, "voice-en-us-amy-low", doc["tts"]["voice"])
	assert.Equal(t, "1m0s", doc["tts"]["timeout"])
	assert.Equal(t, "1GiB", doc["storage"]["quota"])
	assert.NotContains(t, doc["playback"], "require_interaction")
}

func TestEnsureFile(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "nested", FileName)
	require.NoError(t, EnsureFile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultFile, string(b))

	// existing files are left alone
	require.NoError(t, os.WriteFile(path, []byte("log: {level: debug}\n"), 0o600))
	require.NoError(t, EnsureFile(path))
	b, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "log: {level: debug}\n", string(b))

	assert.Error(t, EnsureFile(filepath.Join(dir, "config.toml")))
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)
	require.NoError(t, os.WriteFile(path, []byte("log: {level: info}\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, Watch(ctx, path, func() { calls.Add(1) }))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yml"), []byte("x: 1\n"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("log: {level: debug}\n"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}
