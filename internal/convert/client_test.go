package convert

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

func newClient(t *testing.T, url string, legacy bool) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{URL: url, RequestsPerMinute: 60000, LegacyFields: legacy})
	require.NoError(t, err)
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	for _, u := range []string{"", "not a url", "ftp://host/x", "http://"} {
		_, err := NewClient(ClientConfig{URL: u})
		assert.Equal(t, tts.KindValidation, tts.KindOf(err), u)
	}
}

func TestSynthesizeRequest(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write([]byte("ID3-audio"))
	}))
	defer srv.Close()

	audio, err := newClient(t, srv.URL, false).Synthesize(context.Background(), "Hello.", "voice-en-us-amy-low")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3-audio"), audio)
	assert.Equal(t, map[string]string{"text": "Hello.", "voice": "voice-en-us-amy-low"}, got)
}

func TestSynthesizeLegacyFields(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write([]byte("RIFF"))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL, true).Synthesize(context.Background(), "Hi", "amy")
	require.NoError(t, err)
	assert.Equal(t, "Hi", got["input"])
	assert.Equal(t, "amy", got["model"])
	assert.Equal(t, "Hi", got["text"])
}

func TestSynthesizeErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		kind        tts.Kind
		message     string
	}{
		{"server error", 503, "text/plain", "overloaded", tts.KindTransientService, "overloaded"},
		{"not found", 404, "text/plain", "no such voice", tts.KindPermanentService, "no such voice"},
		{"json error body", 400, "application/json", `{"error":"text too long"}`, tts.KindPermanentService, "text too long"},
		{"rate limited", 429, "text/plain", "", tts.KindTransientService, "Too Many Requests"},
		{"wrong content type", 200, "text/html", "<html>", tts.KindPermanentService, "content type"},
		{"empty audio", 200, "audio/wav", "", tts.KindPermanentService, "no audio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newClient(t, srv.URL, false).Synthesize(context.Background(), "text", "v")
			require.Error(t, err)
			assert.Equal(t, tt.kind, tts.KindOf(err))
			assert.Contains(t, err.Error(), tt.message)
		})
	}
}

func TestSynthesizeNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url, false).Synthesize(context.Background(), "text", "v")
	assert.True(t, tts.IsRetryable(err))
}

func TestSynthesizeCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newClient(t, srv.URL, false).Synthesize(ctx, "text", "v")
	assert.True(t, tts.IsCancelled(err))
	assert.False(t, tts.IsRetryable(err))
}

func TestSynthesizeEmptyText(t *testing.T) {
	c := newClient(t, "http://localhost:1/api/tts", false)
	_, err := c.Synthesize(context.Background(), "   ", "v")
	assert.Equal(t, tts.KindValidation, tts.KindOf(err))
}
