package convert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

// maxErrorBody bounds how much of an error response is kept as the message.
const maxErrorBody = 1024

// ClientConfig configures the TTS service client.
type ClientConfig struct {
	// URL is the synthesis endpoint.
	URL string

	// Timeout applies to each request (defaults to 60s).
	Timeout time.Duration

	// RequestsPerMinute limits the request rate (defaults to 120).
	RequestsPerMinute int

	// LegacyFields also sends the text as "input" and the voice as "model".
	LegacyFields bool

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// Client posts text to the TTS service and returns audio bytes.
type Client struct {
	url     string
	http    *http.Client
	limiter *rate.Limiter
	legacy  bool
}

// NewClient validates cfg and creates a client.
func NewClient(cfg ClientConfig) (*Client, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, tts.Validation("invalid TTS url %q", cfg.URL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 120
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		url:     u.String(),
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		legacy:  cfg.LegacyFields,
	}, nil
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
	Input string `json:"input,omitempty"`
	Model string `json:"model,omitempty"`
}

// Synthesize converts text to audio. Failures are *tts.Error values whose
// kind tells the caller whether to retry.
func (c *Client) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, tts.Validation("text cannot be empty")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, tts.Cancelled("conversion cancelled")
		}
		return nil, tts.Transient(0, "rate limit wait failed", err)
	}

	payload := synthesizeRequest{Text: text, Voice: voice}
	if c.legacy {
		payload.Input = text
		payload.Model = voice
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, tts.Validation("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg, audio/wav, application/octet-stream")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, tts.Cancelled("conversion cancelled")
		}
		return nil, tts.Transient(0, "TTS request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		mediaType, _, _ := mime.ParseMediaType(ct)
		if !strings.HasPrefix(mediaType, "audio/") && mediaType != "application/octet-stream" {
			return nil, tts.Permanent(resp.StatusCode, fmt.Sprintf("unexpected content type %q", ct), nil)
		}
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, tts.Cancelled("conversion cancelled")
		}
		return nil, tts.Transient(resp.StatusCode, "failed to read audio", err)
	}
	if len(audio) == 0 {
		return nil, tts.Permanent(resp.StatusCode, "TTS service returned no audio", nil)
	}

	log.Debug("TTS client: Synthesized", "chars", len(text), "bytes", len(audio), "took", time.Since(start))
	return audio, nil
}

// statusError maps a non-2xx response to an error kind. 404 and other client
// errors are permanent; 5xx, 408 and 429 are transient.
func statusError(resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	text := strings.TrimSpace(string(msg))

	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(msg, &payload) == nil && payload.Error != "" {
		text = payload.Error
	}
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests:
		return tts.Transient(resp.StatusCode, fmt.Sprintf("TTS service error %d: %s", resp.StatusCode, text), nil)
	default:
		return tts.Permanent(resp.StatusCode, fmt.Sprintf("TTS service error %d: %s", resp.StatusCode, text), nil)
	}
}
