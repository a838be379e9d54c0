// Package extract fetches readable article content for a URL from the
// content-extraction service.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/tts"
)

const defaultTimeout = 30 * time.Second

// Article is the extracted content. Text is sanitized HTML ready for
// segmentation.
type Article struct {
	Title string `json:"title"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// Client talks to the extraction endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the given endpoint.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	if !ValidURL(endpoint) {
		return nil, tts.Validation("invalid extraction url %q", endpoint)
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{endpoint: endpoint, http: &http.Client{Timeout: timeout}}, nil
}

// ValidURL reports whether raw is an absolute http(s) URL with a host.
func ValidURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Fetch extracts the article at pageURL.
func (c *Client) Fetch(ctx context.Context, pageURL string) (*Article, error) {
	pageURL = strings.TrimSpace(pageURL)
	if !ValidURL(pageURL) {
		return nil, tts.Validation("invalid URL %q", pageURL)
	}

	body, err := json.Marshal(map[string]string{"url": pageURL})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, tts.Validation("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, tts.Cancelled("extraction cancelled")
		}
		return nil, tts.Transient(0, "extraction request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, tts.Transient(resp.StatusCode, "failed to read extraction response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp.StatusCode, data)
	}

	var article Article
	if err := json.Unmarshal(data, &article); err != nil {
		return nil, tts.Permanent(resp.StatusCode, "malformed extraction response", err)
	}
	if strings.TrimSpace(article.Text) == "" {
		return nil, tts.Permanent(resp.StatusCode, "no readable content found", nil)
	}
	if article.URL == "" {
		article.URL = pageURL
	}

	log.Debug("Extract: Fetched article", "url", article.URL, "title", article.Title, "chars", len(article.Text))
	return &article, nil
}

func statusError(status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := http.StatusText(status)
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}

	switch {
	case status == http.StatusBadRequest:
		return tts.Validation("%s", msg)
	case status >= 500, status == http.StatusTooManyRequests, status == http.StatusRequestTimeout:
		return tts.Transient(status, msg, nil)
	default:
		return tts.Permanent(status, msg, nil)
	}
}
