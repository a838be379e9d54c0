package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/readaloud/internal/extract"
	"github.com/dgnsrekt/readaloud/internal/queue"
)

var (
	markdownExtensions = []string{".md", ".mdown", ".mkdn", ".mkd", ".markdown"}
	htmlExtensions     = []string{".html", ".htm", ".xhtml"}
)

// source is text to be queued, labelled with where it came from.
type source struct {
	text   string
	label  string
	format queue.Format
}

func stdinIsPipe() (bool, error) {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false, fmt.Errorf("unable to open file: %w", err)
	}
	if stat.Mode()&os.ModeCharDevice == 0 || stat.Size() > 0 {
		return true, nil
	}
	return false, nil
}

// formatFromPath picks a format by file extension.
func formatFromPath(path string) queue.Format {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case slices.Contains(markdownExtensions, ext):
		return queue.FormatMarkdown
	case slices.Contains(htmlExtensions, ext):
		return queue.FormatHTML
	}
	return queue.FormatText
}

// sourceFromArg reads the text named by arg: "-" or an empty arg with piped
// input reads stdin, an http(s) URL is run through the extraction service,
// anything else is a file.
func sourceFromArg(ctx context.Context, arg string, fromClipboard bool) (*source, error) {
	if fromClipboard {
		text, err := clipboard.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("unable to read clipboard: %w", err)
		}
		return &source{text: text, label: "clipboard", format: queue.FormatText}, nil
	}

	if arg == "" {
		pipe, err := stdinIsPipe()
		if err != nil {
			return nil, err
		}
		if !pipe {
			return nil, errors.New("nothing to read: pass a file, a URL, or pipe text in")
		}
		arg = "-"
	}

	if arg == "-" {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("unable to read from stdin: %w", err)
		}
		return &source{text: string(b), format: queue.FormatText}, nil
	}

	if extract.ValidURL(arg) {
		client, err := extract.NewClient(cfg.Extract.URL, cfg.Extract.Timeout)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		log.Info("Extracting article", "url", arg)
		article, err := client.Fetch(ctx, arg)
		if err != nil {
			return nil, err //nolint:wrapcheck
		}
		label := article.URL
		if label == "" {
			label = arg
		}
		return &source{text: article.Text, label: label, format: queue.FormatHTML}, nil
	}

	b, err := os.ReadFile(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to open file: %w", err)
	}
	abs, err := filepath.Abs(arg)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path: %w", err)
	}
	return &source{text: string(b), label: abs, format: formatFromPath(arg)}, nil
}
