package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/internal/tts"
)

var (
	addLabel     string
	addMarkdown  bool
	addHTML      bool
	addClipboard bool
	addListen    bool

	addCmd = &cobra.Command{
		Use:   "add [FILE|URL|-]",
		Short: "Convert text to speech and add it to the queue",
		Long: paragraph(fmt.Sprintf("\n%s a file, a web page or piped text to the queue. Markdown and HTML files are split by structure, "+
			"web pages go through the extraction service first.", keyword("Add"))),
		Example: paragraph("readaloud add notes.md\nreadaloud add https://example.com/post --listen\npbpaste | readaloud add --source clipboard"),
		Args:    cobra.MaximumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return nil, cobra.ShellCompDirectiveDefault
		},
		RunE: runAdd,
	}
)

func runAdd(cmd *cobra.Command, args []string) error {
	if addMarkdown && addHTML {
		return errors.New("cannot use both --markdown and --html")
	}
	ctx := cmd.Context()

	var arg string
	if len(args) > 0 {
		arg = args[0]
	}
	src, err := sourceFromArg(ctx, arg, addClipboard)
	if err != nil {
		return err
	}
	switch {
	case addMarkdown:
		src.format = queue.FormatMarkdown
	case addHTML:
		src.format = queue.FormatHTML
	}
	if addLabel != "" {
		src.label = addLabel
	}

	a, err := openApp(ctx, cfg, queue.WithAutoplay(addListen))
	if err != nil {
		return err
	}
	defer a.Close() //nolint:errcheck

	opts := []queue.AddOption{queue.WithSource(src.label), queue.WithFormat(src.format)}
	if !addListen {
		id, err := a.engine.Add(ctx, src.text, cfg.TTS.Voice, opts...)
		if err != nil {
			return err //nolint:wrapcheck
		}
		return printAdded(cmd.OutOrStdout(), a.engine, id)
	}

	// convert in the background while the player runs
	convCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	errc := make(chan error, 1)
	go func() {
		_, err := a.engine.Add(convCtx, src.text, cfg.TTS.Voice, opts...)
		errc <- err
	}()

	if err := runPlayer(ctx, a.engine, ""); err != nil {
		return err
	}
	cancel()
	if err := <-errc; err != nil && !tts.IsCancelled(err) {
		return err //nolint:wrapcheck
	}
	return nil
}

func printAdded(w io.Writer, engine *queue.Engine, id string) error {
	it, ok := engine.Item(id)
	if !ok {
		// removed while converting
		return nil
	}
	if it.Status == queue.StatusError {
		return fmt.Errorf("conversion failed: %s", it.Error)
	}
	_, err := fmt.Fprintf(w, "Added %s %s\n%s\n",
		keyword(shortID(it.ID)),
		faint(fmt.Sprintf("(%d of %d segments converted, %s)", it.Ready(), len(it.Segments), it.Status)),
		truncate.StringWithTail(oneLine(it.Title()), uint(terminalWidth()), "…")) //nolint:gosec
	return err //nolint:wrapcheck
}

func init() {
	addCmd.Flags().StringVarP(&addLabel, "source", "s", "", "label the item, e.g. with the URL the text came from")
	addCmd.Flags().BoolVarP(&addMarkdown, "markdown", "m", false, "treat the input as markdown")
	addCmd.Flags().BoolVar(&addHTML, "html", false, "treat the input as HTML")
	addCmd.Flags().BoolVarP(&addClipboard, "clipboard", "c", false, "read the text from the clipboard")
	addCmd.Flags().BoolVarP(&addListen, "listen", "l", false, "open the player and start listening right away")
}
