package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/ui"
)

const shortIDLength = 8

func shortID(id string) string {
	if len(id) > shortIDLength {
		return id[:shortIDLength]
	}
	return id
}

// terminalWidth is the width of stdout, or 80 when it is not a terminal.
func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 { //nolint:gosec
		return min(w, 120)
	}
	return 80
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var (
	resumeListen bool

	listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show the queue",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck
			return printQueue(cmd.OutOrStdout(), a.engine.Snapshot(), terminalWidth())
		},
	}

	removeCmd = &cobra.Command{
		Use:     "remove ID|QUERY",
		Aliases: []string{"rm"},
		Short:   "Remove an item and its audio from the queue",
		Long:    paragraph(fmt.Sprintf("\n%s an item by id, id prefix, or a fuzzy match on its source and text.", keyword("Remove"))),
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			it, err := a.engine.Resolve(args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}
			if err := a.engine.Remove(cmd.Context(), it.ID); err != nil {
				return err //nolint:wrapcheck
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed", keyword(shortID(it.ID)), oneLine(it.Title()))
			return nil
		},
	}

	clearCmd = &cobra.Command{
		Use:   "clear",
		Short: "Remove every item and all stored audio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			if err := a.engine.Clear(cmd.Context()); err != nil {
				return err //nolint:wrapcheck
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared")
			return nil
		},
	}

	resumeCmd = &cobra.Command{
		Use:   "resume ID|QUERY",
		Short: "Convert the segments of an item that have no audio yet",
		Long: paragraph(fmt.Sprintf("\n%s conversion of an item that was cancelled, partly failed, or lost its audio to cleanup. "+
			"Pass --voice to switch the item to another voice.", keyword("Resume"))),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, queue.WithAutoplay(false))
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			it, err := a.engine.Resolve(args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}
			var voice string
			if cmd.Flags().Changed("voice") {
				voice = cfg.TTS.Voice
			}

			if !resumeListen {
				if err := a.engine.ResumeConversion(ctx, it.ID, voice); err != nil {
					return err //nolint:wrapcheck
				}
				return printAdded(cmd.OutOrStdout(), a.engine, it.ID)
			}

			errc := make(chan error, 1)
			go func() { errc <- a.engine.ResumeConversion(ctx, it.ID, voice) }()
			if err := runPlayer(ctx, a.engine, it.ID); err != nil {
				return err
			}
			a.engine.CancelConversion()
			if err := <-errc; err != nil {
				return err //nolint:wrapcheck
			}
			return nil
		},
	}

	storageCmd = &cobra.Command{
		Use:   "storage",
		Short: "Show how much space stored audio takes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			stats, err := a.governor.UsageStats(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck
			}
			needs, err := a.governor.NeedsCleanup(cmd.Context())
			if err != nil {
				return err //nolint:wrapcheck
			}

			w := cmd.OutOrStdout()
			fmt.Fprintln(w, keyword("Storage"), stats.String())
			fmt.Fprintln(w, faint(fmt.Sprintf("  audio    %s", humanize.IBytes(uint64(stats.Audio)))))    //nolint:gosec
			fmt.Fprintln(w, faint(fmt.Sprintf("  metadata %s", humanize.IBytes(uint64(stats.Metadata))))) //nolint:gosec
			fmt.Fprintln(w, faint("  database "+cfg.DatabasePath()))
			if needs {
				fmt.Fprintln(w, "Above the cleanup threshold, run `readaloud cleanup` to free space.")
			}
			return nil
		},
	}

	cleanupForce bool

	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Evict old audio to bring storage under its threshold",
		Long: paragraph(fmt.Sprintf("\n%s audio older than the retention period first, then the oldest items, "+
			"until usage is below the cleanup threshold. Evicted items stay in the queue and can be resumed.", keyword("Evict"))),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			report, err := a.governor.RunCleanup(cmd.Context(), a.engine, cleanupForce)
			if err != nil {
				return err //nolint:wrapcheck
			}
			w := cmd.OutOrStdout()
			if len(report.Evicted) == 0 && report.Orphans == 0 {
				fmt.Fprintln(w, "Nothing to clean up", faint("("+report.After.String()+")"))
				return nil
			}
			fmt.Fprintf(w, "Evicted %d item(s) and %d orphaned segment(s), freed %s\n",
				len(report.Evicted), report.Orphans, humanize.IBytes(uint64(max(report.Freed(), 0)))) //nolint:gosec
			fmt.Fprintln(w, faint(report.After.String()))
			return nil
		},
	}
)

// printQueue writes one line per item.
func printQueue(w io.Writer, snap queue.Snapshot, width int) error {
	if len(snap.Items) == 0 {
		_, err := fmt.Fprintln(w, "The queue is empty.")
		return err //nolint:wrapcheck
	}
	for i, it := range snap.Items {
		marker := " "
		if i == snap.CurrentIndex {
			marker = "*"
		}
		meta := fmt.Sprintf("%d/%d", it.Ready(), len(it.Segments))
		if size := it.Size(); size > 0 {
			meta += " " + humanize.Bytes(uint64(size)) //nolint:gosec
		}
		prefix := fmt.Sprintf("%s %s  %s ", marker, shortID(it.ID), ui.StatusBadge(it.Status))
		room := max(width-len(meta)-shortIDLength-20, 10)
		title := truncate.StringWithTail(oneLine(it.Title()), uint(room), "…") //nolint:gosec
		if _, err := fmt.Fprintf(w, "%s%s %s\n", prefix, title, faint(meta)); err != nil {
			return err //nolint:wrapcheck
		}
	}
	return nil
}

func init() {
	resumeCmd.Flags().BoolVarP(&resumeListen, "listen", "l", false, "open the player while converting")
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "evict the audio of every item but the current one, even below the threshold")
}
