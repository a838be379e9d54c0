package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/queue"
	"github.com/dgnsrekt/readaloud/ui"
)

var listenCmd = &cobra.Command{
	Use:   "listen [ID|QUERY]",
	Short: "Open the player",
	Long: paragraph(fmt.Sprintf("\n%s to the queue. Starts at the given item, or where you left off.", keyword("Listen"))),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		var id string
		if len(args) > 0 {
			it, err := a.engine.Resolve(args[0])
			if err != nil {
				return err //nolint:wrapcheck
			}
			id = it.ID
		}
		return runPlayer(ctx, a.engine, id)
	},
}

func runPlayer(ctx context.Context, engine *queue.Engine, itemID string) error {
	// Read environment to get debugging stuff
	uiCfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}
	uiCfg.ItemID = itemID
	if rootCmd.PersistentFlags().Changed("voice") {
		uiCfg.Voice = cfg.TTS.Voice
	}

	// the player owns the terminal
	if !logToFile {
		log.SetOutput(io.Discard)
		defer log.SetOutput(os.Stderr)
	}

	if _, err := ui.NewProgram(ctx, uiCfg, engine).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}
