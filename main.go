// Package main provides the entry point for the readaloud CLI application.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dgnsrekt/readaloud/internal/config"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile string
	cfg        config.Config
	logCloser  = func() error { return nil }

	rootCmd = &cobra.Command{
		Use:   "readaloud",
		Short: "Listen to text, markdown and web pages from the terminal",
		Long: paragraph(
			fmt.Sprintf("\nConvert text to speech and %s to it as a resumable queue.", keyword("listen")),
		),
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadConfig()
		},
	}
)

// loadConfig reads the config file, environment and flags into cfg and
// routes logging accordingly.
func loadConfig() error {
	if err := config.Init(viper.GetViper(), configFile); err != nil {
		return err
	}
	if configFile == "" {
		configFile = viper.ConfigFileUsed()
	}
	c, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = c

	closer, err := setupLog(cfg.Log)
	if err != nil {
		return err
	}
	logCloser = closer
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	_ = logCloser()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (default is readaloud.yml in the user config dir)")
	flags.String("voice", "", "voice to synthesize with")
	flags.String("tts-url", "", "speech service endpoint")
	flags.String("storage", "", "directory holding the audio database")
	flags.String("log-level", "", "debug, info, warn or error")

	// Config bindings
	_ = viper.BindPFlag("tts.voice", flags.Lookup("voice"))
	_ = viper.BindPFlag("tts.url", flags.Lookup("tts-url"))
	_ = viper.BindPFlag("storage.path", flags.Lookup("storage"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))

	rootCmd.AddCommand(
		addCmd,
		listCmd,
		listenCmd,
		removeCmd,
		clearCmd,
		resumeCmd,
		storageCmd,
		cleanupCmd,
		configCmd,
		manCmd,
	)
}
