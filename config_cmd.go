package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/readaloud/internal/config"
)

var (
	configPrint bool

	configCmd = &cobra.Command{
		Use:    "config",
		Hidden: false,
		Short:  "Edit the readaloud config file",
		Long: paragraph(fmt.Sprintf("\n%s the readaloud config file. We’ll use EDITOR to determine which editor to use. "+
			"If the config file doesn't exist, it will be created.", keyword("Edit"))),
		Example: paragraph("readaloud config\nreadaloud config --print\nreadaloud config --config path/to/config.yml"),
		Args:    cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			// a broken file must still be editable
			if err := loadConfig(); err != nil && configPrint {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPrint {
				b, err := cfg.YAML()
				if err != nil {
					return err //nolint:wrapcheck
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err //nolint:wrapcheck
			}

			path, err := configPath()
			if err != nil {
				return err
			}
			if err := config.EnsureFile(path); err != nil {
				return err //nolint:wrapcheck
			}

			c, err := editor.Cmd("readaloud", path)
			if err != nil {
				return fmt.Errorf("unable to set config file: %w", err)
			}
			c.Stdin = os.Stdin
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			if err := c.Run(); err != nil {
				return fmt.Errorf("unable to run command: %w", err)
			}

			fmt.Println("Wrote config file to:", path)
			return nil
		},
	}
)

// configPath is the file in use, or where a new one goes.
func configPath() (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	dirs, err := config.ConfigDirs()
	if err != nil {
		return "", err //nolint:wrapcheck
	}
	return filepath.Join(dirs[0], config.FileName), nil
}

func init() {
	configCmd.Flags().BoolVarP(&configPrint, "print", "p", false, "print the effective configuration instead of editing")
}
