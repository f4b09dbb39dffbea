// Command epocha inspects and repacks epoch container files.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

// fileConfig holds defaults read from an optional TOML file, overridable
// by flags.
type fileConfig struct {
	SplitSize string `toml:"split_size"`
	Precision string `toml:"precision"`
	Overwrite bool   `toml:"overwrite"`
	Verbose   bool   `toml:"verbose"`
}

var (
	cfg        fileConfig
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:           "epocha",
		Short:         "Inspect and repack epoch container files",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(); err != nil {
				return err
			}
			level := slog.LevelInfo
			if verbose || cfg.Verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a TOML defaults file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newInfoCmd(), newEventsCmd(), newDropsCmd(), newSaveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the defaults file. An explicitly named file must exist;
// the implicit per-user file is optional.
func loadConfig() error {
	path := configPath
	implicit := false
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".config", "epocha", "config.toml")
		implicit = true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if implicit && os.IsNotExist(err) {
			return nil
		}

		return err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	return nil
}
