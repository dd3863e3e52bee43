package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/sdrecord/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	profile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "sdrecord [name]",
	Short: "Record audio sessions onto a storage card",
	Long: `sdrecord captures PCM audio from a capture device, encodes it and writes
one file per session onto a storage volume.

A session is started and stopped with a toggle (a signal, the Enter key or the
web remote) and ends on its own after the configured maximum duration.

When a name is provided, it acts as 'sdrecord record [name]'.`,
	Args: cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// For sources command, only load config if explicitly provided
		if cmd.Name() == "sources" && cfgFile == "" {
			return nil
		}

		// Use default config path if not specified
		if cfgFile == "" {
			cfgFile = os.ExpandEnv("$HOME/.config/sdrecord.yaml")
		}

		var err error
		cfg, err = config.LoadWithProfile(cfgFile, profile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		slog.Debug("Configuration loaded", "file", cfgFile, "profile", profile, "output", cfg.Output.Directory)
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If a name is provided, delegate to record command
		if len(args) == 1 {
			return recordCmd.RunE(cmd, args)
		}
		// Otherwise show help
		return cmd.Help()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/sdrecord.yaml)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "configuration profile to use (overrides active_config from file)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug")

	// Add subcommands
	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(playCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(volumeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	default:
		slogLevel = slog.LevelDebug
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)
}
