package cmd

import (
	"fmt"

	"github.com/audiolibrelab/sdrecord/internal/play"
	"github.com/audiolibrelab/sdrecord/internal/service"

	"github.com/spf13/cobra"
)

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a recording",
	Long: `Play a recording using a system audio player.
Will attempt to use VLC if available, then mpv, ffplay and aplay.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := resolveRecording(args[0])
		if err != nil {
			return err
		}

		details, err := service.ReadRecording(path, cfg)
		if err != nil {
			return err
		}

		if err := play.New().Play(details.Path, details.Info); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}
