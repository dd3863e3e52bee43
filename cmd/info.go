package cmd

import (
	"fmt"
	"os"

	"github.com/audiolibrelab/sdrecord/internal/service"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Show the audio format and duration of a recording",
	Long: `Read a recording back and display its stream format, size and duration.
WAV headers are parsed; raw PCM files are described with the configured audio format.
The file may be a path or a recording name in the output directory.`,
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
		printRecording(details)
		return nil
	},
}

// resolveRecording accepts an existing path or a recording name in the output directory
func resolveRecording(arg string) (string, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return arg, nil
	}
	return service.New(cfg).RecordingPath(arg)
}

func printRecording(details *service.RecordingDetails) {
	fmt.Printf("=== RECORDING ===\n")
	fmt.Printf("file: %s\n", details.Path)
	fmt.Printf("size: %s\n", details.SizeHuman)
	fmt.Printf("modified: %s\n", details.ModTimeHuman)

	fmt.Printf("\n[Stream]\n")
	fmt.Printf("sample_rate: %d\n", details.Info.SampleRate)
	fmt.Printf("channels: %d\n", details.Info.Channels)
	fmt.Printf("bit_depth: %d\n", details.Info.BitDepth)
	if details.Estimated {
		fmt.Printf("duration: %s [from configuration]\n", details.Duration)
	} else {
		fmt.Printf("duration: %s\n", details.Duration)
	}
}
