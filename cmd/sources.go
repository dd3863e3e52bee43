package cmd

import (
	"fmt"
	"log/slog"
	"runtime"

	"github.com/audiolibrelab/sdrecord/internal/audio"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List available capture backends and sources",
	Long: `List the capture backends usable on this system and the PulseAudio sources
that can be set as audio.device.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAvailableSources()
	},
}

func listAvailableSources() error {
	fmt.Printf("Audio Sources (%s)\n", runtime.GOOS)
	fmt.Printf("=======================================\n\n")

	backends := audio.GetAvailableBackends()
	fmt.Printf("BACKENDS (%d available):\n", len(backends))
	for _, backend := range backends {
		fmt.Printf("  - %s\n", backend)
	}
	if cfg != nil {
		fmt.Printf("  configured: %s\n", cfg.Audio.Backend)
	}
	fmt.Println()

	if !audio.PulseAvailable() {
		fmt.Println("No PulseAudio server found, only the synthetic backend can record.")
		return nil
	}

	devices, err := audio.ListPulseSources()
	if err != nil {
		slog.Error("Failed to list PulseAudio sources", "error", err)
		return fmt.Errorf("failed to get PulseAudio sources: %w", err)
	}

	fmt.Printf("PULSEAUDIO SOURCES (%d found):\n", len(devices))
	for i, device := range devices {
		fmt.Printf("  %d. %s\n     %s\n", i+1, device.ID, device.Name)
	}

	fmt.Printf("\nUsage:\n")
	fmt.Printf("  Configure audio.device with a source ID, e.g.:\n")
	if len(devices) > 0 {
		fmt.Printf("    device: %q\n\n", devices[0].ID)
	} else {
		fmt.Printf("    device: \"alsa_input.usb-mic.analog-stereo\"\n\n")
	}

	return nil
}
