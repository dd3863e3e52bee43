package cmd

import (
	"fmt"

	"github.com/audiolibrelab/sdrecord/internal/service"
	"github.com/audiolibrelab/sdrecord/internal/sink"

	"github.com/spf13/cobra"
)

var volumeCmd = &cobra.Command{
	Use:   "volume",
	Short: "Show free space and recordings on the output volume",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := service.New(cfg)

		usage, err := svc.Volume()
		if err != nil {
			return err
		}

		fmt.Printf("=== VOLUME ===\n")
		fmt.Printf("output: %s\n", cfg.Output.Directory)
		fmt.Printf("mount: %s (%s)\n", usage.Path, usage.Fstype)
		fmt.Printf("total: %s\n", sink.FormatBytes(int64(usage.Total)))
		fmt.Printf("free: %s\n", sink.FormatBytes(int64(usage.Free)))
		fmt.Printf("used: %.1f%%\n", usage.UsedPercent)
		if minFree := uint64(cfg.Output.MinFreeMB) << 20; usage.Free < minFree {
			fmt.Printf("warning: less than %d MB free, recordings will be refused\n", cfg.Output.MinFreeMB)
		}

		recordings, err := svc.ListRecordings()
		if err != nil {
			return err
		}

		fmt.Printf("\n[Recordings] (%d)\n", len(recordings))
		for _, rec := range recordings {
			fmt.Printf("  %s  %10s  %s\n", rec.ModTimeHuman, rec.SizeHuman, rec.Name)
		}
		return nil
	},
}
