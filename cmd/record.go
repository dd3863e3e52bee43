package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/sdrecord/internal/recorder"
	"github.com/audiolibrelab/sdrecord/internal/service"

	"github.com/spf13/cobra"
)

var recordCmd = &cobra.Command{
	Use:   "record [name]",
	Short: "Record one session",
	Long: `Record a single session from the configured capture device.
The recording ends after recorder.max_duration or when Ctrl+C is pressed, and the
file is finalized in both cases. Without a name the output.file_template is used.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := ""
		if len(args) == 1 {
			name = args[0]
		}
		if maxDuration, _ := cmd.Flags().GetDuration("duration"); maxDuration > 0 {
			cfg.Recorder.MaxDuration = maxDuration
		}
		slog.Info("Record command started", "name", name, "max_duration", cfg.Recorder.MaxDuration)

		svc := service.New(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		done := make(chan error, 1)
		go func() { done <- svc.Run(ctx) }()

		updates, unsubscribe := svc.Subscribe()
		defer unsubscribe()

		session, err := svc.StartRecording(name)
		if err != nil {
			stop()
			<-done
			return fmt.Errorf("failed to start recording: %w", err)
		}

		fmt.Printf("Recording to %s - Press Ctrl+C to stop\n", session.OutputPath)

		waitForIdle(ctx, updates)

		// Cancelling drains a recording that is still active
		stop()
		if err := <-done; err != nil {
			return err
		}

		if lastErr := svc.GetLastError(); lastErr != "" {
			return errors.New("recording failed: " + lastErr)
		}

		details, err := service.ReadRecording(session.OutputPath, cfg)
		if err != nil {
			return fmt.Errorf("recording not readable: %w", err)
		}
		printRecording(details)
		return nil
	},
}

// waitForIdle returns once the recorder is back to IDLE after a session, or on ctx cancellation.
func waitForIdle(ctx context.Context, updates <-chan service.Status) {
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nStopping recording...")
			return
		case status, ok := <-updates:
			if !ok {
				return
			}
			slog.Debug("Recorder state changed", "state", status.State)
			if status.State == recorder.StateIdle {
				return
			}
		}
	}
}

func init() {
	recordCmd.Flags().Duration("duration", 0, "maximum duration of the recording (overrides config)")
}
