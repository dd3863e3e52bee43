package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/sdrecord/internal/server"
	"github.com/audiolibrelab/sdrecord/internal/service"
	"github.com/audiolibrelab/sdrecord/internal/trigger"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the recorder and wait for the record button",
	Long: `Run the recorder as a daemon. Every press of the record button toggles a
session: the configured trigger signal (kill -USR1 <pid> by default), the Enter key
with --stdin, or the web remote when server.enabled is set.

Ctrl+C finalizes an active recording before exiting.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if stdin, _ := cmd.Flags().GetBool("stdin"); stdin {
			cfg.Trigger.Stdin = true
		}
		return runDaemon(cfg.Server.Enabled, cfg.Server.Port)
	},
}

// runDaemon drives the recorder from the trigger inputs until SIGINT or SIGTERM.
func runDaemon(withServer bool, port string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.New(cfg)

	queue := trigger.NewQueue(cfg.Trigger.QueueSize, cfg.Trigger.Debounce)

	sig, enabled, err := trigger.ParseSignal(cfg.Trigger.Signal)
	if err != nil {
		return err
	}
	if enabled {
		trigger.WatchSignals(ctx, queue, sig)
		slog.Info("Record button bound to signal", "signal", sig, "pid", os.Getpid())
	}
	if cfg.Trigger.Stdin {
		go trigger.WatchLines(ctx, queue, os.Stdin)
		fmt.Println("Press Enter to start or stop a recording")
	}
	go trigger.Forward(ctx, queue, svc)

	serverErr := make(chan error, 1)
	if withServer {
		srv := server.New(svc, cfgFile, port)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Web server failed", "error", err)
				serverErr <- err
				stop()
			}
		}()
	}

	slog.Info("Recorder ready", "output", cfg.Output.Directory, "profile", cfg.Encoder.Profile, "max_duration", cfg.Recorder.MaxDuration)

	if err := svc.Run(ctx); err != nil {
		return err
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	default:
	}

	slog.Info("Recorder stopped")
	return nil
}

func init() {
	runCmd.Flags().Bool("stdin", false, "toggle recording with the Enter key (overrides config)")
}
