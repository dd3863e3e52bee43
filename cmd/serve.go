package cmd

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server for remote control",
	Long: `Run the recorder with its web remote enabled to control recording via a web interface.
This allows you to start and stop recordings from your smartphone or any device on the
same network, and to download finished recordings.

The trigger inputs of 'sdrecord run' stay active. The server will display the local
network URL for easy access from mobile devices.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetString("port")
		}
		return runDaemon(true, port)
	},
}

func init() {
	serveCmd.Flags().String("port", "8080", "port for the web server (overrides config)")
}
