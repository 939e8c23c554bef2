package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "devhistory",
	Short: "Track USB device connections and keep a history of every device seen",
	Long: `devhistory polls the attached USB devices, turns changes into connect and
disconnect events, and remembers every device it has ever seen along with
its storage details and an optional nickname.

Without a subcommand it runs the monitor and serves the HTTP API used by
the dashboard. With --cli it prints transitions to the terminal instead.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cli, _ := cmd.Flags().GetBool("cli")
		if cli {
			return runWatch(cmd, args)
		}
		return runServe(cmd, args)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is /etc/devhistory/config.yaml)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the ledger and event history")
	rootCmd.PersistentFlags().String("backend", "", "storage backend: json or sqlite")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")

	rootCmd.Flags().Bool("cli", false, "terminal mode: print transitions instead of serving the API")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(knownCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
