package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sigreer/devhistory/internal/device"
	"github.com/sigreer/devhistory/internal/eventlog"
	"github.com/sigreer/devhistory/internal/store"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the persisted connect/disconnect history",
	Long: `Print the persisted event history without starting the monitor.

Examples:
  devhistory events                      # full history, oldest first
  devhistory events --limit 20           # last 20 events
  devhistory events --device 'USB\VID_0781&PID_5581\4C53'
  devhistory events --csv > history.csv`,
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().Bool("csv", false, "Output as CSV")
	eventsCmd.Flags().IntP("limit", "n", 0, "Only the most recent N events (0 = all)")
	eventsCmd.Flags().String("device", "", "Only events for this device identity")
}

func runEvents(cmd *cobra.Command, args []string) error {
	csvOut, _ := cmd.Flags().GetBool("csv")
	limit, _ := cmd.Flags().GetInt("limit")
	id, _ := cmd.Flags().GetString("device")

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	gw, err := openGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	events, err := loadEvents(gw, id, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	if csvOut {
		return eventlog.WriteCSV(os.Stdout, events)
	}
	printEvents(os.Stdout, events)
	return nil
}

// deviceHistory is implemented by backends that filter by identity themselves
type deviceHistory interface {
	GetDeviceEvents(deviceID string, limit int) ([]device.Event, error)
}

// loadEvents reads the history, oldest first. A load warning is returned
// alongside whatever could be read.
func loadEvents(gw store.Gateway, id string, limit int) ([]device.Event, error) {
	if dh, ok := gw.(deviceHistory); ok && id != "" {
		newest, err := dh.GetDeviceEvents(id, limit)
		return oldestFirst(newest), err
	}
	history, err := gw.LoadEvents()
	return selectEvents(history, id, limit), err
}

// selectEvents filters by identity and keeps the newest limit, oldest first
func selectEvents(history []device.Event, id string, limit int) []device.Event {
	if id != "" {
		return oldestFirst(eventlog.New(history).ForDevice(id, limit))
	}
	if limit > 0 && len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}

func oldestFirst(newest []device.Event) []device.Event {
	out := make([]device.Event, len(newest))
	for i, e := range newest {
		out[len(newest)-1-i] = e
	}
	return out
}

func printEvents(w io.Writer, events []device.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "No events recorded.")
		return
	}
	t := newTerminalWriter(w, false)
	for _, ev := range events {
		fmt.Fprintf(w, "%s  %s\n", ev.Timestamp.Local().Format("2006-01-02"), t.eventLine(ev))
	}
}
