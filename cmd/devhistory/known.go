package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/sigreer/devhistory/internal/device"
)

var knownCmd = &cobra.Command{
	Use:   "known",
	Short: "List every device ever seen",
	Long: `List the persisted known-device ledger without starting the monitor.

Devices are ordered by when they were last seen, newest first. Storage
columns show the last known capacity; a trailing * marks details recorded
while the device was attached but not refreshed since it was removed.`,
	RunE: runKnown,
}

func init() {
	knownCmd.Flags().Bool("json", false, "Output as JSON")
	knownCmd.Flags().Bool("connected", false, "Only devices currently marked connected")
}

func runKnown(cmd *cobra.Command, args []string) error {
	jsonOut, _ := cmd.Flags().GetBool("json")
	onlyConnected, _ := cmd.Flags().GetBool("connected")

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	gw, err := openGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	known, err := gw.LoadLedger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	list := make([]device.KnownDevice, 0, len(known))
	for _, kd := range known {
		if onlyConnected && !kd.CurrentlyConnected {
			continue
		}
		list = append(list, kd)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].LastSeen.Equal(list[j].LastSeen) {
			return list[i].LastSeen.After(list[j].LastSeen)
		}
		return list[i].DeviceID < list[j].DeviceID
	})

	if jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	printKnown(os.Stdout, list, time.Now())
	return nil
}

func printKnown(w io.Writer, list []device.KnownDevice, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No devices recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVID:PID\tCLASS\tSEEN\tLAST SEEN\tSTORAGE\tSTATE")
	for _, kd := range list {
		state := "-"
		if kd.CurrentlyConnected {
			state = "connected"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			kd.DisplayName(),
			orDash(kd.VidPid),
			kd.Class,
			kd.TimesSeen,
			humanize.RelTime(kd.LastSeen, now, "ago", "from now"),
			storageSummary(kd),
			state,
		)
	}
	tw.Flush()
}

func storageSummary(kd device.KnownDevice) string {
	if kd.StorageInfo == nil || kd.StorageInfo.TotalBytes == 0 {
		return "-"
	}
	s := humanize.IBytes(kd.StorageInfo.TotalBytes)
	if n := len(kd.StorageInfo.Volumes); n > 0 {
		s += fmt.Sprintf(" (%d vol)", n)
	}
	if kd.StorageStale {
		s += "*"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
