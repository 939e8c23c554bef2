package main

import (
	"os"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print device connects and disconnects to the terminal",
	Long: `Run the device monitor in terminal mode. After a banner and the list of
currently attached devices, every transition is printed as it happens:

  [14:02:11] ▲ CONNECT    SanDisk Ultra [0781:5581]
  [14:05:40] ▼ DISCONNECT SanDisk Ultra [0781:5581]

Logs go to device-history.log in the data directory unless logging.output
is configured. Same as "devhistory --cli".`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	log, logCloser, err := newLogger(cfg, true)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	gw, err := openGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()

	mon, err := newMonitor(cfg, gw, log)
	if err != nil {
		return err
	}
	defer mon.Close()

	ctx, stop := signalContext()
	defer stop()

	t := newTerminal(os.Stdout)
	t.printBanner()

	updates, cancel := mon.Subscribe()
	defer cancel()
	initial := <-updates

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mon.Run(ctx); err != nil {
			log.Error().Err(err).Msg("monitor exited")
		}
	}()

	f := &follower{term: t}
	listed := false
	for {
		select {
		case <-ctx.Done():
			<-runDone
			return mon.Close()
		case s, ok := <-updates:
			if !ok {
				return nil
			}
			if listed {
				f.update(s)
				continue
			}
			// the first successful poll after startup establishes the device list
			if s.Seq > initial.Seq && s.Error == "" {
				t.printDevices(s.Devices)
				f.prime(s)
				listed = true
			} else if s.Error != "" && s.Error != f.lastErr {
				t.printNotice("enumeration failed: " + s.Error)
				f.lastErr = s.Error
			}
		}
	}
}
