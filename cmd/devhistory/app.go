package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sigreer/devhistory/internal/collector"
	"github.com/sigreer/devhistory/internal/config"
	"github.com/sigreer/devhistory/internal/db"
	"github.com/sigreer/devhistory/internal/device"
	"github.com/sigreer/devhistory/internal/logger"
	"github.com/sigreer/devhistory/internal/monitor"
	"github.com/sigreer/devhistory/internal/store"
)

// logFileName is where terminal mode logs when no output is configured
const logFileName = "device-history.log"

// loadConfig reads the config file and applies command-line overrides
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.Storage.Dir = v
	}
	if v, _ := flags.GetString("backend"); v != "" {
		if v != config.BackendJSON && v != config.BackendSQLite {
			return nil, fmt.Errorf("unknown backend %q (want json or sqlite)", v)
		}
		cfg.Storage.Backend = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	return cfg, nil
}

// openGateway opens the configured persistence backend
func openGateway(cfg *config.Config) (store.Gateway, error) {
	if cfg.Storage.Backend == config.BackendSQLite {
		d, err := db.New(filepath.Join(cfg.Storage.Dir, db.FileName))
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	s, err := store.NewJSONStore(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// newLogger builds the process logger. quiet redirects the default stderr
// output to a log file in the data directory so it does not interleave with
// terminal output.
func newLogger(cfg *config.Config, quiet bool) (zerolog.Logger, io.Closer, error) {
	lc := logger.Config{
		Level:   cfg.Logging.Level,
		Output:  cfg.Logging.Output,
		Console: cfg.Logging.Console,
	}
	if quiet && (lc.Output == "" || lc.Output == "stderr") {
		if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
			return zerolog.Nop(), nil, err
		}
		lc.Output = filepath.Join(cfg.Storage.Dir, logFileName)
		lc.Console = false
	}
	return logger.New(lc)
}

// newMonitor wires the platform provider, classifier and gateway
func newMonitor(cfg *config.Config, gw store.Gateway, log zerolog.Logger) (*monitor.Monitor, error) {
	provider, err := collector.New(collector.Options{
		SysfsRoot: cfg.Provider.SysfsRoot,
		UdevRoot:  cfg.Provider.UdevRoot,
		Lsblk:     cfg.Provider.Lsblk,
		Log:       logger.WithComponent(log, "collector"),
	})
	if err != nil {
		return nil, err
	}
	return monitor.New(monitor.Options{
		Provider:       provider,
		Gateway:        gw,
		Classifier:     device.NewClassifier(cfg.Classification.Rules),
		Interval:       cfg.PollInterval,
		EnrichDelay:    cfg.EnrichDelay,
		EnrichAttempts: cfg.EnrichAttempts,
		Log:            logger.WithComponent(log, "monitor"),
	})
}
