package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/behave/server"
	"github.com/cyclopcam/behave/server/config"
	"github.com/cyclopcam/behave/server/monitor"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("behave", "Segment object detections into behavior events")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file (JSON). If omitted, built-in defaults are used.", Default: ""})
	input := parser.String("i", "input", &argparse.Options{Help: "Detections file (JSON lines), or '-' for stdin", Required: true})
	eventLog := parser.String("o", "output", &argparse.Options{Help: "Override the CSV event log filename", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "Override the HTTP listen address, eg ':8090'", Default: ""})
	writeConfig := parser.String("", "write-config", &argparse.Options{Help: "Write the effective configuration to this file, and exit", Default: ""})
	verbose := parser.Flag("v", "verbose", &argparse.Options{Help: "Log the classifier's decision on every sampled frame", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Default()
	if *configFile != "" {
		cfg, err = config.Load(*configFile)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
	}
	if *eventLog != "" {
		cfg.Output.EventLog = *eventLog
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	if *writeConfig != "" {
		if err := cfg.Save(*writeConfig); err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		logger.Infof("Configuration written to %v", *writeConfig)
		return
	}

	source, err := monitor.OpenJSONLFile(logger, *input)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer source.Close()

	srv, err := server.NewServer(logger, cfg, sourceName(*input))
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	if *verbose {
		go logDecisions(logger, srv.Monitor)
	}

	if cfg.Listen != "" {
		go func() {
			if err := srv.ListenHTTP(cfg.Listen); err != nil {
				logger.Errorf("HTTP server failed: %v", err)
			}
		}()
	}

	// Tell systemd that we're alive.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	runErr := srv.Run(context.Background(), source)
	logger.Infof("Run totals: %v", srv.Totals())
	logger.Infof("Summary of recent events: %v", srv.Summary())
	srv.Close()

	if n := source.NumBadLines(); n != 0 {
		logger.Warnf("%v input lines could not be decoded", n)
	}
	if runErr != nil {
		logger.Errorf("%v", runErr)
		logger.Close()
		os.Exit(1)
	}
	logger.Close()
}

// Name recorded with every event in the aggregate DB
func sourceName(input string) string {
	if input == "-" {
		return "stdin"
	}
	return strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
}

func logDecisions(logger logs.Log, m *monitor.Monitor) {
	ch := m.AddWatcher()
	for state := range ch {
		for i, c := range state.Decision.Criteria {
			logger.Infof("Frame %v target %v: %v", state.Frame, i, c)
		}
		if state.Subject == nil {
			logger.Infof("Frame %v: no subject", state.Frame)
		}
	}
}
