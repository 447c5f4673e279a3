// toolx-host runs the tool X endstop router host: it loads printer.cfg,
// builds the printer objects, and serves the websocket API and the
// metrics endpoint until interrupted.
//
// Usage:
//
//	toolx-host -config ~/printer.cfg [options]
//
// Options:
//
//	-settings string  Settings file (YAML, TOML or JSON); TOOLX_* variables override it
//	-config string    Printer configuration file (overrides printer_config)
//	-script string    G-code file to run once the printer is ready
//
// Examples:
//
//	# Home X on a tool changer and report the routed endstop
//	echo -e "G28 X\nQUERY_TOOL_X_ENDSTOP" > home.gcode
//	toolx-host -config ~/printer.cfg -script home.gcode
//
//	# Expose metrics for Prometheus
//	TOOLX_METRICS_ADDRESS=:9100 toolx-host -config ~/printer.cfg
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"klipper-toolx/pkg/log"
	"klipper-toolx/pkg/metrics"
	"klipper-toolx/pkg/reactor"
	"klipper-toolx/pkg/settings"
	"klipper-toolx/pkg/webhooks"
)

func main() {
	settingsFile := flag.String("settings", "", "Settings file (YAML, TOML or JSON)")
	configFile := flag.String("config", "", "Printer configuration file")
	scriptFile := flag.String("script", "", "G-code file to run once ready")
	flag.Parse()

	if err := run(*settingsFile, *configFile, *scriptFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(settingsFile, configFile, scriptFile string) error {
	st, err := settings.Load(settingsFile)
	if err != nil {
		return err
	}
	if configFile != "" {
		st.PrinterConfig = configFile
	}
	if scriptFile != "" {
		st.Script = scriptFile
	}

	logger, closeLog, err := setupLogging(st.Log)
	if err != nil {
		return err
	}
	defer closeLog()

	logger.Info("Starting tool X endstop host")
	logger.Info("Config: %s", st.PrinterConfig)

	r := reactor.New()
	tm := metrics.NewToolXMetrics()
	h, err := buildHost(r, logger, st.PrinterConfig, tm)
	if err != nil {
		return err
	}
	r.Run()
	defer func() {
		r.End()
		r.Wait()
	}()

	var metricsSrv *metrics.Server
	if st.Metrics.Address != "" {
		cfg := metrics.DefaultServerConfig()
		cfg.Address = st.Metrics.Address
		cfg.Username = st.Metrics.Username
		cfg.Password = st.Metrics.Password
		metricsSrv = metrics.NewServer(tm, cfg)
		if err := metricsSrv.Listen(); err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		go func() {
			if err := metricsSrv.Serve(); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
		logger.Info("Metrics: http://%s/metrics", metricsSrv.Addr())
	}

	var api *webhooks.Server
	if st.API.Address != "" {
		api = webhooks.New(h.printer, webhooks.Config{
			Address:        st.API.Address,
			StatusInterval: st.API.StatusInterval,
		})
		if err := api.Listen(); err != nil {
			return fmt.Errorf("api listener: %w", err)
		}
		go func() {
			if err := api.Serve(); err != nil {
				logger.Error("api server: %v", err)
			}
		}()
	}

	if st.Script != "" {
		if err := h.runScriptFile(st.Script); err != nil {
			logger.WithError(err).Error("Script %s failed", st.Script)
		}
	}

	logger.Info("Host ready, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if api != nil {
		if err := api.Shutdown(ctx); err != nil {
			logger.Warn("api shutdown: %v", err)
		}
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logger.Warn("metrics shutdown: %v", err)
		}
	}
	return nil
}

// setupLogging builds the root logger from settings and installs it as
// the default.
func setupLogging(ls settings.LogSettings) (*log.Logger, func(), error) {
	var logger *log.Logger
	closeFn := func() {}
	if ls.File != "" {
		l, w, err := log.NewFileLogger("toolx", ls.Rotation(), true)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logger = l
		closeFn = func() { w.Close() }
	} else {
		logger = log.New("toolx")
	}
	ls.Apply(logger)
	log.SetDefaultLogger(logger)
	return logger, closeFn, nil
}
