// xm125-host drives an Acconeer XM125 radar module over I2C.
// It manages the module's GPIO reset sequencing, configures the
// distance, presence or breathing detector, and serves measurements
// over a websocket stream plus Prometheus metrics.
//
// Usage:
//
//	xm125-host [options]
//
// Options:
//
//	-config string     YAML configuration file (optional, defaults apply)
//	-mode string       Detector mode: distance, presence, combined, breathing
//	-monitor string    Websocket stream address (overrides config)
//	-metrics string    Metrics server address (overrides config)
//	-update-firmware   Flash the firmware matching the detector mode if needed
//	-once              Take a single measurement, print it and exit
//	-log-level string  debug, info, warn or error
//
// Examples:
//
//	# Continuous presence monitoring with a websocket stream
//	xm125-host -mode presence -monitor :8126
//
//	# One distance measurement
//	xm125-host -mode distance -once
//
// Copyright (C) 2026  XM125 Radar Host Team
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

	"xm125-radar-host/pkg/config"
	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/firmware"
	"xm125-radar-host/pkg/gpio"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/log"
	"xm125-radar-host/pkg/metrics"
	"xm125-radar-host/pkg/monitor"
	"xm125-radar-host/pkg/radar"
)

func main() {
	configFile := flag.String("config", "", "YAML configuration file")
	modeFlag := flag.String("mode", "", "Detector mode: distance, presence, combined, breathing")
	monitorAddr := flag.String("monitor", "", "Websocket stream address (e.g. :8126)")
	metricsAddr := flag.String("metrics", "", "Metrics server address (e.g. :9126)")
	updateFirmware := flag.Bool("update-firmware", false, "Flash the firmware matching the detector mode if needed")
	once := flag.Bool("once", false, "Take a single measurement, print it and exit")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	flag.Parse()

	if err := run(*configFile, *modeFlag, *monitorAddr, *metricsAddr, *logLevel, *updateFirmware, *once); err != nil {
		fmt.Fprintf(os.Stderr, "xm125-host: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile, modeFlag, monitorAddr, metricsAddr, logLevel string, updateFirmware, once bool) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	// Flags override the file
	if modeFlag != "" {
		cfg.Detector.Mode = modeFlag
	}
	if monitorAddr != "" {
		cfg.MonitorAddr = monitorAddr
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger := log.GetLogger("main")
	logger.SetLevel(log.ParseLevel(cfg.LogLevel))

	devCfg, err := cfg.DeviceSettings()
	if err != nil {
		return err
	}

	logger.WithFields(log.Fields{
		"bus":  cfg.Bus.Device,
		"addr": fmt.Sprintf("0x%02x", cfg.Bus.Address),
		"mode": devCfg.Mode.String(),
	}).Info("xm125 host starting")

	hw := gpio.NewController(cfg.PinSettings())
	if err := hw.Initialize(); err != nil {
		return err
	}

	bus, err := i2c.Open(cfg.BusSettings())
	if err != nil {
		return err
	}

	stats := metrics.NewRadarMetrics()
	session := radar.NewSession(bus, hw, devCfg)
	session.SetMetrics(stats)
	defer session.Close()

	if err := session.Connect(); err != nil {
		return err
	}
	if info, err := session.Info(); err == nil {
		logger.WithFields(log.Fields{
			"version": info.Version,
			"app_id":  info.AppID,
		}).Info("module identified")
	}

	if updateFirmware {
		flasher := firmware.NewSTM32Flash(cfg.Bus.Device)
		updater := firmware.NewUpdater(bus, hw, flasher, cfg.FirmwareDir)
		updater.SetMetrics(stats)
		if err := updater.EnsureFirmware(firmware.TypeForMode(devCfg.Mode)); err != nil {
			return err
		}
	}

	if once {
		return measureOnce(session, devCfg.Mode)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 2)

	var metricsServer *metrics.MetricsServer
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewMetricsServer(stats, cfg.MetricsAddr)
		go func() {
			if err := metricsServer.Start(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics server enabled")
	}

	var monitorServer *monitor.Server
	if cfg.MonitorAddr != "" {
		monitorServer = monitor.New(monitor.Config{
			Addr:   cfg.MonitorAddr,
			Source: session,
		})
		go func() {
			if err := monitorServer.Start(); err != nil {
				errCh <- fmt.Errorf("monitor server: %w", err)
			}
		}()
		logger.WithField("addr", cfg.MonitorAddr).Info("measurement stream enabled")
	}

	logger.Info("xm125 host ready")

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed, shutting down")
	}

	if monitorServer != nil {
		monitorServer.Stop()
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		metricsServer.Shutdown(ctx)
		cancel()
	}
	session.Disconnect()
	logger.Info("xm125 host stopped")
	return nil
}

// measureOnce takes one measurement in the configured mode and prints
// it to stdout.
func measureOnce(session *radar.Session, mode detector.DetectorMode) error {
	switch mode {
	case detector.ModePresence:
		m, err := session.MeasurePresence()
		if err != nil {
			return err
		}
		fmt.Printf("presence: detected=%t distance=%.3fm intra=%.2f inter=%.2f temp=%dC\n",
			m.Detected, m.DistanceM, m.IntraScore, m.InterScore, m.Temperature)
	case detector.ModeBreathing:
		m, err := session.MeasureBreathing()
		if err != nil {
			return err
		}
		if m.RateReady {
			fmt.Printf("breathing: rate=%.1f bpm state=%s temp=%dC\n",
				m.RateBPM, m.State, m.Temperature)
		} else {
			fmt.Printf("breathing: rate not ready, state=%s\n", m.State)
		}
	case detector.ModeCombined:
		m, err := session.MeasureCombined()
		if err != nil {
			return err
		}
		if m.Distance != nil {
			fmt.Printf("distance: %.3fm (%d peaks)\n", m.Distance.DistanceM, m.Distance.NumDistances)
		}
		if m.Presence != nil {
			fmt.Printf("presence: detected=%t at %.3fm\n", m.Presence.Detected, m.Presence.DistanceM)
		}
	default:
		m, err := session.MeasureDistance()
		if err != nil {
			return err
		}
		fmt.Printf("distance: %.3fm strength=%.1fdB peaks=%d temp=%dC\n",
			m.DistanceM, m.StrengthDB, m.NumDistances, m.Temperature)
	}
	return nil
}
