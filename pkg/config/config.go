// Host configuration file handling
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package config loads the host's YAML configuration file and resolves
// it into the per-subsystem configs the rest of the repo consumes.
// Defaults are applied first so a partial file only overrides what it
// names.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/gpio"
	"xm125-radar-host/pkg/i2c"
)

// BusConfig selects the i2c-dev node and slave address.
type BusConfig struct {
	Device  string `yaml:"device"`
	Address uint16 `yaml:"address"`
}

// PinsConfig holds the sysfs GPIO pin numbers wired to the module.
type PinsConfig struct {
	Reset     int `yaml:"reset"`
	Interrupt int `yaml:"interrupt"`
	Wake      int `yaml:"wake"`
	Boot      int `yaml:"boot"`
}

// DetectorFileConfig is the YAML-facing detector section. String
// fields are resolved into detector types during DeviceSettings.
type DetectorFileConfig struct {
	Mode        string  `yaml:"mode"`
	StartM      float32 `yaml:"start_m"`
	LengthM     float32 `yaml:"length_m"`
	Sensitivity float32 `yaml:"sensitivity"`
	MaxProfile  uint32  `yaml:"max_profile"`

	PresenceRange  string  `yaml:"presence_range"`
	PresenceStartM float32 `yaml:"presence_start_m"`
	PresenceEndM   float32 `yaml:"presence_end_m"`
	IntraThreshold float32 `yaml:"intra_threshold"`
	InterThreshold float32 `yaml:"inter_threshold"`
	FrameRate      float32 `yaml:"frame_rate"`
	SweepsPerFrame uint32  `yaml:"sweeps_per_frame"`

	BreathingStartMM uint32 `yaml:"breathing_start_mm"`
	BreathingEndMM   uint32 `yaml:"breathing_end_mm"`
	LowestRateBPM    uint32 `yaml:"lowest_rate_bpm"`
	HighestRateBPM   uint32 `yaml:"highest_rate_bpm"`

	AutoReconnect *bool `yaml:"auto_reconnect"`
	// ReconnectInterval is a Go duration string such as "500ms" or "2s"
	ReconnectInterval string `yaml:"reconnect_interval"`
}

// Config is the full host configuration file.
type Config struct {
	Bus      BusConfig          `yaml:"bus"`
	Pins     PinsConfig         `yaml:"pins"`
	Detector DetectorFileConfig `yaml:"detector"`

	// FirmwareDir holds the detector firmware images
	FirmwareDir string `yaml:"firmware_dir"`

	// MonitorAddr serves the websocket measurement stream, empty disables
	MonitorAddr string `yaml:"monitor_addr"`
	// MetricsAddr serves Prometheus metrics, empty disables
	MetricsAddr string `yaml:"metrics_addr"`

	LogLevel string `yaml:"log_level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	bus := i2c.DefaultConfig()
	pins := gpio.DefaultConfig()
	dev := detector.DefaultDeviceConfig()
	autoReconnect := dev.AutoReconnect
	return &Config{
		Bus: BusConfig{
			Device:  bus.Device,
			Address: bus.Addr,
		},
		Pins: PinsConfig{
			Reset:     pins.ResetPin,
			Interrupt: pins.IntPin,
			Wake:      pins.WakePin,
			Boot:      pins.BootPin,
		},
		Detector: DetectorFileConfig{
			Mode:              dev.Mode.String(),
			StartM:            dev.StartM,
			LengthM:           dev.LengthM,
			Sensitivity:       dev.Sensitivity,
			MaxProfile:        dev.MaxProfile,
			PresenceRange:     dev.Range.String(),
			IntraThreshold:    dev.IntraThreshold,
			InterThreshold:    dev.InterThreshold,
			FrameRate:         dev.FrameRate,
			SweepsPerFrame:    dev.SweepsPerFrame,
			BreathingStartMM:  dev.BreathingStartMM,
			BreathingEndMM:    dev.BreathingEndMM,
			LowestRateBPM:     dev.LowestRateBPM,
			HighestRateBPM:    dev.HighestRateBPM,
			AutoReconnect:     &autoReconnect,
			ReconnectInterval: dev.ReconnectInterval.String(),
		},
		FirmwareDir: "/lib/firmware/acconeer",
		MonitorAddr: "",
		MetricsAddr: "",
		LogLevel:    "info",
	}
}

// Load reads path and overlays it on the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.ConfigLoadError(path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.ConfigLoadError(path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the file-level fields. Detector semantics are
// validated again by DeviceConfig before any register write.
func (c *Config) Validate() error {
	if c.Bus.Device == "" {
		return errors.ConfigValidationError("bus.device", "must not be empty")
	}
	if c.Bus.Address == 0 || c.Bus.Address > 0x7F {
		return errors.ConfigValidationError("bus.address", "must be a 7-bit address")
	}
	for _, pin := range []struct {
		name string
		num  int
	}{
		{"pins.reset", c.Pins.Reset},
		{"pins.interrupt", c.Pins.Interrupt},
		{"pins.wake", c.Pins.Wake},
		{"pins.boot", c.Pins.Boot},
	} {
		if pin.num <= 0 {
			return errors.ConfigValidationError(pin.name, "must be a positive pin number")
		}
	}
	if _, err := detector.ParseMode(c.Detector.Mode); err != nil {
		return errors.ConfigValidationError("detector.mode", err.Error())
	}
	if _, err := detector.ParseRange(c.Detector.PresenceRange); err != nil {
		return errors.ConfigValidationError("detector.presence_range", err.Error())
	}
	return nil
}

// BusSettings resolves the transport configuration.
func (c *Config) BusSettings() i2c.Config {
	out := i2c.DefaultConfig()
	out.Device = c.Bus.Device
	out.Addr = c.Bus.Address
	return out
}

// PinSettings resolves the GPIO configuration.
func (c *Config) PinSettings() gpio.Config {
	out := gpio.DefaultConfig()
	out.ResetPin = c.Pins.Reset
	out.IntPin = c.Pins.Interrupt
	out.WakePin = c.Pins.Wake
	out.BootPin = c.Pins.Boot
	return out
}

// DeviceSettings resolves the detector configuration. The result is
// additionally checked by DeviceConfig.Validate.
func (c *Config) DeviceSettings() (*detector.DeviceConfig, error) {
	dev := detector.DefaultDeviceConfig()

	mode, err := detector.ParseMode(c.Detector.Mode)
	if err != nil {
		return nil, err
	}
	dev.Mode = mode

	rng, err := detector.ParseRange(c.Detector.PresenceRange)
	if err != nil {
		return nil, err
	}
	dev.Range = rng
	if rng == detector.RangeCustom {
		dev.CustomStartMM = uint32(c.Detector.PresenceStartM * 1000)
		dev.CustomEndMM = uint32(c.Detector.PresenceEndM * 1000)
	}

	dev.StartM = c.Detector.StartM
	dev.LengthM = c.Detector.LengthM
	dev.Sensitivity = c.Detector.Sensitivity
	dev.MaxProfile = c.Detector.MaxProfile
	dev.IntraThreshold = c.Detector.IntraThreshold
	dev.InterThreshold = c.Detector.InterThreshold
	dev.FrameRate = c.Detector.FrameRate
	dev.SweepsPerFrame = c.Detector.SweepsPerFrame
	dev.BreathingStartMM = c.Detector.BreathingStartMM
	dev.BreathingEndMM = c.Detector.BreathingEndMM
	dev.LowestRateBPM = c.Detector.LowestRateBPM
	dev.HighestRateBPM = c.Detector.HighestRateBPM
	if c.Detector.AutoReconnect != nil {
		dev.AutoReconnect = *c.Detector.AutoReconnect
	}
	if c.Detector.ReconnectInterval != "" {
		interval, err := time.ParseDuration(c.Detector.ReconnectInterval)
		if err != nil {
			return nil, errors.ConfigValidationError("detector.reconnect_interval", err.Error())
		}
		dev.ReconnectInterval = interval
	}

	if err := dev.Validate(); err != nil {
		return nil, err
	}
	return dev, nil
}
