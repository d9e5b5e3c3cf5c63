// Shared detector command discipline
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package detector implements the host-side state machines of the XM125
// detector firmwares. Each detector drives the same register protocol:
// write configuration registers, issue a command, poll the status word
// until the busy bit clears, then decode results. Results are never
// decoded while an error bit is set.
package detector

import (
	"math"
	"time"

	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/regmap"
)

// Detector is the uniform surface the session drives.
type Detector interface {
	// Configure validates and writes the configuration registers.
	Configure(cfg *DeviceConfig) error

	// ApplyAndCalibrate commits the configuration and brings the
	// detector to a measurable state.
	ApplyAndCalibrate() error
}

var (
	_ Detector = (*DistanceDetector)(nil)
	_ Detector = (*PresenceDetector)(nil)
	_ Detector = (*BreathingDetector)(nil)
)

// Default command timing. Tests shorten these through the struct fields.
const (
	defaultBusyTimeout    = 5 * time.Second
	defaultCalTimeout     = 2 * time.Second
	defaultMeasureTimeout = 5 * time.Second
	defaultPollInterval   = 10 * time.Millisecond
)

// timing groups the poll bounds every detector carries.
type timing struct {
	busyTimeout    time.Duration
	calTimeout     time.Duration
	measureTimeout time.Duration
	pollInterval   time.Duration
}

func defaultTiming() timing {
	return timing{
		busyTimeout:    defaultBusyTimeout,
		calTimeout:     defaultCalTimeout,
		measureTimeout: defaultMeasureTimeout,
		pollInterval:   defaultPollInterval,
	}
}

// waitStatus polls the detector status register until the busy bit
// clears. The deadline is measured from loop start, not per poll.
func waitStatus(bus i2c.Transport, timeout, poll time.Duration, op string) (uint32, error) {
	deadline := time.Now().Add(timeout)
	for {
		raw, err := bus.ReadRegister(regmap.RegDetectorStatus)
		if err != nil {
			return 0, err
		}
		if raw&regmap.StatusBusy == 0 {
			return raw, nil
		}
		if time.Now().After(deadline) {
			return raw, errors.TimeoutError(op, timeout)
		}
		time.Sleep(poll)
	}
}

// resetModule reboots the firmware and waits for it to come back idle.
func resetModule(bus i2c.Transport, t timing) error {
	if err := bus.WriteRegister(regmap.RegCommand, regmap.CmdResetModule); err != nil {
		return err
	}
	_, err := waitStatus(bus, t.busyTimeout, t.pollInterval, "reset-module")
	return err
}

// sendCommand waits for the firmware to go idle and issues cmd. When the
// status word carries error bits the firmware is rebooted first so the
// command starts from a clean state.
func sendCommand(bus i2c.Transport, t timing, cmd uint32, hasError func(uint32) bool) error {
	raw, err := waitStatus(bus, t.busyTimeout, t.pollInterval, "wait-not-busy")
	if err != nil {
		return err
	}
	if cmd != regmap.CmdResetModule && hasError(raw) {
		if err := resetModule(bus, t); err != nil {
			return err
		}
	}
	return bus.WriteRegister(regmap.RegCommand, cmd)
}

// milli scales a value to the firmware's x1000 fixed-point
// representation, rounding to the nearest unit.
func milli(v float32) uint32 {
	return uint32(math.Round(float64(v) * 1000))
}
