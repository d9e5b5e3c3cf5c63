// Breathing reference application state machine
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package detector

import (
	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/log"
	"xm125-radar-host/pkg/regmap"
)

// Breathing defaults matching the reference application's stock values
const (
	breathNumDistances      = 3
	breathDeterminationSecs = 5
	breathUsePresenceProc   = 1
	breathTimeSeriesSecs    = 20
	breathFrameRate         = 10000 // 10 Hz x1000
	breathSweepsPerFrame    = 16
	breathHWAAS             = 32
	breathProfile           = 3
	breathIntraThreshold    = 6000 // 6.0 x1000
)

// BreathingMeasurement is the decoded output of one breathing read.
type BreathingMeasurement struct {
	RateReady   bool
	RateBPM     float32
	State       regmap.BreathingAppState
	Temperature int16
}

// BreathingDetector drives the breathing reference application.
type BreathingDetector struct {
	bus    i2c.Transport
	logger *log.Logger
	timing timing

	configured bool
	running    bool
}

// NewBreathing creates a breathing detector over the given transport.
func NewBreathing(bus i2c.Transport) *BreathingDetector {
	return &BreathingDetector{
		bus:    bus,
		logger: log.GetLogger("breathing"),
		timing: defaultTiming(),
	}
}

// Configure validates cfg and writes the breathing register block.
func (b *BreathingDetector) Configure(cfg *DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.BreathingEndMM <= cfg.BreathingStartMM {
		return errors.InvalidParamsError("breathing_range", "end must exceed start")
	}

	writes := []struct {
		reg uint16
		val uint32
	}{
		{regmap.RegBreathingStart, cfg.BreathingStartMM},
		{regmap.RegBreathingEnd, cfg.BreathingEndMM},
		{regmap.RegBreathingNumDistances, breathNumDistances},
		{regmap.RegBreathingDistDetermination, breathDeterminationSecs},
		{regmap.RegBreathingUsePresenceProcessor, breathUsePresenceProc},
		{regmap.RegBreathingLowestRate, cfg.LowestRateBPM},
		{regmap.RegBreathingHighestRate, cfg.HighestRateBPM},
		{regmap.RegBreathingTimeSeriesLength, breathTimeSeriesSecs},
		{regmap.RegBreathingFrameRate, breathFrameRate},
		{regmap.RegBreathingSweepsPerFrame, breathSweepsPerFrame},
		{regmap.RegBreathingHWAAS, breathHWAAS},
		{regmap.RegBreathingProfile, breathProfile},
		{regmap.RegBreathingIntraThreshold, breathIntraThreshold},
	}
	for _, w := range writes {
		if err := b.bus.WriteRegister(w.reg, w.val); err != nil {
			return err
		}
	}

	b.configured = true
	return nil
}

// ApplyAndCalibrate commits the configuration and starts the
// application.
func (b *BreathingDetector) ApplyAndCalibrate() error {
	if !b.configured {
		return errors.InvalidParamsError("breathing", "Configure must run first")
	}

	if err := sendCommand(b.bus, b.timing, regmap.CmdBreathingApplyConfiguration, b.hasError); err != nil {
		return err
	}
	raw, err := waitStatus(b.bus, b.timing.calTimeout, b.timing.pollInterval, "apply-configuration")
	if err != nil {
		return err
	}
	if st := regmap.BreathingStatus(raw); st.HasError() {
		return errors.CalibrationError("breathing apply failed", raw).SetOp("apply-configuration")
	}

	if err := sendCommand(b.bus, b.timing, regmap.CmdBreathingStart, b.hasError); err != nil {
		return err
	}
	raw, err = waitStatus(b.bus, b.timing.busyTimeout, b.timing.pollInterval, "start-app")
	if err != nil {
		return err
	}
	if st := regmap.BreathingStatus(raw); st.HasError() {
		return errors.StatusError("start-app", raw, "breathing start failed")
	}

	b.running = true
	b.logger.Info("breathing application started")
	return nil
}

// Stop halts the running application.
func (b *BreathingDetector) Stop() error {
	if !b.running {
		return nil
	}
	if err := sendCommand(b.bus, b.timing, regmap.CmdBreathingStop, b.hasError); err != nil {
		return err
	}
	if _, err := waitStatus(b.bus, b.timing.busyTimeout, b.timing.pollInterval, "stop-app"); err != nil {
		return err
	}
	b.running = false
	return nil
}

// Measure reads the current breathing result. The rate is only
// meaningful when the application reports it ready.
func (b *BreathingDetector) Measure() (*BreathingMeasurement, error) {
	resultRaw, err := b.bus.ReadRegister(regmap.RegBreathingResult)
	if err != nil {
		return nil, err
	}
	result := regmap.DecodeBreathingResult(resultRaw)

	rateRaw, err := b.bus.ReadRegister(regmap.RegBreathingRate)
	if err != nil {
		return nil, err
	}
	stateRaw, err := b.bus.ReadRegister(regmap.RegBreathingAppState)
	if err != nil {
		return nil, err
	}

	state := regmap.BreathingAppState(stateRaw)
	if state > regmap.BreathingStateEstimateRate {
		state = regmap.BreathingStateInit
	}

	return &BreathingMeasurement{
		RateReady:   result.RateReady,
		RateBPM:     regmap.MetersFromMillis(rateRaw),
		State:       state,
		Temperature: result.Temperature,
	}, nil
}

func (b *BreathingDetector) hasError(raw uint32) bool {
	return regmap.BreathingStatus(raw).HasError()
}
