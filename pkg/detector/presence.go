// Presence detector state machine
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

// Presence defaults matching the firmware's stock register values
const (
	presHWAAS         = 32
	presSignalQuality = 15000
	presAutoSubsweeps = 0
)

// PresenceMeasurement is the decoded output of one presence read.
type PresenceMeasurement struct {
	Detected    bool
	DistanceM   float32
	IntraScore  float32
	InterScore  float32
	Temperature int16
}

// PresenceDetector drives the presence detector firmware.
type PresenceDetector struct {
	bus    i2c.Transport
	logger *log.Logger
	timing timing

	startMM uint32
	endMM   uint32
	cfg     *DeviceConfig
	running bool
}

// NewPresence creates a presence detector over the given transport.
func NewPresence(bus i2c.Transport) *PresenceDetector {
	return &PresenceDetector{
		bus:    bus,
		logger: log.GetLogger("presence"),
		timing: defaultTiming(),
	}
}

// Configure validates cfg and resolves the range preset. Registers are
// not written until ApplyAndCalibrate: the apply sequence must reboot
// the firmware first, which clears them.
func (p *PresenceDetector) Configure(cfg *DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	p.startMM, p.endMM = cfg.PresenceBounds()
	p.cfg = cfg
	p.logger.WithFields(log.Fields{
		"range":    cfg.Range.String(),
		"start_mm": p.startMM,
		"end_mm":   p.endMM,
		"profile":  ProfileForEnd(p.endMM),
	}).Debug("presence range resolved")
	return nil
}

// ApplyAndCalibrate runs the full presence bring-up. The ordering is
// load-bearing: the module is rebooted first, the range registers are
// written last because the reboot clears them, and the detector is only
// started after the firmware confirms the applied configuration.
func (p *PresenceDetector) ApplyAndCalibrate() error {
	if p.cfg == nil {
		return errors.InvalidParamsError("presence", "Configure must run first")
	}

	if err := resetModule(p.bus, p.timing); err != nil {
		return err
	}

	profile := ProfileForEnd(p.endMM)
	step := StepLengthForEnd(p.endMM)
	writes := []struct {
		reg uint16
		val uint32
	}{
		{regmap.RegPresenceAutoProfile, 0},
		{regmap.RegPresenceManualProfile, profile},
		{regmap.RegPresenceAutoStepLength, 0},
		{regmap.RegPresenceManualStepLength, step},
		{regmap.RegPresenceAutoSubsweeps, presAutoSubsweeps},
		{regmap.RegPresenceHWAAS, presHWAAS},
		{regmap.RegPresenceSignalQuality, presSignalQuality},
		{regmap.RegPresenceIntraThreshold, milli(p.cfg.IntraThreshold)},
		{regmap.RegPresenceInterThreshold, milli(p.cfg.InterThreshold)},
		{regmap.RegPresenceFrameRate, milli(p.cfg.FrameRate)},
		// Range registers last
		{regmap.RegPresenceStart, p.startMM},
		{regmap.RegPresenceEnd, p.endMM},
	}
	for _, w := range writes {
		if err := p.bus.WriteRegister(w.reg, w.val); err != nil {
			return err
		}
	}

	if err := sendCommand(p.bus, p.timing, regmap.CmdPresenceApplyConfiguration, p.hasError); err != nil {
		return err
	}
	raw, err := waitStatus(p.bus, p.timing.calTimeout, p.timing.pollInterval, "apply-configuration")
	if err != nil {
		return err
	}
	st := regmap.PresenceStatus(raw)
	if st.HasError() {
		return errors.CalibrationError(st.ErrorDetail(), raw).SetOp("apply-configuration")
	}
	if !st.Ready() {
		return errors.CalibrationError("detector not ready after apply", raw).SetOp("apply-configuration")
	}

	if err := sendCommand(p.bus, p.timing, regmap.CmdPresenceStart, p.hasError); err != nil {
		return err
	}
	raw, err = waitStatus(p.bus, p.timing.busyTimeout, p.timing.pollInterval, "start-detector")
	if err != nil {
		return err
	}
	if st := regmap.PresenceStatus(raw); st.HasError() {
		return errors.StatusError("start-detector", raw, st.ErrorDetail())
	}

	p.running = true
	p.logger.WithField("range", p.cfg.Range.String()).Info("presence detector started")
	return nil
}

// Stop halts the running detector.
func (p *PresenceDetector) Stop() error {
	if !p.running {
		return nil
	}
	if err := sendCommand(p.bus, p.timing, regmap.CmdPresenceStop, p.hasError); err != nil {
		return err
	}
	if _, err := waitStatus(p.bus, p.timing.busyTimeout, p.timing.pollInterval, "stop-detector"); err != nil {
		return err
	}
	p.running = false
	return nil
}

// Measure reads the current presence result. The firmware publishes
// continuously once started, so no command is issued.
func (p *PresenceDetector) Measure() (*PresenceMeasurement, error) {
	resultRaw, err := p.bus.ReadRegister(regmap.RegPresenceResult)
	if err != nil {
		return nil, err
	}
	result := regmap.DecodePresenceResult(resultRaw)
	if result.DetectorError {
		return nil, errors.MeasureError("presence detector reported an internal error").
			SetStatus(resultRaw)
	}

	distRaw, err := p.bus.ReadRegister(regmap.RegPresenceDistance)
	if err != nil {
		return nil, err
	}
	intraRaw, err := p.bus.ReadRegister(regmap.RegPresenceIntraScore)
	if err != nil {
		return nil, err
	}
	interRaw, err := p.bus.ReadRegister(regmap.RegPresenceInterScore)
	if err != nil {
		return nil, err
	}

	return &PresenceMeasurement{
		Detected:    result.Detected,
		DistanceM:   regmap.MetersFromMillis(distRaw),
		IntraScore:  regmap.MetersFromMillis(intraRaw),
		InterScore:  regmap.MetersFromMillis(interRaw),
		Temperature: result.Temperature,
	}, nil
}

func (p *PresenceDetector) hasError(raw uint32) bool {
	return regmap.PresenceStatus(raw).HasError()
}
