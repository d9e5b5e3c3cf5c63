// Distance detector state machine
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package detector

import (
	"time"

	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/log"
	"xm125-radar-host/pkg/regmap"
)

// Advanced distance defaults. These track the firmware's stock register
// values and are written on every Configure so a rebooted module always
// starts from a known state.
const (
	distMaxStepLength     = 0 // auto
	distLeakageCancel     = 0
	distSignalQuality     = 15000 // 15.0
	distThresholdCFAR     = 3
	distPeakSortStrongest = 1
	distFramesRecorded    = 100
	distFixedAmplitude    = 100000
	distFixedStrength     = 0
	distReflectorGeneric  = 1
)

// Peak is one detected reflection.
type Peak struct {
	DistanceM  float32
	StrengthDB float32
}

// DistanceMeasurement is the decoded output of one measure command.
type DistanceMeasurement struct {
	// DistanceM is peak 0, or zero when nothing was detected
	DistanceM     float32
	StrengthDB    float32
	NumDistances  int
	NearStartEdge bool
	Temperature   int16
	Peaks         []Peak
}

// DistanceDetector drives the distance detector firmware.
type DistanceDetector struct {
	bus    i2c.Transport
	logger *log.Logger
	timing timing

	configured   bool
	calibratedAt time.Time
}

// NewDistance creates a distance detector over the given transport.
func NewDistance(bus i2c.Transport) *DistanceDetector {
	return &DistanceDetector{
		bus:    bus,
		logger: log.GetLogger("distance"),
		timing: defaultTiming(),
	}
}

// Configure validates cfg and writes the full distance register block.
// Nothing is written when validation fails.
func (d *DistanceDetector) Configure(cfg *DeviceConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	startMM := milli(cfg.StartM)
	endMM := milli(cfg.StartM + cfg.LengthM)

	writes := []struct {
		reg uint16
		val uint32
	}{
		{regmap.RegDistanceStart, startMM},
		{regmap.RegDistanceEnd, endMM},
		{regmap.RegDistanceMaxStepLength, distMaxStepLength},
		{regmap.RegDistanceCloseRangeLeakage, distLeakageCancel},
		{regmap.RegDistanceSignalQuality, distSignalQuality},
		{regmap.RegDistanceMaxProfile, cfg.MaxProfile},
		{regmap.RegDistanceThresholdMethod, distThresholdCFAR},
		{regmap.RegDistancePeakSorting, distPeakSortStrongest},
		{regmap.RegDistanceNumFramesRecorded, distFramesRecorded},
		{regmap.RegDistanceFixedAmplitudeVal, distFixedAmplitude},
		{regmap.RegDistanceThresholdSensitivity, milli(cfg.Sensitivity)},
		{regmap.RegDistanceReflectorShape, distReflectorGeneric},
		{regmap.RegDistanceFixedStrengthVal, distFixedStrength},
	}
	for _, w := range writes {
		if err := d.bus.WriteRegister(w.reg, w.val); err != nil {
			return err
		}
	}

	d.configured = true
	d.logger.WithFields(log.Fields{
		"start_mm": startMM,
		"end_mm":   endMM,
	}).Debug("distance configuration written")
	return nil
}

// ApplyAndCalibrate commits the configuration and calibrates both the
// sensor and the detector.
func (d *DistanceDetector) ApplyAndCalibrate() error {
	if err := sendCommand(d.bus, d.timing, regmap.CmdDistanceApplyConfigAndCalibrate, d.hasError); err != nil {
		return err
	}
	raw, err := waitStatus(d.bus, d.timing.calTimeout, d.timing.pollInterval, "apply-and-calibrate")
	if err != nil {
		return err
	}

	st := regmap.DistanceStatus(raw)
	if st.HasError() || !st.OK() {
		return errors.CalibrationError(st.ErrorDetail(), raw).SetOp("apply-and-calibrate")
	}

	d.calibratedAt = time.Now()
	d.logger.Info("distance detector calibrated")
	return nil
}

// Recalibrate reruns the sensor calibration without touching the
// configuration.
func (d *DistanceDetector) Recalibrate() error {
	if err := sendCommand(d.bus, d.timing, regmap.CmdDistanceRecalibrate, d.hasError); err != nil {
		return err
	}
	raw, err := waitStatus(d.bus, d.timing.calTimeout, d.timing.pollInterval, "recalibrate")
	if err != nil {
		return err
	}
	if st := regmap.DistanceStatus(raw); st.HasError() {
		return errors.CalibrationError(st.ErrorDetail(), raw).SetOp("recalibrate")
	}
	d.calibratedAt = time.Now()
	return nil
}

// Calibrated reports whether a calibration has completed.
func (d *DistanceDetector) Calibrated() bool {
	return !d.calibratedAt.IsZero()
}

// CalibrationAge returns the time since the last successful calibration.
func (d *DistanceDetector) CalibrationAge() time.Duration {
	if d.calibratedAt.IsZero() {
		return 0
	}
	return time.Since(d.calibratedAt)
}

// Measure runs one measurement. When the firmware flags that its
// calibration has drifted, the detector recalibrates and retries once.
func (d *DistanceDetector) Measure() (*DistanceMeasurement, error) {
	m, recal, err := d.measureOnce()
	if err != nil {
		return nil, err
	}
	if recal {
		d.logger.Info("firmware requested recalibration, retrying measurement")
		if err := d.Recalibrate(); err != nil {
			return nil, err
		}
		m, recal, err = d.measureOnce()
		if err != nil {
			return nil, err
		}
		if recal {
			return nil, errors.MeasureError("calibration still stale after recalibrate")
		}
	}
	return m, nil
}

func (d *DistanceDetector) measureOnce() (*DistanceMeasurement, bool, error) {
	if err := sendCommand(d.bus, d.timing, regmap.CmdDistanceMeasure, d.hasError); err != nil {
		return nil, false, err
	}
	raw, err := waitStatus(d.bus, d.timing.measureTimeout, d.timing.pollInterval, "measure")
	if err != nil {
		return nil, false, err
	}
	if st := regmap.DistanceStatus(raw); st.HasError() {
		return nil, false, errors.StatusError("measure", raw, st.ErrorDetail())
	}

	resultRaw, err := d.bus.ReadRegister(regmap.RegDistanceResult)
	if err != nil {
		return nil, false, err
	}
	result := regmap.DecodeDistanceResult(resultRaw)
	if result.CalibrationNeeded {
		return nil, true, nil
	}
	if result.MeasureError {
		// The firmware still publishes usable peaks alongside this flag
		d.logger.WithField("result", resultRaw).Warn("firmware flagged a measurement error")
	}

	m := &DistanceMeasurement{
		NumDistances:  result.NumDistances,
		NearStartEdge: result.NearStartEdge,
		Temperature:   result.Temperature,
	}
	n := result.NumDistances
	if n > regmap.MaxDistancePeaks {
		n = regmap.MaxDistancePeaks
	}
	for i := 0; i < n; i++ {
		distRaw, err := d.bus.ReadRegister(regmap.PeakDistanceReg(i))
		if err != nil {
			return nil, false, err
		}
		strRaw, err := d.bus.ReadRegister(regmap.PeakStrengthReg(i))
		if err != nil {
			return nil, false, err
		}
		m.Peaks = append(m.Peaks, Peak{
			DistanceM:  regmap.MetersFromMillis(distRaw),
			StrengthDB: float32(int32(strRaw)) / 1000,
		})
	}
	if len(m.Peaks) > 0 {
		m.DistanceM = m.Peaks[0].DistanceM
		m.StrengthDB = m.Peaks[0].StrengthDB
	}
	return m, false, nil
}

func (d *DistanceDetector) hasError(raw uint32) bool {
	return regmap.DistanceStatus(raw).HasError()
}
