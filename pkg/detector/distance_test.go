// Distance detector tests
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package detector

import (
	"testing"
	"time"

	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/regmap"
)

func fastTiming() timing {
	return timing{
		busyTimeout:    50 * time.Millisecond,
		calTimeout:     50 * time.Millisecond,
		measureTimeout: 50 * time.Millisecond,
		pollInterval:   time.Millisecond,
	}
}

func newTestDistance(sim *i2c.SimBus) *DistanceDetector {
	d := NewDistance(sim)
	d.timing = fastTiming()
	return d
}

// distanceReady is a fully calibrated, idle status word.
const distanceReady = uint32(regmap.DistanceDetectorCreateOK |
	regmap.DistanceSensorCalibrateOK |
	regmap.DistanceDetectorCalibrateOK)

func TestConfigureRejectsSensitivityBeforeAnyWrite(t *testing.T) {
	sim := i2c.NewSimBus()
	d := newTestDistance(sim)

	cfg := DefaultDeviceConfig()
	cfg.Sensitivity = 6.0
	err := d.Configure(cfg)
	if !errors.Is(err, errors.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if len(sim.Writes()) != 0 {
		t.Errorf("validation failure must precede bus writes, got %v", sim.Writes())
	}
}

func TestConfigureWritesRange(t *testing.T) {
	sim := i2c.NewSimBus()
	d := newTestDistance(sim)

	cfg := DefaultDeviceConfig()
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	if got := sim.Get(regmap.RegDistanceStart); got != 100 {
		t.Errorf("expected start 100mm, got %d", got)
	}
	if got := sim.Get(regmap.RegDistanceEnd); got != 3000 {
		t.Errorf("expected end 3000mm, got %d", got)
	}
	if got := sim.Get(regmap.RegDistanceThresholdSensitivity); got != 100 {
		t.Errorf("expected sensitivity 100, got %d", got)
	}
	if got := sim.Get(regmap.RegDistanceMaxProfile); got != 5 {
		t.Errorf("expected profile 5, got %d", got)
	}
}

func TestConfigureRoundsToNearestMillimeter(t *testing.T) {
	sim := i2c.NewSimBus()
	d := newTestDistance(sim)

	cfg := DefaultDeviceConfig()
	cfg.StartM = 0.251
	cfg.LengthM = 1.0009
	if err := d.Configure(cfg); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	if got := sim.Get(regmap.RegDistanceStart); got != 251 {
		t.Errorf("expected start 251mm, got %d", got)
	}
	if got := sim.Get(regmap.RegDistanceEnd); got != 1252 {
		t.Errorf("expected end 1252mm, got %d", got)
	}
}

func TestApplyAndCalibrate(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	d := newTestDistance(sim)

	if err := d.ApplyAndCalibrate(); err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}
	if !d.Calibrated() {
		t.Error("expected calibration timestamp to be recorded")
	}

	cmds := sim.WritesTo(regmap.RegCommand)
	if len(cmds) != 1 || cmds[0] != regmap.CmdDistanceApplyConfigAndCalibrate {
		t.Errorf("unexpected commands: %v", cmds)
	}
}

func TestApplyAndCalibrateDecodesFailure(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, uint32(regmap.DistanceSensorCalibrateError))
	d := newTestDistance(sim)

	err := d.ApplyAndCalibrate()
	if !errors.Is(err, errors.ErrCalibration) {
		t.Fatalf("expected calibration error, got %v", err)
	}
	hostErr := err.(*errors.HostError)
	if hostErr.Message != "sensor calibration error" {
		t.Errorf("expected decoded sub-step, got %q", hostErr.Message)
	}

	// An error status triggers a firmware reboot before the command
	cmds := sim.WritesTo(regmap.RegCommand)
	if len(cmds) != 2 || cmds[0] != regmap.CmdResetModule {
		t.Errorf("expected reset before command, got %v", cmds)
	}
}

func TestMeasureWaitsForBusyToClear(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	sim.QueueReads(regmap.RegDetectorStatus,
		distanceReady|regmap.StatusBusy,
		distanceReady|regmap.StatusBusy)
	sim.Set(regmap.RegDistanceResult, 1|uint32(25)<<16)
	sim.Set(regmap.PeakDistanceReg(0), 2500)
	sim.Set(regmap.PeakStrengthReg(0), 5000)
	d := newTestDistance(sim)

	m, err := d.Measure()
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if m.DistanceM != 2.5 {
		t.Errorf("expected 2.5m, got %f", m.DistanceM)
	}
	if m.StrengthDB != 5.0 {
		t.Errorf("expected 5.0dB, got %f", m.StrengthDB)
	}
	if m.Temperature != 25 {
		t.Errorf("expected 25C, got %d", m.Temperature)
	}
	if m.NumDistances != 1 || len(m.Peaks) != 1 {
		t.Errorf("expected one peak, got %+v", m)
	}
}

func TestMeasureBusyTimeoutWithoutCommand(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, regmap.StatusBusy)
	d := newTestDistance(sim)
	d.timing.busyTimeout = 10 * time.Millisecond

	_, err := d.Measure()
	if !errors.IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(sim.WritesTo(regmap.RegCommand)) != 0 {
		t.Error("no command may be issued while the firmware is busy")
	}
}

func TestMeasureZeroPeaks(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	sim.Set(regmap.RegDistanceResult, uint32(20)<<16)
	d := newTestDistance(sim)

	m, err := d.Measure()
	if err != nil {
		t.Fatalf("empty scene must not be an error: %v", err)
	}
	if m.DistanceM != 0 || m.NumDistances != 0 || len(m.Peaks) != 0 {
		t.Errorf("expected empty measurement, got %+v", m)
	}
}

func TestMeasureRecalibratesWhenFirmwareAsks(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	sim.Set(regmap.RegDistanceResult, 1|uint32(1)<<9)
	sim.Set(regmap.PeakDistanceReg(0), 1200)
	sim.Set(regmap.PeakStrengthReg(0), 2000)
	sim.OnWrite = func(reg uint16, value uint32) {
		if reg == regmap.RegCommand && value == regmap.CmdDistanceRecalibrate {
			sim.Set(regmap.RegDistanceResult, 1)
		}
	}
	d := newTestDistance(sim)

	m, err := d.Measure()
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if m.DistanceM != 1.2 {
		t.Errorf("expected 1.2m after recalibration, got %f", m.DistanceM)
	}

	cmds := sim.WritesTo(regmap.RegCommand)
	want := []uint32{
		regmap.CmdDistanceMeasure,
		regmap.CmdDistanceRecalibrate,
		regmap.CmdDistanceMeasure,
	}
	if len(cmds) != len(want) {
		t.Fatalf("unexpected command sequence: %v", cmds)
	}
	for i := range want {
		if cmds[i] != want[i] {
			t.Fatalf("unexpected command sequence: %v", cmds)
		}
	}
}

func TestMeasureErrorFlagIsNotFatal(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	sim.Set(regmap.RegDistanceResult, 1|uint32(1)<<10)
	sim.Set(regmap.PeakDistanceReg(0), 800)
	sim.Set(regmap.PeakStrengthReg(0), 1000)
	d := newTestDistance(sim)

	m, err := d.Measure()
	if err != nil {
		t.Fatalf("measure error flag must only be logged: %v", err)
	}
	if m.DistanceM != 0.8 {
		t.Errorf("expected 0.8m, got %f", m.DistanceM)
	}
}

func TestNegativeStrengthDecodes(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegDetectorStatus, distanceReady)
	sim.Set(regmap.RegDistanceResult, 1)
	sim.Set(regmap.PeakDistanceReg(0), 500)
	strength := int32(-2500)
	sim.Set(regmap.PeakStrengthReg(0), uint32(strength))
	d := newTestDistance(sim)

	m, err := d.Measure()
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if m.StrengthDB != -2.5 {
		t.Errorf("expected -2.5dB, got %f", m.StrengthDB)
	}
}
