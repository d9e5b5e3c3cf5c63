// Breathing application tests
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package detector

import (
	"testing"

	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/regmap"
)

func newTestBreathing(sim *i2c.SimBus) *BreathingDetector {
	b := NewBreathing(sim)
	b.timing = fastTiming()
	return b
}

func TestBreathingConfigureWrites(t *testing.T) {
	sim := i2c.NewSimBus()
	b := newTestBreathing(sim)

	cfg := DefaultDeviceConfig()
	if err := b.Configure(cfg); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	if got := sim.Get(regmap.RegBreathingStart); got != 300 {
		t.Errorf("expected start 300mm, got %d", got)
	}
	if got := sim.Get(regmap.RegBreathingEnd); got != 1500 {
		t.Errorf("expected end 1500mm, got %d", got)
	}
	if got := sim.Get(regmap.RegBreathingLowestRate); got != 6 {
		t.Errorf("expected lowest rate 6, got %d", got)
	}
	if got := sim.Get(regmap.RegBreathingHighestRate); got != 60 {
		t.Errorf("expected highest rate 60, got %d", got)
	}
	if got := sim.Get(regmap.RegBreathingFrameRate); got != 10000 {
		t.Errorf("expected frame rate 10000, got %d", got)
	}
	if got := sim.Get(regmap.RegBreathingNumDistances); got != 3 {
		t.Errorf("expected 3 distances, got %d", got)
	}
}

func TestBreathingConfigureRejectsInvertedRange(t *testing.T) {
	sim := i2c.NewSimBus()
	b := newTestBreathing(sim)

	cfg := DefaultDeviceConfig()
	cfg.BreathingStartMM = 1500
	cfg.BreathingEndMM = 300
	err := b.Configure(cfg)
	if !errors.Is(err, errors.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
	if len(sim.Writes()) != 0 {
		t.Error("validation failure must precede bus writes")
	}
}

func TestBreathingApplyStartsApp(t *testing.T) {
	sim := i2c.NewSimBus()
	b := newTestBreathing(sim)

	if err := b.Configure(DefaultDeviceConfig()); err != nil {
		t.Fatal(err)
	}
	if err := b.ApplyAndCalibrate(); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	cmds := sim.WritesTo(regmap.RegCommand)
	want := []uint32{
		regmap.CmdBreathingApplyConfiguration,
		regmap.CmdBreathingStart,
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

func TestBreathingApplyRequiresConfigure(t *testing.T) {
	b := newTestBreathing(i2c.NewSimBus())
	if err := b.ApplyAndCalibrate(); !errors.Is(err, errors.ErrInvalidParams) {
		t.Fatalf("expected invalid params, got %v", err)
	}
}

func TestBreathingMeasure(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegBreathingResult, 0x1|uint32(30)<<16)
	sim.Set(regmap.RegBreathingRate, 15500)
	sim.Set(regmap.RegBreathingAppState, uint32(regmap.BreathingStateEstimateRate))
	b := newTestBreathing(sim)

	m, err := b.Measure()
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if !m.RateReady {
		t.Error("expected rate ready")
	}
	if m.RateBPM != 15.5 {
		t.Errorf("expected 15.5 BPM, got %f", m.RateBPM)
	}
	if m.State != regmap.BreathingStateEstimateRate {
		t.Errorf("expected estimate_rate state, got %s", m.State)
	}
	if m.Temperature != 30 {
		t.Errorf("expected 30C, got %d", m.Temperature)
	}
}

func TestBreathingMeasureUnknownStateFallsBack(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegBreathingAppState, 9)
	b := newTestBreathing(sim)

	m, err := b.Measure()
	if err != nil {
		t.Fatalf("measure failed: %v", err)
	}
	if m.State != regmap.BreathingStateInit {
		t.Errorf("expected init fallback, got %s", m.State)
	}
}
