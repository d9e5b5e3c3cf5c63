// Detector configuration and validation
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package detector

import (
	"fmt"
	"time"

	"xm125-radar-host/pkg/errors"
)

// DetectorMode selects which application firmware the session drives.
type DetectorMode int

const (
	ModeDistance DetectorMode = iota
	ModePresence
	ModeCombined
	ModeBreathing
)

func (m DetectorMode) String() string {
	switch m {
	case ModeDistance:
		return "distance"
	case ModePresence:
		return "presence"
	case ModeCombined:
		return "combined"
	case ModeBreathing:
		return "breathing"
	default:
		return "unknown"
	}
}

// ParseMode parses a mode name.
func ParseMode(s string) (DetectorMode, error) {
	switch s {
	case "distance":
		return ModeDistance, nil
	case "presence":
		return ModePresence, nil
	case "combined":
		return ModeCombined, nil
	case "breathing":
		return ModeBreathing, nil
	default:
		return 0, errors.InvalidParamsError("mode", fmt.Sprintf("unknown mode %q", s))
	}
}

// ParseRange parses a presence range preset name.
func ParseRange(s string) (PresenceRange, error) {
	switch s {
	case "short":
		return RangeShort, nil
	case "medium":
		return RangeMedium, nil
	case "long":
		return RangeLong, nil
	case "custom":
		return RangeCustom, nil
	default:
		return 0, errors.InvalidParamsError("range", fmt.Sprintf("unknown range %q", s))
	}
}

// PresenceRange selects a presence detection range preset.
type PresenceRange int

const (
	RangeShort PresenceRange = iota
	RangeMedium
	RangeLong
	RangeCustom
)

func (r PresenceRange) String() string {
	switch r {
	case RangeShort:
		return "short"
	case RangeMedium:
		return "medium"
	case RangeLong:
		return "long"
	case RangeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Bounds returns the preset range in millimeters. Custom ranges carry
// their bounds in DeviceConfig.
func (r PresenceRange) Bounds() (startMM, endMM uint32) {
	switch r {
	case RangeShort:
		return 60, 700
	case RangeMedium:
		return 200, 2000
	default:
		return 300, 5500
	}
}

// Sensitivity limits for the distance detector
const (
	MinSensitivity = 0.1
	MaxSensitivity = 5.0
)

// DeviceConfig carries every tunable of the three detector applications
// plus session behavior.
type DeviceConfig struct {
	Mode DetectorMode

	// Distance detector
	StartM      float32
	LengthM     float32
	Sensitivity float32
	MaxProfile  uint32

	// Presence detector
	Range          PresenceRange
	CustomStartMM  uint32
	CustomEndMM    uint32
	IntraThreshold float32
	InterThreshold float32
	FrameRate      float32
	SweepsPerFrame uint32

	// Breathing application
	BreathingStartMM uint32
	BreathingEndMM   uint32
	LowestRateBPM    uint32
	HighestRateBPM   uint32

	// Session behavior
	AutoReconnect     bool
	ReconnectInterval time.Duration
}

// DefaultDeviceConfig returns the stock configuration.
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Mode:              ModeDistance,
		StartM:            0.10,
		LengthM:           2.90,
		Sensitivity:       0.1,
		MaxProfile:        5,
		Range:             RangeLong,
		IntraThreshold:    1.3,
		InterThreshold:    1.0,
		FrameRate:         12.0,
		SweepsPerFrame:    16,
		BreathingStartMM:  300,
		BreathingEndMM:    1500,
		LowestRateBPM:     6,
		HighestRateBPM:    60,
		AutoReconnect:     true,
		ReconnectInterval: time.Second,
	}
}

// PresenceBounds resolves the configured presence range to millimeters.
func (c *DeviceConfig) PresenceBounds() (startMM, endMM uint32) {
	if c.Range == RangeCustom {
		return c.CustomStartMM, c.CustomEndMM
	}
	return c.Range.Bounds()
}

// Validate checks every field before anything touches the bus.
func (c *DeviceConfig) Validate() error {
	if c.Sensitivity < MinSensitivity || c.Sensitivity > MaxSensitivity {
		return errors.InvalidParamsError("threshold_sensitivity",
			fmt.Sprintf("%.2f outside [%.1f, %.1f]", c.Sensitivity, MinSensitivity, MaxSensitivity))
	}
	if c.StartM < 0 {
		return errors.InvalidParamsError("start", "must not be negative")
	}
	if c.LengthM <= 0 {
		return errors.InvalidParamsError("length", "must be positive")
	}
	if c.MaxProfile < 1 || c.MaxProfile > 5 {
		return errors.InvalidParamsError("max_profile", "must be within [1, 5]")
	}
	if c.FrameRate <= 0 {
		return errors.InvalidParamsError("frame_rate", "must be positive")
	}
	if c.IntraThreshold <= 0 || c.InterThreshold <= 0 {
		return errors.InvalidParamsError("presence_threshold", "must be positive")
	}
	if c.Range == RangeCustom && c.CustomEndMM <= c.CustomStartMM {
		return errors.InvalidParamsError("presence_range", "custom end must exceed start")
	}
	if c.LowestRateBPM >= c.HighestRateBPM {
		return errors.InvalidParamsError("breathing_rate", "lowest rate must be below highest")
	}
	return nil
}

// ProfileForEnd maps a presence range end to the RSS profile number.
func ProfileForEnd(endMM uint32) uint32 {
	switch {
	case endMM <= 700:
		return 1
	case endMM <= 2000:
		return 2
	case endMM <= 3500:
		return 3
	case endMM <= 6000:
		return 4
	default:
		return 5
	}
}

// StepLengthForEnd maps a presence range end to the sweep step length,
// clamped to the firmware's supported band.
func StepLengthForEnd(endMM uint32) uint32 {
	step := endMM / 60
	if step < 12 {
		return 12
	}
	if step > 120 {
		return 120
	}
	return step
}
