// Breathing reference application register layout
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package regmap

// Breathing result registers
const (
	RegBreathingResult   uint16 = 0x0010
	RegBreathingRate     uint16 = 0x0011
	RegBreathingAppState uint16 = 0x0012
)

// Breathing configuration registers
const (
	RegBreathingStart                uint16 = 0x0040
	RegBreathingEnd                  uint16 = 0x0041
	RegBreathingNumDistances         uint16 = 0x0042
	RegBreathingDistDetermination    uint16 = 0x0043
	RegBreathingUsePresenceProcessor uint16 = 0x0044
	RegBreathingLowestRate           uint16 = 0x0045
	RegBreathingHighestRate          uint16 = 0x0046
	RegBreathingTimeSeriesLength     uint16 = 0x0047
	RegBreathingFrameRate            uint16 = 0x0048
	RegBreathingSweepsPerFrame       uint16 = 0x0049
	RegBreathingHWAAS                uint16 = 0x004A
	RegBreathingProfile              uint16 = 0x004B
	RegBreathingIntraThreshold       uint16 = 0x004C
)

// Breathing commands
const (
	CmdBreathingApplyConfiguration uint32 = 1
	CmdBreathingStart              uint32 = 2
	CmdBreathingStop               uint32 = 3
)

// BreathingAppState is the internal state machine position reported by the
// reference application.
type BreathingAppState uint32

const (
	BreathingStateInit BreathingAppState = iota
	BreathingStateNoPresence
	BreathingStateIntraPresence
	BreathingStateDetermineDistance
	BreathingStateEstimateRate
)

func (s BreathingAppState) String() string {
	switch s {
	case BreathingStateInit:
		return "init"
	case BreathingStateNoPresence:
		return "no_presence"
	case BreathingStateIntraPresence:
		return "intra_presence"
	case BreathingStateDetermineDistance:
		return "determine_distance"
	case BreathingStateEstimateRate:
		return "estimate_rate"
	default:
		return "unknown"
	}
}

// BreathingStatus is the packed status word of the breathing application.
// The low half mirrors the presence layout; only busy and the generic
// error bits are interpreted here.
type BreathingStatus uint32

// Busy reports whether the firmware is still executing a command.
func (s BreathingStatus) Busy() bool {
	return uint32(s)&StatusBusy != 0
}

// HasError reports whether any error bit outside busy is set.
func (s BreathingStatus) HasError() bool {
	return uint32(s)&0x7FFF0000 != 0
}

// BreathingResult is the unpacked breathing result word.
type BreathingResult struct {
	RateReady   bool
	RateSticky  bool
	Temperature int16
}

// DecodeBreathingResult unpacks the breathing result register.
func DecodeBreathingResult(raw uint32) BreathingResult {
	return BreathingResult{
		RateReady:   raw&(1<<0) != 0,
		RateSticky:  raw&(1<<1) != 0,
		Temperature: TemperatureFrom(raw),
	}
}
