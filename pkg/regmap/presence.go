// Presence detector register layout
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package regmap

import "strings"

// Presence result registers
const (
	RegPresenceResult     uint16 = 0x0010
	RegPresenceDistance   uint16 = 0x0011
	RegPresenceIntraScore uint16 = 0x0012
	RegPresenceInterScore uint16 = 0x0013
)

// Presence configuration registers
const (
	RegPresenceStart            uint16 = 0x0040
	RegPresenceEnd              uint16 = 0x0041
	RegPresenceAutoProfile      uint16 = 0x0042
	RegPresenceAutoStepLength   uint16 = 0x0043
	RegPresenceManualProfile    uint16 = 0x0044
	RegPresenceManualStepLength uint16 = 0x0045
	RegPresenceAutoSubsweeps    uint16 = 0x0046
	RegPresenceHWAAS            uint16 = 0x0047
	RegPresenceSignalQuality    uint16 = 0x0048
	RegPresenceIntraThreshold   uint16 = 0x0049
	RegPresenceInterThreshold   uint16 = 0x004A
	RegPresenceFrameRate        uint16 = 0x004B
)

// Presence commands
const (
	CmdPresenceApplyConfiguration uint32 = 1
	CmdPresenceStart              uint32 = 2
	CmdPresenceStop               uint32 = 3
)

// PresenceStatus is the packed detector status word of the presence
// firmware. The bit order differs from the distance firmware: sensor
// calibrate comes before detector create.
type PresenceStatus uint32

const (
	PresenceRSSRegisterOK     PresenceStatus = 1 << 0
	PresenceConfigCreateOK    PresenceStatus = 1 << 1
	PresenceSensorCreateOK    PresenceStatus = 1 << 2
	PresenceSensorCalibrateOK PresenceStatus = 1 << 3
	PresenceDetectorCreateOK  PresenceStatus = 1 << 4
	PresenceDetectorBufferOK  PresenceStatus = 1 << 5
	PresenceSensorBufferOK    PresenceStatus = 1 << 6
	PresenceConfigApplyOK     PresenceStatus = 1 << 7

	PresenceRSSRegisterError     PresenceStatus = 1 << 16
	PresenceConfigCreateError    PresenceStatus = 1 << 17
	PresenceSensorCreateError    PresenceStatus = 1 << 18
	PresenceSensorCalibrateError PresenceStatus = 1 << 19
	PresenceDetectorCreateError  PresenceStatus = 1 << 20
	PresenceDetectorBufferError  PresenceStatus = 1 << 21
	PresenceSensorBufferError    PresenceStatus = 1 << 22
	PresenceConfigApplyError     PresenceStatus = 1 << 23

	PresenceDetectorError PresenceStatus = 1 << 28
)

var presenceErrorNames = []struct {
	mask PresenceStatus
	name string
}{
	{PresenceRSSRegisterError, "rss register"},
	{PresenceConfigCreateError, "config create"},
	{PresenceSensorCreateError, "sensor create"},
	{PresenceSensorCalibrateError, "sensor calibration"},
	{PresenceDetectorCreateError, "detector create"},
	{PresenceDetectorBufferError, "detector buffer"},
	{PresenceSensorBufferError, "sensor buffer"},
	{PresenceConfigApplyError, "config apply"},
	{PresenceDetectorError, "detector"},
}

// PresenceReady is the minimal bring-up mask a configured presence
// detector must report before it can be started.
const PresenceReady = PresenceRSSRegisterOK | PresenceConfigCreateOK | PresenceSensorCreateOK

// Busy reports whether the firmware is still executing a command.
func (s PresenceStatus) Busy() bool {
	return uint32(s)&StatusBusy != 0
}

// HasError reports whether any setup or detector error bit is set.
func (s PresenceStatus) HasError() bool {
	for _, e := range presenceErrorNames {
		if s&e.mask != 0 {
			return true
		}
	}
	return false
}

// Ready reports whether the bring-up bits in PresenceReady are all set
// with no error bits.
func (s PresenceStatus) Ready() bool {
	return s&PresenceReady == PresenceReady && !s.HasError()
}

// ErrorDetail names the failing sub-steps.
func (s PresenceStatus) ErrorDetail() string {
	var parts []string
	for _, e := range presenceErrorNames {
		if s&e.mask != 0 {
			parts = append(parts, e.name+" error")
		}
	}
	if len(parts) == 0 {
		return "no error"
	}
	return strings.Join(parts, ", ")
}

// PresenceResult is the unpacked presence result word.
type PresenceResult struct {
	Detected       bool
	DetectedSticky bool
	DetectorError  bool
	Temperature    int16
}

// DecodePresenceResult unpacks the presence result register.
func DecodePresenceResult(raw uint32) PresenceResult {
	return PresenceResult{
		Detected:       raw&(1<<0) != 0,
		DetectedSticky: raw&(1<<1) != 0,
		DetectorError:  raw&(1<<15) != 0,
		Temperature:    TemperatureFrom(raw),
	}
}
