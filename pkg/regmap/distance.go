// Distance detector register layout
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package regmap

import "strings"

// Distance result and peak registers
const (
	RegDistanceResult        uint16 = 0x0010
	RegDistancePeak0Distance uint16 = 0x0011
	RegDistancePeak0Strength uint16 = 0x001B
)

// Distance configuration registers
const (
	RegDistanceStart                uint16 = 0x0040
	RegDistanceEnd                  uint16 = 0x0041
	RegDistanceMaxStepLength        uint16 = 0x0042
	RegDistanceCloseRangeLeakage    uint16 = 0x0043
	RegDistanceSignalQuality        uint16 = 0x0044
	RegDistanceMaxProfile           uint16 = 0x0045
	RegDistanceThresholdMethod      uint16 = 0x0046
	RegDistancePeakSorting          uint16 = 0x0047
	RegDistanceNumFramesRecorded    uint16 = 0x0048
	RegDistanceFixedAmplitudeVal    uint16 = 0x0049
	RegDistanceThresholdSensitivity uint16 = 0x004A
	RegDistanceReflectorShape       uint16 = 0x004B
	RegDistanceFixedStrengthVal     uint16 = 0x004C
)

// Distance commands
const (
	CmdDistanceApplyConfigAndCalibrate uint32 = 1
	CmdDistanceMeasure                 uint32 = 2
	CmdDistanceApplyConfiguration      uint32 = 3
	CmdDistanceCalibrate               uint32 = 4
	CmdDistanceRecalibrate             uint32 = 5
)

// MaxDistancePeaks is the number of peak register pairs the firmware exposes.
const MaxDistancePeaks = 10

// DistanceStatus is the packed detector status word of the distance firmware.
type DistanceStatus uint32

// Distance status bits. Each setup step has an OK bit in the low half and a
// matching error bit 16 positions up.
const (
	DistanceRSSRegisterOK       DistanceStatus = 1 << 0
	DistanceConfigCreateOK      DistanceStatus = 1 << 1
	DistanceSensorCreateOK      DistanceStatus = 1 << 2
	DistanceDetectorCreateOK    DistanceStatus = 1 << 3
	DistanceDetectorBufferOK    DistanceStatus = 1 << 4
	DistanceSensorBufferOK      DistanceStatus = 1 << 5
	DistanceCalibrationBufferOK DistanceStatus = 1 << 6
	DistanceConfigApplyOK       DistanceStatus = 1 << 7
	DistanceSensorCalibrateOK   DistanceStatus = 1 << 8
	DistanceDetectorCalibrateOK DistanceStatus = 1 << 9

	DistanceRSSRegisterError       DistanceStatus = 1 << 16
	DistanceConfigCreateError      DistanceStatus = 1 << 17
	DistanceSensorCreateError      DistanceStatus = 1 << 18
	DistanceDetectorCreateError    DistanceStatus = 1 << 19
	DistanceDetectorBufferError    DistanceStatus = 1 << 20
	DistanceSensorBufferError      DistanceStatus = 1 << 21
	DistanceCalibrationBufferError DistanceStatus = 1 << 22
	DistanceConfigApplyError       DistanceStatus = 1 << 23
	DistanceSensorCalibrateError   DistanceStatus = 1 << 24
	DistanceDetectorCalibrateError DistanceStatus = 1 << 25

	DistanceDetectorError DistanceStatus = 1 << 28
)

var distanceErrorNames = []struct {
	mask DistanceStatus
	name string
}{
	{DistanceRSSRegisterError, "rss register"},
	{DistanceConfigCreateError, "config create"},
	{DistanceSensorCreateError, "sensor create"},
	{DistanceDetectorCreateError, "detector create"},
	{DistanceDetectorBufferError, "detector buffer"},
	{DistanceSensorBufferError, "sensor buffer"},
	{DistanceCalibrationBufferError, "calibration buffer"},
	{DistanceConfigApplyError, "config apply"},
	{DistanceSensorCalibrateError, "sensor calibration"},
	{DistanceDetectorCalibrateError, "detector calibration"},
	{DistanceDetectorError, "detector"},
}

// Busy reports whether the firmware is still executing a command.
func (s DistanceStatus) Busy() bool {
	return uint32(s)&StatusBusy != 0
}

// HasError reports whether any setup or detector error bit is set.
func (s DistanceStatus) HasError() bool {
	for _, e := range distanceErrorNames {
		if s&e.mask != 0 {
			return true
		}
	}
	return false
}

// OK reports whether the detector finished its full bring-up: created,
// sensor calibrated and detector calibrated, with no error bits.
func (s DistanceStatus) OK() bool {
	const ready = DistanceDetectorCreateOK | DistanceSensorCalibrateOK | DistanceDetectorCalibrateOK
	return s&ready == ready && !s.HasError()
}

// ErrorDetail names the failing sub-steps, e.g. "sensor calibrate error".
func (s DistanceStatus) ErrorDetail() string {
	var parts []string
	for _, e := range distanceErrorNames {
		if s&e.mask != 0 {
			parts = append(parts, e.name+" error")
		}
	}
	if len(parts) == 0 {
		return "no error"
	}
	return strings.Join(parts, ", ")
}

// DistanceResult is the unpacked measure result word.
type DistanceResult struct {
	NumDistances      int
	NearStartEdge     bool
	CalibrationNeeded bool
	MeasureError      bool
	Temperature       int16
}

// DecodeDistanceResult unpacks the distance result register.
func DecodeDistanceResult(raw uint32) DistanceResult {
	return DistanceResult{
		NumDistances:      int(raw & 0xF),
		NearStartEdge:     raw&(1<<8) != 0,
		CalibrationNeeded: raw&(1<<9) != 0,
		MeasureError:      raw&(1<<10) != 0,
		Temperature:       TemperatureFrom(raw),
	}
}

// PeakDistanceReg returns the register holding peak n's distance in mm.
func PeakDistanceReg(n int) uint16 {
	return RegDistancePeak0Distance + uint16(n)
}

// PeakStrengthReg returns the register holding peak n's strength (x1000,
// signed).
func PeakStrengthReg(n int) uint16 {
	return RegDistancePeak0Strength + uint16(n)
}
