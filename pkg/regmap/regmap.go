// XM125 I2C register protocol definitions
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package regmap defines the register addresses, command words and packed
// status formats of the XM125 I2C detector firmwares. The distance, presence
// and breathing applications share the common register block but differ in
// their status bit layouts, so each gets its own status newtype.
package regmap

import "fmt"

// Registers shared by every application firmware
const (
	RegVersion        uint16 = 0x0000
	RegProtocolStatus uint16 = 0x0001
	RegMeasureCounter uint16 = 0x0002
	RegDetectorStatus uint16 = 0x0003

	RegCommand       uint16 = 0x0100
	RegApplicationID uint16 = 0xFFFF
)

// Application ids reported through RegApplicationID
const (
	AppIDDistance  uint32 = 1
	AppIDPresence  uint32 = 2
	AppIDBreathing uint32 = 3
)

// CmdResetModule reboots the module firmware. The magic value spells "RST!".
const CmdResetModule uint32 = 0x52535421

// StatusBusy is bit 31 of every application's status word.
const StatusBusy uint32 = 1 << 31

// I2C bus addresses of the module
const (
	AddrRun        = 0x52
	AddrBootloader = 0x48
)

// Protocol status error bits
const (
	ProtocolStateError    uint32 = 1 << 0
	PacketLengthError     uint32 = 1 << 1
	AddressError          uint32 = 1 << 2
	WriteFailed           uint32 = 1 << 3
	WriteToReadOnlyError  uint32 = 1 << 4
)

// Version unpacks the packed firmware version register.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

// DecodeVersion unpacks a version register value (major in bits 16-31,
// minor in bits 8-15, patch in bits 0-7).
func DecodeVersion(raw uint32) Version {
	return Version{
		Major: raw >> 16,
		Minor: (raw >> 8) & 0xFF,
		Patch: raw & 0xFF,
	}
}

func (v Version) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// ProtocolErrors returns the names of the protocol error bits set in raw.
func ProtocolErrors(raw uint32) []string {
	var errs []string
	for _, b := range []struct {
		mask uint32
		name string
	}{
		{ProtocolStateError, "protocol state error"},
		{PacketLengthError, "packet length error"},
		{AddressError, "address error"},
		{WriteFailed, "write failed"},
		{WriteToReadOnlyError, "write to read-only register"},
	} {
		if raw&b.mask != 0 {
			errs = append(errs, b.name)
		}
	}
	return errs
}

// MetersFromMillis converts a register value in millimeters (or a score
// scaled by 1000) to its float representation.
func MetersFromMillis(raw uint32) float32 {
	return float32(raw) / 1000.0
}

// TemperatureFrom extracts the signed 16-bit temperature packed in the
// upper half of a result word.
func TemperatureFrom(raw uint32) int16 {
	return int16(raw >> 16)
}
