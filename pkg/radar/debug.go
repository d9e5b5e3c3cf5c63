// Diagnostic register dumps
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package radar

import (
	"fmt"
	"strings"

	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/regmap"
)

// RegisterValue is one register read taken during a dump.
type RegisterValue struct {
	Register uint16
	Value    uint32
}

// commonRegisters are always included in a dump.
var commonRegisters = []uint16{
	regmap.RegVersion,
	regmap.RegProtocolStatus,
	regmap.RegMeasureCounter,
	regmap.RegDetectorStatus,
	regmap.RegApplicationID,
}

// DumpRegisters reads the common register block plus the result and
// configuration ranges for the active detector mode. Reads are taken
// one register at a time; the first bus failure aborts the dump.
func (s *Session) DumpRegisters() ([]RegisterValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked("dump-registers"); err != nil {
		return nil, err
	}

	regs := append([]uint16{}, commonRegisters...)
	switch s.cfg.Mode {
	case detector.ModePresence:
		for r := regmap.RegPresenceResult; r <= regmap.RegPresenceInterScore; r++ {
			regs = append(regs, r)
		}
		for r := regmap.RegPresenceStart; r <= regmap.RegPresenceFrameRate; r++ {
			regs = append(regs, r)
		}
	case detector.ModeBreathing:
		regs = append(regs,
			regmap.RegBreathingResult,
			regmap.RegBreathingRate,
			regmap.RegBreathingAppState)
		for r := regmap.RegBreathingStart; r <= regmap.RegBreathingIntraThreshold; r++ {
			regs = append(regs, r)
		}
	default:
		regs = append(regs, regmap.RegDistanceResult)
		for n := 0; n < regmap.MaxDistancePeaks; n++ {
			regs = append(regs, regmap.PeakDistanceReg(n), regmap.PeakStrengthReg(n))
		}
		for r := regmap.RegDistanceStart; r <= regmap.RegDistanceFixedStrengthVal; r++ {
			regs = append(regs, r)
		}
	}

	out := make([]RegisterValue, 0, len(regs))
	for _, reg := range regs {
		value, err := s.bus.ReadRegister(reg)
		if err != nil {
			return out, err
		}
		out = append(out, RegisterValue{Register: reg, Value: value})
	}
	return out, nil
}

// FormatDump renders a register dump one line per register.
func FormatDump(values []RegisterValue) string {
	var sb strings.Builder
	for _, v := range values {
		fmt.Fprintf(&sb, "0x%04x = 0x%08x\n", v.Register, v.Value)
	}
	return sb.String()
}
