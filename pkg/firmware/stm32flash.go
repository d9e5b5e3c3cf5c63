// stm32flash invocation
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package firmware

import (
	"bytes"
	"fmt"
	"os/exec"

	"xm125-radar-host/pkg/log"
)

// Bootloader constants for the XM125's STM32 system bootloader
const (
	defaultBootloaderAddr = 0x48
	defaultJumpAddress    = "0x08000000"
)

// STM32Flash runs the stm32flash tool against the module's I2C
// bootloader.
type STM32Flash struct {
	// Tool is the stm32flash binary, resolved via PATH when bare
	Tool string
	// Device is the i2c-dev node the bootloader answers on
	Device string
	// Addr is the bootloader's I2C address
	Addr uint8

	logger *log.Logger
}

// NewSTM32Flash creates a flasher for the given i2c-dev node.
func NewSTM32Flash(device string) *STM32Flash {
	return &STM32Flash{
		Tool:   "stm32flash",
		Device: device,
		Addr:   defaultBootloaderAddr,
		logger: log.GetLogger("stm32flash"),
	}
}

// Invoke implements Flasher. The image is written, verified and the
// module is told to jump to the application.
func (s *STM32Flash) Invoke(binaryPath string) (*FlashResult, error) {
	args := []string{
		"-w", binaryPath,
		"-v",
		"-g", defaultJumpAddress,
		"-a", fmt.Sprintf("0x%02x", s.Addr),
		s.Device,
	}
	s.logger.WithFields(log.Fields{
		"tool": s.Tool,
		"args": args,
	}).Debug("invoking flasher")

	cmd := exec.Command(s.Tool, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &FlashResult{
		ExitOK: err == nil,
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if _, isExit := err.(*exec.ExitError); err != nil && !isExit {
		// The tool could not be started at all
		return nil, err
	}
	return res, nil
}
