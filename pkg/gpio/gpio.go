// Sysfs GPIO control for XM125 reset and boot sequencing
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package gpio drives the XM125 control pins through the sysfs GPIO
// interface: reset, wakeup, boot select and the module interrupt line.
// The sysfs root is configurable so the sequencing logic is testable
// against a plain directory tree.
package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/log"
)

// Config holds GPIO pin numbers and timing.
type Config struct {
	// SysfsRoot is the sysfs mount point (default /sys)
	SysfsRoot string

	// Pin numbers
	ResetPin int
	IntPin   int
	WakePin  int
	BootPin  int

	// ResetPulse is how long reset is held low
	ResetPulse time.Duration

	// SettleDelay is the pause after driving wakeup before reset
	SettleDelay time.Duration

	// PostResetDelay is the pause after releasing reset
	PostResetDelay time.Duration

	// SPIRecoveryDelay is the wait after unbinding SPI drivers before
	// retrying the boot pin export
	SPIRecoveryDelay time.Duration

	// DisableSPIRecovery skips the SPI driver unbind fallback
	DisableSPIRecovery bool
}

// DefaultConfig returns a Config with the XM125 carrier board pinout.
func DefaultConfig() Config {
	return Config{
		SysfsRoot:        "/sys",
		ResetPin:         124,
		IntPin:           125,
		WakePin:          139,
		BootPin:          141,
		ResetPulse:       10 * time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		PostResetDelay:   100 * time.Millisecond,
		SPIRecoveryDelay: time.Second,
	}
}

// SPI driver instances that can claim the boot select pin. Unbinding them
// releases the pin so the export can succeed.
var spiUnbinds = []struct {
	driver string
	device string
}{
	{"bus/spi/drivers/spidev", "spi1.0"},
	{"bus/spi/drivers/spidev", "spi3.0"},
	{"bus/platform/drivers/spi_imx", "30830000.spi"},
}

// Controller owns the four XM125 control pins.
type Controller struct {
	cfg         Config
	logger      *log.Logger
	initialized bool
}

// NewController creates a Controller. Pins are not touched until
// Initialize is called.
func NewController(cfg Config) *Controller {
	if cfg.SysfsRoot == "" {
		cfg.SysfsRoot = "/sys"
	}
	return &Controller{
		cfg:    cfg,
		logger: log.GetLogger("gpio"),
	}
}

// Initialize exports the pins and sets their directions. Calling it again
// is a no-op. Pins that are already exported are accepted as-is.
func (c *Controller) Initialize() error {
	if c.initialized {
		return nil
	}

	outputs := []int{c.cfg.ResetPin, c.cfg.WakePin}
	for _, pin := range outputs {
		if err := c.exportPin(pin); err != nil {
			return err
		}
		if err := c.setDirection(pin, "out"); err != nil {
			return err
		}
	}

	// The boot select pin may be claimed by an SPI controller. Unbind the
	// SPI drivers and retry once before giving up.
	if err := c.exportPin(c.cfg.BootPin); err != nil {
		if c.cfg.DisableSPIRecovery {
			return err
		}
		c.logger.WithField("pin", c.cfg.BootPin).
			Warn("boot pin export failed, unbinding SPI drivers")
		c.unbindSPIDrivers()
		time.Sleep(c.cfg.SPIRecoveryDelay)
		if err := c.exportPin(c.cfg.BootPin); err != nil {
			return err
		}
	}
	if err := c.setDirection(c.cfg.BootPin, "out"); err != nil {
		return err
	}

	if err := c.exportPin(c.cfg.IntPin); err != nil {
		return err
	}
	if err := c.setDirection(c.cfg.IntPin, "in"); err != nil {
		return err
	}

	c.initialized = true
	c.logger.WithFields(log.Fields{
		"reset": c.cfg.ResetPin,
		"int":   c.cfg.IntPin,
		"wake":  c.cfg.WakePin,
		"boot":  c.cfg.BootPin,
	}).Info("GPIO pins initialized")
	return nil
}

// ResetToRunMode pulses reset with boot select low, booting the module
// into its application firmware.
func (c *Controller) ResetToRunMode() error {
	return c.resetPulse(false)
}

// ResetToBootloaderMode pulses reset with boot select high, booting the
// module into the STM32 system bootloader.
func (c *Controller) ResetToBootloaderMode() error {
	return c.resetPulse(true)
}

// SetRunMode drives boot select low without resetting.
func (c *Controller) SetRunMode() error {
	return c.setValue(c.cfg.BootPin, 0)
}

// SetBootloaderMode drives boot select high without resetting.
func (c *Controller) SetBootloaderMode() error {
	return c.setValue(c.cfg.BootPin, 1)
}

// The pulse train ordering matters: boot select must be stable before
// reset rises, and wakeup is asserted again after the module comes up.
func (c *Controller) resetPulse(bootloader bool) error {
	if err := c.Initialize(); err != nil {
		return err
	}

	boot := 0
	mode := "run"
	if bootloader {
		boot = 1
		mode = "bootloader"
	}
	c.logger.WithField("mode", mode).Info("resetting module")

	if err := c.setValue(c.cfg.BootPin, boot); err != nil {
		return err
	}
	if err := c.setValue(c.cfg.WakePin, 1); err != nil {
		return err
	}
	time.Sleep(c.cfg.SettleDelay)

	if err := c.setValue(c.cfg.ResetPin, 0); err != nil {
		return err
	}
	time.Sleep(c.cfg.ResetPulse)
	if err := c.setValue(c.cfg.ResetPin, 1); err != nil {
		return err
	}
	time.Sleep(c.cfg.PostResetDelay)

	if err := c.setValue(c.cfg.WakePin, 1); err != nil {
		return err
	}
	time.Sleep(c.cfg.PostResetDelay)
	return nil
}

// WaitForModuleReady polls the interrupt line until it reads high.
func (c *Controller) WaitForModuleReady(timeout time.Duration) error {
	if err := c.Initialize(); err != nil {
		return err
	}

	deadline := time.Now().Add(timeout)
	for {
		v, err := c.getValue(c.cfg.IntPin)
		if err != nil {
			return err
		}
		if v == 1 {
			return nil
		}
		if time.Now().After(deadline) {
			return errors.TimeoutError("wait-module-ready", timeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *Controller) gpioPath(elem ...string) string {
	return filepath.Join(append([]string{c.cfg.SysfsRoot, "class", "gpio"}, elem...)...)
}

func (c *Controller) exportPin(pin int) error {
	dir := c.gpioPath(fmt.Sprintf("gpio%d", pin))
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	if err := os.WriteFile(c.gpioPath("export"), []byte(fmt.Sprintf("%d", pin)), 0o644); err != nil {
		// Export raced with another exporter or the pin was claimed
		if _, statErr := os.Stat(dir); statErr == nil {
			return nil
		}
		return errors.GPIOExportError(pin, err)
	}
	return nil
}

func (c *Controller) setDirection(pin int, dir string) error {
	path := c.gpioPath(fmt.Sprintf("gpio%d", pin), "direction")
	if err := os.WriteFile(path, []byte(dir), 0o644); err != nil {
		return errors.GPIOWriteError(pin, "direction", err)
	}
	return nil
}

func (c *Controller) setValue(pin, value int) error {
	path := c.gpioPath(fmt.Sprintf("gpio%d", pin), "value")
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", value)), 0o644); err != nil {
		return errors.GPIOWriteError(pin, "value", err)
	}
	return nil
}

func (c *Controller) getValue(pin int) (int, error) {
	path := c.gpioPath(fmt.Sprintf("gpio%d", pin), "value")
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.GPIOWriteError(pin, "value", err)
	}
	if strings.TrimSpace(string(data)) == "1" {
		return 1, nil
	}
	return 0, nil
}

func (c *Controller) unbindSPIDrivers() {
	for _, u := range spiUnbinds {
		path := filepath.Join(c.cfg.SysfsRoot, u.driver, "unbind")
		if err := os.WriteFile(path, []byte(u.device), 0o644); err != nil {
			c.logger.WithError(err).WithField("device", u.device).
				Debug("SPI unbind skipped")
		}
	}
}
