// GPIO sequencing tests against a fake sysfs tree
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gpio

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"xm125-radar-host/pkg/errors"
)

func testConfig(root string) Config {
	cfg := DefaultConfig()
	cfg.SysfsRoot = root
	cfg.ResetPulse = time.Millisecond
	cfg.SettleDelay = time.Millisecond
	cfg.PostResetDelay = time.Millisecond
	cfg.SPIRecoveryDelay = time.Millisecond
	return cfg
}

// fakeSysfs builds a sysfs tree with the given pins already exported.
func fakeSysfs(t *testing.T, pins ...int) string {
	t.Helper()
	root := t.TempDir()
	gpioDir := filepath.Join(root, "class", "gpio")
	if err := os.MkdirAll(gpioDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(gpioDir, "export"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	for _, pin := range pins {
		pinDir := filepath.Join(gpioDir, fmt.Sprintf("gpio%d", pin))
		if err := os.MkdirAll(pinDir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range []string{"direction", "value"} {
			if err := os.WriteFile(filepath.Join(pinDir, f), []byte("0"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return root
}

func readPinFile(t *testing.T, root string, pin int, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, "class", "gpio", fmt.Sprintf("gpio%d", pin), name))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestInitialize(t *testing.T) {
	cfg := testConfig(fakeSysfs(t, 124, 125, 139, 141))
	c := NewController(cfg)

	if err := c.Initialize(); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}

	for _, tc := range []struct {
		pin int
		dir string
	}{
		{124, "out"},
		{139, "out"},
		{141, "out"},
		{125, "in"},
	} {
		if got := readPinFile(t, cfg.SysfsRoot, tc.pin, "direction"); got != tc.dir {
			t.Errorf("pin %d: expected direction %q, got %q", tc.pin, tc.dir, got)
		}
	}
}

func TestInitializeIdempotent(t *testing.T) {
	cfg := testConfig(fakeSysfs(t, 124, 125, 139, 141))
	c := NewController(cfg)

	if err := c.Initialize(); err != nil {
		t.Fatalf("first initialize failed: %v", err)
	}
	if err := c.Initialize(); err != nil {
		t.Fatalf("second initialize failed: %v", err)
	}
}

func TestResetToRunMode(t *testing.T) {
	cfg := testConfig(fakeSysfs(t, 124, 125, 139, 141))
	c := NewController(cfg)

	if err := c.ResetToRunMode(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	if got := readPinFile(t, cfg.SysfsRoot, 141, "value"); got != "0" {
		t.Errorf("expected boot select low, got %q", got)
	}
	if got := readPinFile(t, cfg.SysfsRoot, 124, "value"); got != "1" {
		t.Errorf("expected reset released, got %q", got)
	}
	if got := readPinFile(t, cfg.SysfsRoot, 139, "value"); got != "1" {
		t.Errorf("expected wakeup asserted, got %q", got)
	}
}

func TestResetToBootloaderMode(t *testing.T) {
	cfg := testConfig(fakeSysfs(t, 124, 125, 139, 141))
	c := NewController(cfg)

	if err := c.ResetToBootloaderMode(); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if got := readPinFile(t, cfg.SysfsRoot, 141, "value"); got != "1" {
		t.Errorf("expected boot select high, got %q", got)
	}
}

func TestWaitForModuleReady(t *testing.T) {
	cfg := testConfig(fakeSysfs(t, 124, 125, 139, 141))
	c := NewController(cfg)
	if err := c.Initialize(); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(cfg.SysfsRoot, "class", "gpio", "gpio125", "value")
	if err := os.WriteFile(path, []byte("1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.WaitForModuleReady(100 * time.Millisecond); err != nil {
		t.Errorf("expected ready, got %v", err)
	}

	if err := os.WriteFile(path, []byte("0"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := c.WaitForModuleReady(30 * time.Millisecond)
	if !errors.IsTimeout(err) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestSPIRecoveryOnBootPinExport(t *testing.T) {
	// Boot pin 141 is not exported and the export node rejects writes.
	// The controller must unbind the SPI drivers before giving up.
	root := t.TempDir()
	gpioDir := filepath.Join(root, "class", "gpio")
	// A directory in place of the export file makes every export write fail
	if err := os.MkdirAll(filepath.Join(gpioDir, "export"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, pin := range []int{124, 125, 139} {
		pinDir := filepath.Join(gpioDir, fmt.Sprintf("gpio%d", pin))
		if err := os.MkdirAll(pinDir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range []string{"direction", "value"} {
			if err := os.WriteFile(filepath.Join(pinDir, f), []byte("0"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	spidevDir := filepath.Join(root, "bus", "spi", "drivers", "spidev")
	imxDir := filepath.Join(root, "bus", "platform", "drivers", "spi_imx")
	for _, d := range []string{spidevDir, imxDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(d, "unbind"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := testConfig(root)
	c := NewController(cfg)
	err := c.Initialize()
	if !errors.Is(err, errors.ErrGPIOExport) {
		t.Fatalf("expected export error, got %v", err)
	}

	data, readErr := os.ReadFile(filepath.Join(spidevDir, "unbind"))
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(data) != "spi3.0" {
		t.Errorf("expected spidev unbind, got %q", data)
	}
	data, readErr = os.ReadFile(filepath.Join(imxDir, "unbind"))
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(data) != "30830000.spi" {
		t.Errorf("expected spi_imx unbind, got %q", data)
	}
}

func TestSPIRecoveryDisabled(t *testing.T) {
	root := t.TempDir()
	gpioDir := filepath.Join(root, "class", "gpio")
	if err := os.MkdirAll(filepath.Join(gpioDir, "export"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, pin := range []int{124, 139} {
		pinDir := filepath.Join(gpioDir, fmt.Sprintf("gpio%d", pin))
		if err := os.MkdirAll(pinDir, 0o755); err != nil {
			t.Fatal(err)
		}
		for _, f := range []string{"direction", "value"} {
			if err := os.WriteFile(filepath.Join(pinDir, f), []byte("0"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	cfg := testConfig(root)
	cfg.DisableSPIRecovery = true
	c := NewController(cfg)
	err := c.Initialize()
	if !errors.Is(err, errors.ErrGPIOExport) {
		t.Fatalf("expected export error, got %v", err)
	}
}
