// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package firmware

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/regmap"
)

type fakeHW struct {
	runResets  int
	bootResets int
	onRunReset func()
}

func (f *fakeHW) ResetToRunMode() error {
	f.runResets++
	if f.onRunReset != nil {
		f.onRunReset()
	}
	return nil
}

func (f *fakeHW) ResetToBootloaderMode() error {
	f.bootResets++
	return nil
}

type fakeFlasher struct {
	result  *FlashResult
	err     error
	invoked []string
}

func (f *fakeFlasher) Invoke(binaryPath string) (*FlashResult, error) {
	f.invoked = append(f.invoked, binaryPath)
	return f.result, f.err
}

type fakeChecksums struct {
	device    string
	binary    string
	deviceErr error
}

func (f *fakeChecksums) DeviceChecksum(t FirmwareType) (string, error) {
	return f.device, f.deviceErr
}

func (f *fakeChecksums) BinaryChecksum(t FirmwareType) (string, error) {
	return f.binary, nil
}

func newTestUpdater(t *testing.T, sim *i2c.SimBus, hw *fakeHW, flasher Flasher) *Updater {
	t.Helper()
	dir := t.TempDir()
	for _, ft := range []FirmwareType{TypeDistance, TypePresence, TypeBreathing} {
		if err := os.WriteFile(filepath.Join(dir, ft.BinaryName()), []byte{0x00}, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	u := NewUpdater(sim, hw, flasher, dir)
	u.jumpSettle = time.Millisecond
	u.bootWait = time.Millisecond
	return u
}

func TestFirmwareTypeMapping(t *testing.T) {
	cases := []struct {
		ft     FirmwareType
		appID  uint32
		binary string
	}{
		{TypeDistance, 1, "i2c_distance_detector.bin"},
		{TypePresence, 2, "i2c_presence_detector.bin"},
		{TypeBreathing, 3, "i2c_ref_app_breathing.bin"},
	}
	for _, c := range cases {
		if c.ft.ApplicationID() != c.appID {
			t.Errorf("%s: app id = %d, want %d", c.ft, c.ft.ApplicationID(), c.appID)
		}
		if c.ft.BinaryName() != c.binary {
			t.Errorf("%s: binary = %q, want %q", c.ft, c.ft.BinaryName(), c.binary)
		}
		if TypeFromAppID(c.appID) != c.ft {
			t.Errorf("TypeFromAppID(%d) = %v, want %v", c.appID, TypeFromAppID(c.appID), c.ft)
		}
	}
	if TypeFromAppID(99) != TypeDistance {
		t.Error("unknown app id must fall back to distance")
	}
}

func TestTypeForMode(t *testing.T) {
	if TypeForMode(detector.ModePresence) != TypePresence {
		t.Error("presence mode wants presence firmware")
	}
	if TypeForMode(detector.ModeCombined) != TypeDistance {
		t.Error("combined mode runs on the distance firmware")
	}
	if TypeForMode(detector.ModeBreathing) != TypeBreathing {
		t.Error("breathing mode wants breathing firmware")
	}
}

func TestUpdateNeededOnIDMismatch(t *testing.T) {
	u := newTestUpdater(t, i2c.NewSimBus(), &fakeHW{}, &fakeFlasher{})

	if !u.UpdateNeeded(1, TypePresence) {
		t.Error("distance firmware running, presence wanted: update needed")
	}
	if u.UpdateNeeded(2, TypePresence) {
		t.Error("matching id without checksummer: no update")
	}
}

func TestUpdateNeededChecksumCrossCheck(t *testing.T) {
	u := newTestUpdater(t, i2c.NewSimBus(), &fakeHW{}, &fakeFlasher{})

	u.SetChecksummer(&fakeChecksums{device: "aaa", binary: "bbb"})
	if !u.UpdateNeeded(2, TypePresence) {
		t.Error("checksum mismatch must force an update")
	}

	u.SetChecksummer(&fakeChecksums{device: "aaa", binary: "aaa"})
	if u.UpdateNeeded(2, TypePresence) {
		t.Error("matching checksum must not force an update")
	}

	u.SetChecksummer(&fakeChecksums{deviceErr: fmt.Errorf("script missing")})
	if u.UpdateNeeded(2, TypePresence) {
		t.Error("unreadable device checksum with matching id must not force an update")
	}
}

func TestUpdateFlashesAndVerifies(t *testing.T) {
	sim := i2c.NewSimBus()
	hw := &fakeHW{}
	// The new application id appears once the module reboots into run mode
	hw.onRunReset = func() {
		sim.Set(regmap.RegApplicationID, TypePresence.ApplicationID())
	}
	flasher := &fakeFlasher{result: &FlashResult{ExitOK: true, Stdout: "Memory programmed"}}
	u := newTestUpdater(t, sim, hw, flasher)

	if err := u.Update(TypePresence); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if hw.bootResets != 1 || hw.runResets != 1 {
		t.Errorf("resets = boot %d / run %d, want 1 / 1", hw.bootResets, hw.runResets)
	}
	if len(flasher.invoked) != 1 || filepath.Base(flasher.invoked[0]) != "i2c_presence_detector.bin" {
		t.Errorf("flasher invoked with %v", flasher.invoked)
	}
}

func TestUpdateSurfacesVerificationFailure(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegApplicationID, TypeDistance.ApplicationID())
	flasher := &fakeFlasher{result: &FlashResult{ExitOK: true, Stdout: "Starting execution at 0x08000000"}}
	u := newTestUpdater(t, sim, &fakeHW{}, flasher)

	err := u.Update(TypePresence)
	if !errors.Is(err, errors.ErrWrongFirmware) {
		t.Fatalf("error = %v, want wrong_firmware", err)
	}
}

func TestUpdateFlashFailureStopsSequence(t *testing.T) {
	hw := &fakeHW{}
	flasher := &fakeFlasher{result: &FlashResult{ExitOK: false, Stderr: "Failed to init device"}}
	u := newTestUpdater(t, i2c.NewSimBus(), hw, flasher)

	err := u.Update(TypeDistance)
	if !errors.Is(err, errors.ErrFirmwareFlash) {
		t.Fatalf("error = %v, want firmware_flash", err)
	}
	if hw.runResets != 0 {
		t.Error("failed flash must not reset the module into run mode")
	}
}

func TestUpdateMissingBinary(t *testing.T) {
	u := NewUpdater(i2c.NewSimBus(), &fakeHW{}, &fakeFlasher{}, t.TempDir())
	u.jumpSettle = time.Millisecond
	u.bootWait = time.Millisecond

	err := u.Update(TypeDistance)
	if !errors.Is(err, errors.ErrFirmwareFlash) {
		t.Fatalf("error = %v, want firmware_flash", err)
	}
}

func TestEnsureFirmwareSkipsWhenCurrent(t *testing.T) {
	sim := i2c.NewSimBus()
	sim.Set(regmap.RegApplicationID, TypeDistance.ApplicationID())
	flasher := &fakeFlasher{result: &FlashResult{ExitOK: true}}
	u := newTestUpdater(t, sim, &fakeHW{}, flasher)

	if err := u.EnsureFirmware(TypeDistance); err != nil {
		t.Fatalf("EnsureFirmware failed: %v", err)
	}
	if len(flasher.invoked) != 0 {
		t.Error("matching firmware must not be reflashed")
	}
}
