// I2C register transport for the XM125 module
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package i2c provides 32-bit register access to the XM125 over a Linux
// I2C character device. Every register is addressed by a 16-bit big-endian
// address and carries a 32-bit big-endian value.
package i2c

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"xm125-radar-host/pkg/errors"
)

// Transport is the register access interface the detectors are written
// against. The hardware bus and the test simulator both implement it.
type Transport interface {
	// WriteRegister writes a 32-bit value to a register.
	WriteRegister(reg uint16, value uint32) error

	// ReadRegister reads a 32-bit value from a register.
	ReadRegister(reg uint16) (uint32, error)

	// Close releases the transport.
	Close() error
}

// I2C_SLAVE ioctl request, from linux/i2c-dev.h
const i2cSlave = 0x0703

// Config holds I2C bus configuration.
type Config struct {
	// Device path (e.g., /dev/i2c-3)
	Device string

	// Addr is the 7-bit slave address
	Addr uint16

	// SettleDelay is the pause after each transfer. The module firmware
	// needs a short gap between transactions.
	SettleDelay time.Duration
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Device:      "/dev/i2c-3",
		Addr:        0x52,
		SettleDelay: time.Millisecond,
	}
}

// Bus is a register transport over a Linux I2C character device.
type Bus struct {
	mu     sync.Mutex
	fd     int
	device string
	addr   uint16
	settle time.Duration
	sleep  func(time.Duration)
	closed bool
}

// Open opens the I2C device and binds the slave address.
func Open(cfg Config) (*Bus, error) {
	if cfg.Device == "" {
		return nil, errors.InvalidParamsError("device", "path required")
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = time.Millisecond
	}

	fd, err := unix.Open(cfg.Device, unix.O_RDWR, 0)
	if err != nil {
		return nil, errors.BusOpenError(cfg.Device, err)
	}

	if err := unix.IoctlSetInt(fd, i2cSlave, int(cfg.Addr)); err != nil {
		unix.Close(fd)
		return nil, errors.BusOpenError(cfg.Device,
			fmt.Errorf("bind slave address 0x%02x: %w", cfg.Addr, err))
	}

	return &Bus{
		fd:     fd,
		device: cfg.Device,
		addr:   cfg.Addr,
		settle: cfg.SettleDelay,
		sleep:  time.Sleep,
	}, nil
}

// WriteRegister writes a 32-bit value to a register in a single transfer.
func (b *Bus) WriteRegister(reg uint16, value uint32) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.BusWriteError(reg, unix.EBADF)
	}

	buf := encodeWrite(reg, value)
	n, err := unix.Write(b.fd, buf)
	if err != nil {
		return errors.BusWriteError(reg, err)
	}
	if n != len(buf) {
		return errors.BusWriteError(reg, fmt.Errorf("short write: %d of %d bytes", n, len(buf)))
	}
	b.sleep(b.settle)
	return nil
}

// ReadRegister reads a 32-bit value from a register. The register address
// is written first, then the value is read back.
func (b *Bus) ReadRegister(reg uint16) (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, errors.BusReadError(reg, unix.EBADF)
	}

	addr := encodeAddress(reg)
	n, err := unix.Write(b.fd, addr)
	if err != nil {
		return 0, errors.BusReadError(reg, err)
	}
	if n != len(addr) {
		return 0, errors.BusReadError(reg, fmt.Errorf("short address write: %d of %d bytes", n, len(addr)))
	}
	// The sensor MCU needs settle time after every bus transaction,
	// including the address write, or reads come back corrupted.
	b.sleep(b.settle)

	var buf [4]byte
	n, err = unix.Read(b.fd, buf[:])
	if err != nil {
		return 0, errors.BusReadError(reg, err)
	}
	if n != len(buf) {
		return 0, errors.BusReadError(reg, fmt.Errorf("short read: %d of %d bytes", n, len(buf)))
	}
	b.sleep(b.settle)
	return decodeValue(buf[:]), nil
}

// Close closes the underlying device.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return unix.Close(b.fd)
}

// Device returns the device path the bus was opened with.
func (b *Bus) Device() string {
	return b.device
}

// encodeAddress encodes the 16-bit register address prefix.
func encodeAddress(reg uint16) []byte {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], reg)
	return buf[:]
}

// encodeWrite encodes a register write frame: address followed by value.
func encodeWrite(reg uint16, value uint32) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], reg)
	binary.BigEndian.PutUint32(buf[2:6], value)
	return buf
}

// decodeValue decodes a big-endian register value.
func decodeValue(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf)
}
