// Unified error handling for the XM125 radar host
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"fmt"
	"runtime"
	"time"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Bus errors
	ErrBusOpen  ErrorCode = "BUS_OPEN"
	ErrBusRead  ErrorCode = "BUS_READ"
	ErrBusWrite ErrorCode = "BUS_WRITE"

	// Device errors
	ErrDeviceStatus  ErrorCode = "DEVICE_STATUS"
	ErrDeviceBusy    ErrorCode = "DEVICE_BUSY"
	ErrDeviceMeasure ErrorCode = "DEVICE_MEASURE"
	ErrNotConnected  ErrorCode = "NOT_CONNECTED"
	ErrWrongFirmware ErrorCode = "WRONG_FIRMWARE"
	ErrTimeout       ErrorCode = "TIMEOUT"
	ErrInvalidParams ErrorCode = "INVALID_PARAMS"
	ErrCalibration   ErrorCode = "CALIBRATION"

	// GPIO errors
	ErrGPIOExport ErrorCode = "GPIO_EXPORT"
	ErrGPIOWrite  ErrorCode = "GPIO_WRITE"

	// Firmware update errors
	ErrFirmwareFlash  ErrorCode = "FIRMWARE_FLASH"
	ErrFirmwareVerify ErrorCode = "FIRMWARE_VERIFY"

	// Configuration errors
	ErrConfigLoad       ErrorCode = "CONFIG_LOAD"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Runtime errors
	ErrRuntime     ErrorCode = "RUNTIME"
	ErrRuntimeInit ErrorCode = "RUNTIME_INIT"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Op is the operation that failed (if applicable)
	Op string

	// Register is the register address involved (if applicable)
	Register uint16

	// Status is the raw status word at the time of failure (if captured)
	Status uint32

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Op, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetOp sets the failing operation name
func (e *HostError) SetOp(op string) *HostError {
	e.Op = op
	return e
}

// SetRegister records the register address involved
func (e *HostError) SetRegister(reg uint16) *HostError {
	e.Register = reg
	return e
}

// SetStatus records the raw status word
func (e *HostError) SetStatus(status uint32) *HostError {
	e.Status = status
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// Bus errors

// BusOpenError creates an error for an I2C bus open failure
func BusOpenError(device string, err error) *HostError {
	return Wrap(err, ErrBusOpen, fmt.Sprintf("failed to open %s", device))
}

// BusReadError creates an error for an I2C read failure
func BusReadError(reg uint16, err error) *HostError {
	return Wrap(err, ErrBusRead, fmt.Sprintf("read of register 0x%04x failed", reg)).
		SetRegister(reg)
}

// BusWriteError creates an error for an I2C write failure
func BusWriteError(reg uint16, err error) *HostError {
	return Wrap(err, ErrBusWrite, fmt.Sprintf("write of register 0x%04x failed", reg)).
		SetRegister(reg)
}

// Device errors

// StatusError creates an error for a detector status word carrying error bits
func StatusError(op string, status uint32, detail string) *HostError {
	return New(ErrDeviceStatus, fmt.Sprintf("%s reported error: %s", op, detail)).
		SetOp(op).
		SetStatus(status)
}

// TimeoutError creates an error for a bounded wait that expired
func TimeoutError(op string, bound time.Duration) *HostError {
	return New(ErrTimeout, fmt.Sprintf("%s did not complete within %s", op, bound)).
		SetOp(op)
}

// NotConnectedError creates an error for operations on a disconnected session
func NotConnectedError(op string) *HostError {
	return New(ErrNotConnected, "device not connected").SetOp(op)
}

// WrongFirmwareError creates an error for an application id mismatch
func WrongFirmwareError(expected, actual uint32) *HostError {
	return New(ErrWrongFirmware, fmt.Sprintf("expected application id %d, device reports %d", expected, actual)).
		SetContext("expected", expected).
		SetContext("actual", actual)
}

// MeasureError creates an error for a failed measurement
func MeasureError(detail string) *HostError {
	return New(ErrDeviceMeasure, detail)
}

// CalibrationError creates an error for a failed calibration
func CalibrationError(detail string, status uint32) *HostError {
	return New(ErrCalibration, detail).SetStatus(status)
}

// InvalidParamsError creates an error for out-of-range configuration values
func InvalidParamsError(param string, reason string) *HostError {
	return New(ErrInvalidParams, fmt.Sprintf("invalid %s: %s", param, reason)).
		SetContext("param", param)
}

// GPIO errors

// GPIOExportError creates an error for a sysfs export failure
func GPIOExportError(pin int, err error) *HostError {
	return Wrap(err, ErrGPIOExport, fmt.Sprintf("failed to export gpio %d", pin)).
		SetContext("pin", pin)
}

// GPIOWriteError creates an error for a sysfs attribute write failure
func GPIOWriteError(pin int, attr string, err error) *HostError {
	return Wrap(err, ErrGPIOWrite, fmt.Sprintf("failed to write %s for gpio %d", attr, pin)).
		SetContext("pin", pin)
}

// Firmware errors

// FirmwareFlashError creates an error for a flash tool failure
func FirmwareFlashError(binary string, err error) *HostError {
	return Wrap(err, ErrFirmwareFlash, fmt.Sprintf("flashing %s failed", binary))
}

// FirmwareVerifyError creates an error for a post-flash verification failure
func FirmwareVerifyError(detail string) *HostError {
	return New(ErrFirmwareVerify, detail)
}

// Configuration errors

// ConfigLoadError creates an error for a config file load failure
func ConfigLoadError(path string, err error) *HostError {
	return Wrap(err, ErrConfigLoad, fmt.Sprintf("failed to load config %s", path))
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(option string, reason string) *HostError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s': %s", option, reason)).
		SetContext("option", option)
}

// Runtime errors

// RuntimeError creates a general runtime error
func RuntimeError(message string) *HostError {
	return New(ErrRuntime, message)
}

// RuntimeErrorInit creates an error for initialization failure
func RuntimeErrorInit(component string, reason string) *HostError {
	return New(ErrRuntimeInit, fmt.Sprintf("failed to initialize %s: %s", component, reason))
}

// RecoverPanic converts an in-flight panic into an error stored in errp.
// It must be deferred directly: defer errors.RecoverPanic(&err).
func RecoverPanic(errp *error) {
	if r := recover(); r != nil {
		switch x := r.(type) {
		case string:
			*errp = RuntimeError(fmt.Sprintf("panic: %s", x))
		case error:
			*errp = RuntimeError(x.Error())
		case runtime.Error:
			*errp = RuntimeError(x.Error())
		default:
			*errp = RuntimeError(fmt.Sprintf("panic: %v", x))
		}
	}
}

// Is checks if error matches given error code
func Is(err error, code ErrorCode) bool {
	if hostErr, ok := err.(*HostError); ok {
		return hostErr.Code == code
	}
	return false
}

// IsBus checks if error is an I2C bus error
func IsBus(err error) bool {
	return Is(err, ErrBusOpen) ||
		Is(err, ErrBusRead) ||
		Is(err, ErrBusWrite)
}

// IsTimeout checks if error is a timeout
func IsTimeout(err error) bool {
	return Is(err, ErrTimeout)
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigLoad) ||
		Is(err, ErrConfigValidation)
}

// IsRecoverable reports whether a reconnect attempt may clear the error
func IsRecoverable(err error) bool {
	return IsBus(err) ||
		IsTimeout(err) ||
		Is(err, ErrDeviceStatus) ||
		Is(err, ErrNotConnected)
}
