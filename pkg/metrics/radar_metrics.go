// Radar host metrics definitions
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// RadarMetrics holds every metric the radar host exports. A nil
// *RadarMetrics is valid and records nothing, so metrics stay optional
// for library users.
type RadarMetrics struct {
	// Measurement metrics
	MeasurementsTotal   *Counter
	MeasurementFailures *Counter
	MeasureDuration     *Histogram
	LastDistanceMeters  *Gauge
	PresenceDetected    *Gauge
	BreathingRateBPM    *Gauge
	SensorTemperature   *Gauge

	// Connection metrics
	Connected        *Gauge
	ReconnectsTotal  *Counter
	HardwareResets   *Counter
	TimeoutsTotal    *Counter
	DeviceErrors     *Counter
	BusErrors        *Counter
	CalibrationsRun  *Counter

	// Firmware metrics
	FirmwareUpdates *Counter

	// System metrics
	HostStart    *Gauge
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge

	startTime time.Time
	registry  *Registry
}

// NewRadarMetrics creates and registers all radar host metrics.
func NewRadarMetrics() *RadarMetrics {
	m := &RadarMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	m.MeasurementsTotal = NewCounter("xm125_measurements_total",
		"Measurements completed per detector mode")
	m.MeasurementFailures = NewCounter("xm125_measurement_failures_total",
		"Measurements that returned an error, per detector mode")
	m.MeasureDuration = NewHistogram("xm125_measure_duration_seconds",
		"Time from measure command to decoded result", DefaultBuckets())
	m.LastDistanceMeters = NewGauge("xm125_distance_meters",
		"Most recent measured distance")
	m.PresenceDetected = NewGauge("xm125_presence_detected",
		"1 when presence was detected in the most recent measurement")
	m.BreathingRateBPM = NewGauge("xm125_breathing_rate_bpm",
		"Most recent estimated breathing rate")
	m.SensorTemperature = NewGauge("xm125_sensor_temperature_celsius",
		"Sensor temperature reported with the most recent result")

	m.Connected = NewGauge("xm125_connected",
		"1 while the session is connected to the module")
	m.ReconnectsTotal = NewCounter("xm125_reconnects_total",
		"Automatic reconnect attempts")
	m.HardwareResets = NewCounter("xm125_hardware_resets_total",
		"GPIO reset pulses issued")
	m.TimeoutsTotal = NewCounter("xm125_timeouts_total",
		"Commands that exceeded their poll deadline")
	m.DeviceErrors = NewCounter("xm125_device_errors_total",
		"Status words carrying error bits")
	m.BusErrors = NewCounter("xm125_bus_errors_total",
		"I2C transfer failures")
	m.CalibrationsRun = NewCounter("xm125_calibrations_total",
		"Calibration and recalibration runs")

	m.FirmwareUpdates = NewCounter("xm125_firmware_updates_total",
		"Firmware flash operations per target application")

	m.HostStart = NewGauge("xm125_host_start_timestamp_seconds",
		"Unix time the host started")
	m.GoGoroutines = NewGauge("xm125_go_goroutines",
		"Number of goroutines")
	m.GoMemoryHeap = NewGauge("xm125_go_memory_heap_bytes",
		"Heap bytes in use")

	for _, metric := range []Metric{
		m.MeasurementsTotal, m.MeasurementFailures, m.MeasureDuration,
		m.LastDistanceMeters, m.PresenceDetected, m.BreathingRateBPM,
		m.SensorTemperature, m.Connected, m.ReconnectsTotal,
		m.HardwareResets, m.TimeoutsTotal, m.DeviceErrors, m.BusErrors,
		m.CalibrationsRun, m.FirmwareUpdates, m.HostStart,
		m.GoGoroutines, m.GoMemoryHeap,
	} {
		m.registry.MustRegister(metric)
	}

	m.HostStart.Set(nil, float64(m.startTime.Unix()))
	return m
}

// Registry returns the registry backing these metrics.
func (m *RadarMetrics) Registry() *Registry {
	return m.registry
}

// Gather renders all metrics in Prometheus text format.
func (m *RadarMetrics) Gather() string {
	if m == nil {
		return ""
	}
	m.UpdateSystemMetrics()
	return m.registry.Gather()
}

// UpdateSystemMetrics refreshes the Go runtime gauges.
func (m *RadarMetrics) UpdateSystemMetrics() {
	if m == nil {
		return
	}
	m.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.GoMemoryHeap.Set(nil, float64(ms.HeapInuse))
}

// RecordMeasurement records one measurement attempt.
func (m *RadarMetrics) RecordMeasurement(mode string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	labels := Labels{"mode": mode}
	if err != nil {
		m.MeasurementFailures.Inc(labels)
		return
	}
	m.MeasurementsTotal.Inc(labels)
	m.MeasureDuration.Observe(labels, elapsed.Seconds())
}

// RecordReconnect records an automatic reconnect attempt.
func (m *RadarMetrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc(nil)
}

// RecordHardwareReset records a GPIO reset pulse.
func (m *RadarMetrics) RecordHardwareReset() {
	if m == nil {
		return
	}
	m.HardwareResets.Inc(nil)
}

// RecordTimeout records an expired command deadline.
func (m *RadarMetrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.TimeoutsTotal.Inc(nil)
}

// RecordDeviceError records a status word carrying error bits.
func (m *RadarMetrics) RecordDeviceError() {
	if m == nil {
		return
	}
	m.DeviceErrors.Inc(nil)
}

// RecordBusError records an I2C transfer failure.
func (m *RadarMetrics) RecordBusError() {
	if m == nil {
		return
	}
	m.BusErrors.Inc(nil)
}

// RecordCalibration records a calibration run.
func (m *RadarMetrics) RecordCalibration() {
	if m == nil {
		return
	}
	m.CalibrationsRun.Inc(nil)
}

// RecordFirmwareUpdate records a flash operation.
func (m *RadarMetrics) RecordFirmwareUpdate(target string) {
	if m == nil {
		return
	}
	m.FirmwareUpdates.Inc(Labels{"target": target})
}

// SetConnected reflects the session connection state.
func (m *RadarMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1.0
	}
	m.Connected.Set(nil, v)
}
