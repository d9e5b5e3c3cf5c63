// Radar session lifecycle and measurement facade
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package radar ties the transport, the GPIO controller and the detector
// state machines into one connection-aware session. Callers measure
// through the session; connection loss, hardware resets and calibration
// staleness are handled here.
package radar

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/i2c"
	"xm125-radar-host/pkg/log"
	"xm125-radar-host/pkg/metrics"
	"xm125-radar-host/pkg/regmap"
)

// ConnectionState is the session's view of the module.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// HardwareController is the reset surface the session needs from the
// GPIO layer.
type HardwareController interface {
	ResetToRunMode() error
	ResetToBootloaderMode() error
}

// Reconnect and staleness policy
const (
	defaultBootWait     = time.Second
	defaultRetryBackoff = 500 * time.Millisecond
	defaultStaleAfter   = 5 * time.Minute
	maxConnectAttempts  = 3
)

// CombinedMeasurement pairs a distance and a presence reading. Either
// half may be nil when its detector failed; both failing is an error.
type CombinedMeasurement struct {
	Distance *detector.DistanceMeasurement
	Presence *detector.PresenceMeasurement
}

// ModuleInfo is the firmware identity read from the module.
type ModuleInfo struct {
	Version string
	AppID   uint32
}

// Session owns one module connection.
type Session struct {
	mu     sync.Mutex
	id     string
	bus    i2c.Transport
	hw     HardwareController
	cfg    *detector.DeviceConfig
	logger *log.Logger
	stats  *metrics.RadarMetrics

	state ConnectionState

	distance  *detector.DistanceDetector
	presence  *detector.PresenceDetector
	breathing *detector.BreathingDetector

	lastDistanceCal time.Time
	presenceReady   bool
	breathingReady  bool

	bootWait     time.Duration
	retryBackoff time.Duration
	staleAfter   time.Duration
	sleep        func(time.Duration)
}

// NewSession creates a session over the given transport and hardware
// controller. Nothing touches the bus until Connect or a measurement.
func NewSession(bus i2c.Transport, hw HardwareController, cfg *detector.DeviceConfig) *Session {
	if cfg == nil {
		cfg = detector.DefaultDeviceConfig()
	}
	id := uuid.NewString()
	return &Session{
		id:           id,
		bus:          bus,
		hw:           hw,
		cfg:          cfg,
		logger:       log.GetLogger("radar"),
		state:        StateDisconnected,
		distance:     detector.NewDistance(bus),
		presence:     detector.NewPresence(bus),
		breathing:    detector.NewBreathing(bus),
		bootWait:     defaultBootWait,
		retryBackoff: defaultRetryBackoff,
		staleAfter:   defaultStaleAfter,
		sleep:        time.Sleep,
	}
}

// SetMetrics attaches a metrics set. A nil set disables recording.
func (s *Session) SetMetrics(m *metrics.RadarMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = m
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the configured detector mode.
func (s *Session) Mode() detector.DetectorMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Mode
}

// probe checks that the module answers on the bus.
func (s *Session) probe() error {
	_, err := s.bus.ReadRegister(regmap.RegDetectorStatus)
	return err
}

// Connect probes the module once and, when it does not answer, resets
// it into run mode and retries after the boot wait.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectLocked()
}

func (s *Session) connectLocked() error {
	if s.state == StateConnected {
		return nil
	}
	s.state = StateConnecting

	err := s.probe()
	if err != nil {
		s.logger.WithField("session", s.id).WithError(err).
			Warn("module not answering, resetting into run mode")
		s.stats.RecordHardwareReset()
		if resetErr := s.hw.ResetToRunMode(); resetErr != nil {
			s.state = StateDisconnected
			return resetErr
		}
		s.sleep(s.bootWait)
		err = s.probe()
	}
	if err != nil {
		s.state = StateDisconnected
		s.stats.SetConnected(false)
		return errors.Wrap(err, errors.ErrNotConnected,
			"module did not respond after reset").SetOp("connect")
	}

	s.state = StateConnected
	s.stats.SetConnected(true)
	s.logger.WithField("session", s.id).Info("module connected")
	return nil
}

// AutoConnect retries Connect's probe up to three times with backoff.
// The hardware reset is pulled only after the first failure so a module
// that is merely slow does not get rebooted.
func (s *Session) AutoConnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoConnectLocked()
}

func (s *Session) autoConnectLocked() error {
	if s.state == StateConnected {
		return nil
	}
	s.state = StateConnecting
	s.stats.RecordReconnect()

	var lastErr error
	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		lastErr = s.probe()
		if lastErr == nil {
			s.state = StateConnected
			s.stats.SetConnected(true)
			s.logger.WithFields(log.Fields{
				"session": s.id,
				"attempt": attempt,
			}).Info("module connected")
			return nil
		}
		if attempt == 1 {
			s.logger.WithField("session", s.id).WithError(lastErr).
				Warn("first probe failed, resetting module")
			s.stats.RecordHardwareReset()
			if err := s.hw.ResetToRunMode(); err != nil {
				s.state = StateDisconnected
				return err
			}
			s.sleep(s.bootWait)
		}
		if attempt < maxConnectAttempts {
			s.sleep(s.retryBackoff)
		}
	}

	s.state = StateDisconnected
	s.stats.SetConnected(false)
	return errors.Wrap(lastErr, errors.ErrNotConnected,
		fmt.Sprintf("module did not respond in %d attempts", maxConnectAttempts)).
		SetOp("auto-connect")
}

// ensureConnectedLocked connects on demand when auto reconnect is on.
func (s *Session) ensureConnectedLocked(op string) error {
	if s.state == StateConnected {
		return nil
	}
	if !s.cfg.AutoReconnect {
		return errors.NotConnectedError(op)
	}
	return s.autoConnectLocked()
}

// SetDetectorMode switches the active detector mode. When connected the
// new mode is configured and calibrated immediately.
func (s *Session) SetDetectorMode(mode detector.DetectorMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == s.cfg.Mode && s.modeAppliedLocked() {
		return nil
	}
	s.cfg.Mode = mode
	s.lastDistanceCal = time.Time{}
	s.presenceReady = false
	s.breathingReady = false

	if s.state != StateConnected {
		return nil
	}
	return s.applyModeLocked()
}

func (s *Session) modeAppliedLocked() bool {
	switch s.cfg.Mode {
	case detector.ModeDistance, detector.ModeCombined:
		return !s.lastDistanceCal.IsZero()
	case detector.ModePresence:
		return s.presenceReady
	case detector.ModeBreathing:
		return s.breathingReady
	default:
		return false
	}
}

func (s *Session) applyModeLocked() error {
	switch s.cfg.Mode {
	case detector.ModeDistance, detector.ModeCombined:
		return s.calibrateDistanceLocked()
	case detector.ModePresence:
		return s.startPresenceLocked()
	case detector.ModeBreathing:
		return s.startBreathingLocked()
	default:
		return errors.InvalidParamsError("mode", "unknown detector mode")
	}
}

// bringUpLocked configures and calibrates one detector through the
// uniform detector surface.
func (s *Session) bringUpLocked(d detector.Detector) error {
	if err := d.Configure(s.cfg); err != nil {
		return err
	}
	if err := d.ApplyAndCalibrate(); err != nil {
		s.classifyFailure(err)
		return err
	}
	s.stats.RecordCalibration()
	return nil
}

func (s *Session) calibrateDistanceLocked() error {
	if err := s.bringUpLocked(s.distance); err != nil {
		return err
	}
	s.lastDistanceCal = time.Now()
	return nil
}

func (s *Session) startPresenceLocked() error {
	if err := s.bringUpLocked(s.presence); err != nil {
		return err
	}
	s.presenceReady = true
	return nil
}

func (s *Session) startBreathingLocked() error {
	if err := s.bringUpLocked(s.breathing); err != nil {
		return err
	}
	s.breathingReady = true
	return nil
}

// distanceCalStale reports whether the distance detector needs a fresh
// calibration before measuring.
func (s *Session) distanceCalStale() bool {
	if s.lastDistanceCal.IsZero() {
		return true
	}
	return time.Since(s.lastDistanceCal) > s.staleAfter
}

// MeasureDistance runs one distance measurement, recalibrating first
// when the detector was never calibrated or the calibration aged out.
func (s *Session) MeasureDistance() (*detector.DistanceMeasurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measureDistanceLocked()
}

func (s *Session) measureDistanceLocked() (*detector.DistanceMeasurement, error) {
	if err := s.ensureConnectedLocked("measure-distance"); err != nil {
		return nil, err
	}
	if s.distanceCalStale() {
		if err := s.calibrateDistanceLocked(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	m, err := s.distance.Measure()
	s.stats.RecordMeasurement("distance", time.Since(start), err)
	if err != nil {
		s.classifyFailure(err)
		return nil, err
	}
	if s.stats != nil {
		s.stats.LastDistanceMeters.Set(nil, float64(m.DistanceM))
		s.stats.SensorTemperature.Set(nil, float64(m.Temperature))
	}
	return m, nil
}

// MeasurePresence runs one presence measurement, starting the detector
// on first use.
func (s *Session) MeasurePresence() (*detector.PresenceMeasurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measurePresenceLocked()
}

func (s *Session) measurePresenceLocked() (*detector.PresenceMeasurement, error) {
	if err := s.ensureConnectedLocked("measure-presence"); err != nil {
		return nil, err
	}
	if !s.presenceReady {
		if err := s.startPresenceLocked(); err != nil {
			return nil, err
		}
		// The presence bring-up reboots the module, which drops any
		// distance calibration
		s.lastDistanceCal = time.Time{}
	}

	start := time.Now()
	m, err := s.presence.Measure()
	s.stats.RecordMeasurement("presence", time.Since(start), err)
	if err != nil {
		s.classifyFailure(err)
		return nil, err
	}
	if s.stats != nil {
		detected := 0.0
		if m.Detected {
			detected = 1.0
		}
		s.stats.PresenceDetected.Set(nil, detected)
		s.stats.SensorTemperature.Set(nil, float64(m.Temperature))
	}
	return m, nil
}

// MeasureBreathing runs one breathing measurement, starting the
// application on first use.
func (s *Session) MeasureBreathing() (*detector.BreathingMeasurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked("measure-breathing"); err != nil {
		return nil, err
	}
	if !s.breathingReady {
		if err := s.startBreathingLocked(); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	m, err := s.breathing.Measure()
	s.stats.RecordMeasurement("breathing", time.Since(start), err)
	if err != nil {
		s.classifyFailure(err)
		return nil, err
	}
	if s.stats != nil && m.RateReady {
		s.stats.BreathingRateBPM.Set(nil, float64(m.RateBPM))
	}
	return m, nil
}

// MeasureCombined takes a distance reading followed by a presence
// reading. Each half is best-effort; only both failing is an error.
func (s *Session) MeasureCombined() (*CombinedMeasurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := &CombinedMeasurement{}

	dist, distErr := s.measureDistanceLocked()
	if distErr != nil {
		s.logger.WithField("session", s.id).WithError(distErr).
			Warn("combined: distance half failed")
	} else {
		out.Distance = dist
	}

	pres, presErr := s.measurePresenceLocked()
	if presErr != nil {
		s.logger.WithField("session", s.id).WithError(presErr).
			Warn("combined: presence half failed")
	} else {
		out.Presence = pres
	}

	if distErr != nil && presErr != nil {
		return nil, errors.MeasureError("both combined halves failed").SetOp("measure-combined")
	}
	return out, nil
}

// Disconnect reboots the module firmware best-effort and always leaves
// the session disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected {
		if err := s.bus.WriteRegister(regmap.RegCommand, regmap.CmdResetModule); err != nil {
			s.logger.WithField("session", s.id).WithError(err).
				Debug("reset on disconnect failed")
		}
	}
	s.state = StateDisconnected
	s.lastDistanceCal = time.Time{}
	s.presenceReady = false
	s.breathingReady = false
	s.stats.SetConnected(false)
	s.logger.WithField("session", s.id).Info("session disconnected")
}

// Close disconnects and releases the transport.
func (s *Session) Close() error {
	s.Disconnect()
	return s.bus.Close()
}

// Info reads the firmware version and application id.
func (s *Session) Info() (*ModuleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked("info"); err != nil {
		return nil, err
	}
	versionRaw, err := s.bus.ReadRegister(regmap.RegVersion)
	if err != nil {
		return nil, err
	}
	appID, err := s.bus.ReadRegister(regmap.RegApplicationID)
	if err != nil {
		return nil, err
	}
	return &ModuleInfo{
		Version: regmap.DecodeVersion(versionRaw).String(),
		AppID:   appID,
	}, nil
}

// Status reads and summarizes the detector status word for the active
// mode.
func (s *Session) Status() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnectedLocked("status"); err != nil {
		return "", err
	}
	raw, err := s.bus.ReadRegister(regmap.RegDetectorStatus)
	if err != nil {
		return "", err
	}

	switch s.cfg.Mode {
	case detector.ModePresence:
		st := regmap.PresenceStatus(raw)
		return fmt.Sprintf("presence: busy=%t ready=%t %s (status 0x%08x)",
			st.Busy(), st.Ready(), st.ErrorDetail(), raw), nil
	case detector.ModeBreathing:
		st := regmap.BreathingStatus(raw)
		return fmt.Sprintf("breathing: busy=%t error=%t (status 0x%08x)",
			st.Busy(), st.HasError(), raw), nil
	default:
		st := regmap.DistanceStatus(raw)
		return fmt.Sprintf("distance: busy=%t calibrated=%t %s (status 0x%08x)",
			st.Busy(), st.OK(), st.ErrorDetail(), raw), nil
	}
}

// classifyFailure routes an error to the right counter and downgrades
// the connection on bus failures.
func (s *Session) classifyFailure(err error) {
	switch {
	case errors.IsBus(err):
		s.stats.RecordBusError()
		s.state = StateDisconnected
		s.stats.SetConnected(false)
	case errors.IsTimeout(err):
		s.stats.RecordTimeout()
	case errors.Is(err, errors.ErrDeviceStatus), errors.Is(err, errors.ErrCalibration),
		errors.Is(err, errors.ErrDeviceMeasure):
		s.stats.RecordDeviceError()
	}
}
