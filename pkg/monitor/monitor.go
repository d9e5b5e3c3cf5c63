// Continuous measurement broadcast server
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package monitor samples the radar session at a fixed cadence and
// broadcasts the measurements as JSON frames to websocket clients.
package monitor

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"xm125-radar-host/pkg/detector"
	"xm125-radar-host/pkg/errors"
	"xm125-radar-host/pkg/log"
	"xm125-radar-host/pkg/radar"
)

// MeasurementSource is the slice of the session the monitor needs.
type MeasurementSource interface {
	ID() string
	Mode() detector.DetectorMode
	MeasureDistance() (*detector.DistanceMeasurement, error)
	MeasurePresence() (*detector.PresenceMeasurement, error)
	MeasureBreathing() (*detector.BreathingMeasurement, error)
	MeasureCombined() (*radar.CombinedMeasurement, error)
}

// Frame is one broadcast measurement.
type Frame struct {
	Session string    `json:"session"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Mode    string    `json:"mode"`

	Distance  *detector.DistanceMeasurement  `json:"distance,omitempty"`
	Presence  *detector.PresenceMeasurement  `json:"presence,omitempty"`
	Breathing *detector.BreathingMeasurement `json:"breathing,omitempty"`

	Error string `json:"error,omitempty"`
}

// Config holds the monitor server settings.
type Config struct {
	// Addr to listen on, e.g. ":8126"
	Addr string
	// Interval between samples (default 1s)
	Interval time.Duration
	// Source provides the measurements
	Source MeasurementSource
}

// Server samples the source and fans frames out to websocket clients.
type Server struct {
	source   MeasurementSource
	addr     string
	interval time.Duration
	logger   *log.Logger

	httpServer *http.Server
	upgrader   websocket.Upgrader

	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	seq     uint64
	running atomic.Bool
	stop    chan struct{}
}

// New creates a monitor server.
func New(cfg Config) *Server {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Second
	}
	return &Server{
		source:   cfg.Source,
		addr:     cfg.Addr,
		interval: interval,
		logger:   log.GetLogger("monitor"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[int64]*wsClient),
		stop:    make(chan struct{}),
	}
}

// Handler returns the HTTP handler serving the stream endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// Start runs the sampling loop and serves websocket clients. It blocks
// until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	s.running.Store(true)
	s.logger.WithField("addr", s.addr).Info("monitor server starting")

	go s.sampleLoop()

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop halts sampling and closes every client.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stop)

	s.clientMu.Lock()
	for _, c := range s.clients {
		c.close()
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// ClientCount returns the number of connected stream clients.
func (s *Server) ClientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

func (s *Server) sampleLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		if s.ClientCount() == 0 {
			// Nobody listening, leave the hardware alone
			continue
		}
		s.broadcast(s.sample())
	}
}

// sample takes one measurement in the session's configured mode.
func (s *Server) sample() *Frame {
	mode := s.source.Mode()
	frame := &Frame{
		Session: s.source.ID(),
		Seq:     atomic.AddUint64(&s.seq, 1),
		Time:    time.Now(),
		Mode:    mode.String(),
	}

	err := s.measure(frame, mode)
	if err != nil {
		frame.Error = err.Error()
	}
	return frame
}

// measure fills in the mode-specific half of the frame. A panicking
// source surfaces as a frame error instead of killing the sample loop.
func (s *Server) measure(frame *Frame, mode detector.DetectorMode) (err error) {
	defer errors.RecoverPanic(&err)

	switch mode {
	case detector.ModePresence:
		frame.Presence, err = s.source.MeasurePresence()
	case detector.ModeBreathing:
		frame.Breathing, err = s.source.MeasureBreathing()
	case detector.ModeCombined:
		var combined *radar.CombinedMeasurement
		combined, err = s.source.MeasureCombined()
		if combined != nil {
			frame.Distance = combined.Distance
			frame.Presence = combined.Presence
		}
	default:
		frame.Distance, err = s.source.MeasureDistance()
	}
	return err
}

func (s *Server) broadcast(frame *Frame) {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	for _, c := range s.clients {
		c.send(frame)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		logger: s.logger,
		sendCh: make(chan *Frame, 16),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()
	s.logger.WithField("client", client.id).Info("stream client connected")

	go client.writePump()
	client.readPump() // blocks until the connection closes

	s.clientMu.Lock()
	delete(s.clients, client.id)
	s.clientMu.Unlock()
	s.logger.WithField("client", client.id).Info("stream client disconnected")
}

// wsClient is one websocket stream consumer.
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	logger *log.Logger
	sendCh chan *Frame
	done   chan struct{}
	closed sync.Once
}

// send queues a frame, dropping it when the client cannot keep up.
func (c *wsClient) send(frame *Frame) {
	select {
	case c.sendCh <- frame:
	case <-c.done:
	default:
		c.logger.WithField("client", c.id).Debug("dropping frame, client send queue full")
	}
}

func (c *wsClient) close() {
	c.closed.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// readPump discards inbound messages; the stream is one way, reads only
// detect the close.
func (c *wsClient) readPump() {
	defer c.close()

	c.conn.SetReadLimit(4 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case frame := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
