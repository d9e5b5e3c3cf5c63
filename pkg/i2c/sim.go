// In-memory register transport for tests
//
// Copyright (C) 2026  XM125 Radar Host Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package i2c

import "sync"

// RegWrite records one register write seen by the simulator.
type RegWrite struct {
	Reg   uint16
	Value uint32
}

// SimBus is an in-memory Transport backed by a register map. Tests script
// firmware behavior by queuing read values and hooking writes.
type SimBus struct {
	mu     sync.Mutex
	regs   map[uint16]uint32
	writes []RegWrite
	queued map[uint16][]uint32
	rdErr  map[uint16]error
	wrErr  map[uint16]error
	closed bool

	// OnWrite, when set, runs after each successful write. It lets a test
	// model command side effects such as flipping a status register.
	OnWrite func(reg uint16, value uint32)
}

// NewSimBus returns an empty simulator.
func NewSimBus() *SimBus {
	return &SimBus{
		regs:   make(map[uint16]uint32),
		queued: make(map[uint16][]uint32),
		rdErr:  make(map[uint16]error),
		wrErr:  make(map[uint16]error),
	}
}

// Set places a value in the register map.
func (s *SimBus) Set(reg uint16, value uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[reg] = value
}

// Get returns the current value of a register.
func (s *SimBus) Get(reg uint16) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[reg]
}

// QueueReads queues values that successive reads of reg return before the
// register map value takes over.
func (s *SimBus) QueueReads(reg uint16, values ...uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[reg] = append(s.queued[reg], values...)
}

// FailReads makes reads of reg return err.
func (s *SimBus) FailReads(reg uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rdErr[reg] = err
}

// FailWrites makes writes of reg return err.
func (s *SimBus) FailWrites(reg uint16, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wrErr[reg] = err
}

// Writes returns every write seen, in order.
func (s *SimBus) Writes() []RegWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RegWrite, len(s.writes))
	copy(out, s.writes)
	return out
}

// WritesTo returns the values written to one register, in order.
func (s *SimBus) WritesTo(reg uint16) []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint32
	for _, w := range s.writes {
		if w.Reg == reg {
			out = append(out, w.Value)
		}
	}
	return out
}

// WriteRegister implements Transport.
func (s *SimBus) WriteRegister(reg uint16, value uint32) error {
	s.mu.Lock()
	if err := s.wrErr[reg]; err != nil {
		s.mu.Unlock()
		return err
	}
	s.writes = append(s.writes, RegWrite{Reg: reg, Value: value})
	s.regs[reg] = value
	hook := s.OnWrite
	s.mu.Unlock()

	if hook != nil {
		hook(reg, value)
	}
	return nil
}

// ReadRegister implements Transport.
func (s *SimBus) ReadRegister(reg uint16) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.rdErr[reg]; err != nil {
		return 0, err
	}
	if q := s.queued[reg]; len(q) > 0 {
		v := q[0]
		s.queued[reg] = q[1:]
		return v, nil
	}
	return s.regs[reg], nil
}

// Close implements Transport.
func (s *SimBus) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *SimBus) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
