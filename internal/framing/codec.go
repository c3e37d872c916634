// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package framing implements the header/timestamp packet codec. The Inserter
// prepends a two-word preamble ahead of every run of payload frames; the
// Extractor strips the same preamble and exposes the captured values.
package framing

import (
	"fmt"
	"sync/atomic"
)

// State is the codec sequencing state.
type State int32

const (
	StateReset State = iota
	StateIdle
	StateHeader
	StateTimestamp
	StateFrame
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateIdle:
		return "IDLE"
	case StateHeader:
		return "HEADER"
	case StateTimestamp:
		return "TIMESTAMP"
	case StateFrame:
		return "FRAME"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := State(0); st <= StateFrame; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// TimeSource supplies the current time base value in nanoseconds.
type TimeSource interface {
	Now() uint64
}

// Control is the register block of a codec. Setters are safe from any
// goroutine; the codec samples the registers at the end of every tick, so a
// write takes effect on the following tick.
type Control struct {
	enable       atomic.Bool
	headerEnable atomic.Bool
	frameCycles  atomic.Uint32
	header       atomic.Uint64
	reset        atomic.Bool
}

// NewControl returns an enabled register block.
func NewControl(frameCycles uint32, headerEnable bool) *Control {
	c := &Control{}
	c.enable.Store(true)
	c.headerEnable.Store(headerEnable)
	c.frameCycles.Store(frameCycles)
	return c
}

func (c *Control) SetEnable(on bool) { c.enable.Store(on) }
func (c *Control) Enabled() bool { return c.enable.Load() }
func (c *Control) SetHeaderEnable(on bool) { c.headerEnable.Store(on) }
func (c *Control) HeaderEnabled() bool { return c.headerEnable.Load() }
func (c *Control) SetFrameCycles(n uint32) { c.frameCycles.Store(n) }
func (c *Control) FrameCycles() uint32 { return c.frameCycles.Load() }
func (c *Control) SetHeader(h uint64) { c.header.Store(h) }
func (c *Control) Header() uint64 { return c.header.Load() }

// PulseReset requests a one-tick reset of the codec sequence.
func (c *Control) PulseReset() { c.reset.Store(true) }

// regs is the per-tick registered copy of Control.
type regs struct {
	enable       bool
	headerEnable bool
	frameCycles  uint32
	header       uint64
	reset        bool
}

func (c *Control) sample() regs {
	return regs{
		enable:       c.enable.Load(),
		headerEnable: c.headerEnable.Load(),
		frameCycles:  c.frameCycles.Load(),
		header:       c.header.Load(),
		reset:        c.reset.Swap(false),
	}
}

// runLength is the payload length of one packet. Zero frame cycles means every
// frame is its own packet.
func runLength(frameCycles uint32) uint32 {
	if frameCycles == 0 {
		return 1
	}
	return frameCycles
}

// Stats is a point-in-time copy of codec diagnostics.
type Stats struct {
	State         State  `json:"state"`
	Packets       uint64 `json:"packets"`
	ResyncDrops   uint64 `json:"resync_drops"`
	ResetDrops    uint64 `json:"reset_drops"`
	LastHeader    uint64 `json:"last_header"`
	LastTimestamp uint64 `json:"last_timestamp"`
}

// codec holds sequencing state shared by the inserter and the extractor.
type codec struct {
	ctrl  *Control
	regs  regs
	state State

	runLen uint32
	count  uint32
	// boundary is true in passthrough while no packet is half-forwarded.
	boundary bool

	header    uint64
	timestamp uint64

	update   bool
	onUpdate func(header, timestamp uint64)

	// diagnostics, read from other goroutines
	stateMirror   atomic.Int32
	packets       atomic.Uint64
	resyncDrops   atomic.Uint64
	resetDrops    atomic.Uint64
	lastHeader    atomic.Uint64
	lastTimestamp atomic.Uint64
}

func (c *codec) init(ctrl *Control) {
	c.ctrl = ctrl
	c.regs = ctrl.sample()
	c.setState(StateReset)
}

func (c *codec) inReset() bool { return c.regs.reset || !c.regs.enable }

func (c *codec) passthrough() bool { return c.state == StateFrame && c.runLen == 0 }

// setState records a transition.
func (c *codec) setState(s State) {
	c.state = s
	c.stateMirror.Store(int32(s))
}

// startFraming enters FRAME for a fresh run after the preamble.
func (c *codec) startFraming() {
	c.count = 0
	c.setState(StateFrame)
}

// startPassthrough enters FRAME without a preamble.
func (c *codec) startPassthrough() {
	c.runLen = 0
	c.count = 0
	c.boundary = true
	c.setState(StateFrame)
}

// latch publishes the captured preamble and raises the update pulse.
func (c *codec) latch() {
	c.update = true
	c.lastHeader.Store(c.header)
	c.lastTimestamp.Store(c.timestamp)
	if c.onUpdate != nil {
		c.onUpdate(c.header, c.timestamp)
	}
}

// payloadFired accounts one forwarded payload frame and reports whether the
// run completed.
func (c *codec) payloadFired(last bool) bool {
	if c.runLen == 0 {
		c.boundary = last
		return false
	}
	c.count++
	if c.count < c.runLen {
		return false
	}
	c.packets.Add(1)
	return true
}

// Update reports whether a new preamble was latched during the last tick.
func (c *codec) Update() bool { return c.update }

// OnUpdate installs a callback invoked with every latched preamble.
func (c *codec) OnUpdate(f func(header, timestamp uint64)) { c.onUpdate = f }

// State returns the current sequencing state.
func (c *codec) State() State { return State(c.stateMirror.Load()) }

// Stats returns a copy of the diagnostics. Safe from any goroutine.
func (c *codec) Stats() Stats {
	return Stats{
		State:         State(c.stateMirror.Load()),
		Packets:       c.packets.Load(),
		ResyncDrops:   c.resyncDrops.Load(),
		ResetDrops:    c.resetDrops.Load(),
		LastHeader:    c.lastHeader.Load(),
		LastTimestamp: c.lastTimestamp.Load(),
	}
}
