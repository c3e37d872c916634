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

// Package scheduler releases buffered TX packets to the radio front-end once
// the shared time base reaches each packet's timestamp.
//
// Packets enter as header, timestamp, then FrameCycles payload frames, and are
// recognized by position. After an abort the enqueue side discards input until
// a First-marked header arrives, so a packet cut in half upstream never
// shifts the boundaries of the ones behind it. They leave strictly in arrival order, payload
// only, with First/Last rebuilt for the packet. Disabling the scheduler, or
// reconfiguring it, is a hard abort: every queued or half-streamed packet is
// discarded and counted, never released.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"

	"m2stream"
)

// State is the scheduler state.
type State int32

const (
	StateDisabled State = iota
	StateBuffering
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "DISABLED"
	case StateBuffering:
		return "BUFFERING"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText parses a state name written by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for st := State(0); st <= StateStreaming; st++ {
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

// reader phase for the head packet
type phase int

const (
	needHeader phase = iota
	needTimestamp
	gating
	streaming
)

// Release describes one packet after its last payload frame left.
type Release struct {
	Header    uint64 `json:"header"`
	Timestamp uint64 `json:"timestamp"`
	// ReleasedAt is the time base value when streaming began.
	ReleasedAt uint64 `json:"released_at"`
	Frames     uint32 `json:"frames"`
	Late       bool   `json:"late"`
}

// Options configures a Scheduler.
type Options struct {
	// FrameCycles is the payload length of every packet (0 means 1).
	FrameCycles uint32
	// MaxPackets sizes the queue in whole packets. Default 4.
	MaxPackets int
	// LatenessWindow bounds the retained release-lateness samples. Default 1024.
	LatenessWindow int
	// StartDisabled holds the scheduler disabled until SetEnable(true).
	StartDisabled bool
}

// Stats is a point-in-time copy of scheduler diagnostics.
type Stats struct {
	State           State  `json:"state"`
	Level           int    `json:"level"`
	Capacity        int    `json:"capacity"`
	QueuedPackets   int    `json:"queued_packets"`
	FrameCycles     uint32 `json:"frame_cycles"`
	LastHeader      uint64 `json:"last_header"`
	LastTimestamp   uint64 `json:"last_timestamp"`
	Enqueued        uint64 `json:"enqueued_frames"`
	Released        uint64 `json:"released_packets"`
	Late            uint64 `json:"late_packets"`
	HeldTicks       uint64 `json:"held_ticks"`
	AbandonedFrames uint64 `json:"abandoned_frames"`
	Aborts          uint64 `json:"aborts"`
}

// Scheduler is a due-time gated packet FIFO. It is an m2stream.Stage and must
// be ticked from a single goroutine; setters and Stats are safe from any.
type Scheduler struct {
	clock      TimeSource
	maxPackets int
	ring       *Ring
	runLen     uint32

	// register copies sampled at the end of each tick
	enabled bool

	// control
	enable       atomic.Bool
	reconfigure  atomic.Bool
	flush        atomic.Bool
	pendingCycle atomic.Uint32

	state State

	// writer side
	wpos     uint32
	complete int
	resync   bool

	// reader side
	ph         phase
	rcount     uint32
	header     uint64
	timestamp  uint64
	releasedAt uint64
	late       bool

	onRelease func(Release)

	latMu      sync.Mutex
	lateness   []int64
	latNext    int
	latWindow  int
	latSamples uint64

	// diagnostics
	stateMirror   atomic.Int32
	level         atomic.Int64
	queued        atomic.Int64
	lastHeader    atomic.Uint64
	lastTimestamp atomic.Uint64
	enqueued      atomic.Uint64
	released      atomic.Uint64
	latePackets   atomic.Uint64
	heldTicks     atomic.Uint64
	abandoned     atomic.Uint64
	aborts        atomic.Uint64
	cycles        atomic.Uint32
}

// New builds a scheduler reading due-times against clock.
func New(clock TimeSource, opts Options) *Scheduler {
	if opts.MaxPackets <= 0 {
		opts.MaxPackets = 4
	}
	if opts.LatenessWindow <= 0 {
		opts.LatenessWindow = 1024
	}
	s := &Scheduler{
		clock:      clock,
		maxPackets: opts.MaxPackets,
		latWindow:  opts.LatenessWindow,
		lateness:   make([]int64, 0, opts.LatenessWindow),
	}
	s.configure(opts.FrameCycles)
	s.enable.Store(!opts.StartDisabled)
	s.enabled = !opts.StartDisabled
	if s.enabled {
		s.setState(StateBuffering)
	} else {
		s.setState(StateDisabled)
	}
	return s
}

func runLength(frameCycles uint32) uint32 {
	if frameCycles == 0 {
		return 1
	}
	return frameCycles
}

// configure sizes the queue for frameCycles-long packets.
func (s *Scheduler) configure(frameCycles uint32) {
	s.runLen = runLength(frameCycles)
	size := s.maxPackets * int(s.runLen+2)
	if s.ring == nil || s.ring.Cap() != size {
		s.ring = NewRing(size)
	}
	s.cycles.Store(frameCycles)
	s.pendingCycle.Store(frameCycles)
}

// SetEnable enables or disables the scheduler. Disabling aborts in-flight
// packets.
func (s *Scheduler) SetEnable(on bool) { s.enable.Store(on) }

// Enabled reports the requested enable level.
func (s *Scheduler) Enabled() bool { return s.enable.Load() }

// Reconfigure changes the packet length. The change is applied on the next
// tick and aborts everything queued.
func (s *Scheduler) Reconfigure(frameCycles uint32) {
	s.pendingCycle.Store(frameCycles)
	s.reconfigure.Store(true)
}

// Flush aborts everything queued on the next tick, as a disable/enable pair
// would. Used when the upstream framer is reset.
func (s *Scheduler) Flush() { s.flush.Store(true) }

// OnRelease installs a callback run (on the ticking goroutine) after every
// fully released packet.
func (s *Scheduler) OnRelease(f func(Release)) { s.onRelease = f }

// Offer implements m2stream.Stage.
func (s *Scheduler) Offer(m2stream.Beat) m2stream.Beat {
	if s.ph != streaming || !s.enabled {
		return m2stream.Idle
	}
	f, ok := s.ring.Peek()
	if !ok {
		return m2stream.Idle
	}
	f.First = s.rcount == 0
	f.Last = s.rcount+1 == s.runLen
	return m2stream.Offer(f)
}

// Ready implements m2stream.Stage. The queue backpressures when full or
// disabled.
func (s *Scheduler) Ready(m2stream.Beat, bool) bool {
	return s.enabled && !s.ring.Full()
}

// Tick implements m2stream.Stage.
func (s *Scheduler) Tick(in m2stream.Beat, inReady, outReady bool) {
	if s.enabled {
		outFired := m2stream.Fired(s.Offer(in), outReady)
		s.drain(outFired)
		if m2stream.Fired(in, inReady) {
			s.fill(in.Frame)
		}
	}

	// registers for the next tick
	flush := s.flush.Swap(false)
	if s.reconfigure.Swap(false) {
		s.abort()
		s.configure(s.pendingCycle.Load())
	} else if flush {
		s.abort()
	}
	en := s.enable.Load()
	switch {
	case !en && s.enabled:
		s.abort()
		s.setState(StateDisabled)
	case en && !s.enabled:
		s.setState(StateBuffering)
	}
	s.enabled = en
	s.publish()
}

// fill accepts one frame on the enqueue side, tracking packet boundaries by
// position.
func (s *Scheduler) fill(f m2stream.Frame) {
	if s.resync {
		if !f.First {
			// tail of a packet cut by the last abort
			s.abandoned.Add(1)
			return
		}
		s.resync = false
	}
	s.ring.Push(f)
	s.enqueued.Add(1)
	s.wpos++
	if s.wpos == s.runLen+2 {
		s.wpos = 0
		s.complete++
	}
}

// drain advances the dequeue side. When the head packet finishes streaming the
// next head is decoded and gated in the same tick, so due packets leave back
// to back.
func (s *Scheduler) drain(outFired bool) {
	if s.ph == streaming {
		if !outFired {
			return
		}
		s.ring.Pop()
		s.rcount++
		if s.rcount < s.runLen {
			return
		}
		s.complete--
		s.released.Add(1)
		s.ph = needHeader
		s.setState(StateBuffering)
		if s.onRelease != nil {
			s.onRelease(Release{Header: s.header, Timestamp: s.timestamp, ReleasedAt: s.releasedAt, Frames: s.runLen, Late: s.late})
		}
	}
	s.advanceHead()
}

// advanceHead latches the head packet's preamble and opens the gate once the
// packet is whole and due.
func (s *Scheduler) advanceHead() {
	if s.ph == needHeader {
		if f, ok := s.ring.Pop(); ok {
			s.header = f.Data
			s.ph = needTimestamp
		}
	}
	if s.ph == needTimestamp {
		if f, ok := s.ring.Pop(); ok {
			s.timestamp = f.Data
			s.lastHeader.Store(s.header)
			s.lastTimestamp.Store(s.timestamp)
			s.ph = gating
		}
	}
	if s.ph != gating || s.complete == 0 {
		return
	}
	now := s.clock.Now()
	if now < s.timestamp {
		s.heldTicks.Add(1)
		return
	}
	s.releasedAt = now
	s.late = now > s.timestamp
	s.recordLateness(int64(now - s.timestamp))
	if s.late {
		s.latePackets.Add(1)
	}
	s.rcount = 0
	s.ph = streaming
	s.setState(StateStreaming)
}

// abort drops everything queued and re-arms both sides at position zero.
func (s *Scheduler) abort() {
	dropped := s.ring.Reset()
	if s.ph != needHeader {
		// preamble (and any streamed payload) of the head packet already left the ring
		dropped += 1
		if s.ph != needTimestamp {
			dropped++
		}
		dropped += int(s.rcount)
	}
	if dropped > 0 || s.wpos > 0 {
		s.aborts.Add(1)
	}
	s.abandoned.Add(uint64(dropped))
	s.wpos = 0
	s.complete = 0
	s.ph = needHeader
	s.rcount = 0
	s.resync = true
}

func (s *Scheduler) recordLateness(ns int64) {
	s.latMu.Lock()
	defer s.latMu.Unlock()
	s.latSamples++
	if len(s.lateness) < s.latWindow {
		s.lateness = append(s.lateness, ns)
		return
	}
	s.lateness[s.latNext] = ns
	s.latNext = (s.latNext + 1) % s.latWindow
}

// Lateness returns a copy of the retained release-lateness samples in
// nanoseconds (release time minus timestamp).
func (s *Scheduler) Lateness() []int64 {
	s.latMu.Lock()
	defer s.latMu.Unlock()
	out := make([]int64, len(s.lateness))
	copy(out, s.lateness)
	return out
}

func (s *Scheduler) setState(st State) {
	s.state = st
	s.stateMirror.Store(int32(st))
}

func (s *Scheduler) publish() {
	s.level.Store(int64(s.ring.Len()))
	s.queued.Store(int64(s.complete))
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.stateMirror.Load()) }

// Stats returns a copy of the diagnostics.
func (s *Scheduler) Stats() Stats {
	return Stats{
		State:           State(s.stateMirror.Load()),
		Level:           int(s.level.Load()),
		Capacity:        s.maxPackets * int(runLength(s.cycles.Load())+2),
		QueuedPackets:   int(s.queued.Load()),
		FrameCycles:     s.cycles.Load(),
		LastHeader:      s.lastHeader.Load(),
		LastTimestamp:   s.lastTimestamp.Load(),
		Enqueued:        s.enqueued.Load(),
		Released:        s.released.Load(),
		Late:            s.latePackets.Load(),
		HeldTicks:       s.heldTicks.Load(),
		AbandonedFrames: s.abandoned.Load(),
		Aborts:          s.aborts.Load(),
	}
}

var _ m2stream.Stage = (*Scheduler)(nil)
