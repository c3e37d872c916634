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

package pipeline

import (
	"sync"

	"m2stream"
)

// Source is the producing end of a link outside the tick loop. Peek must not
// block; Advance consumes the frame returned by the last successful Peek.
type Source interface {
	Peek() (m2stream.Frame, bool)
	Advance()
}

// Sink is the consuming end of a link outside the tick loop. Put is only
// called after Ready returned true in the same tick.
type Sink interface {
	Ready() bool
	Put(m2stream.Frame)
}

// ChanSource adapts a receive channel, holding one frame between Peek and
// Advance.
type ChanSource struct {
	ch   <-chan m2stream.Frame
	hold m2stream.Frame
	full bool
}

func NewChanSource(ch <-chan m2stream.Frame) *ChanSource { return &ChanSource{ch: ch} }

func (s *ChanSource) Peek() (m2stream.Frame, bool) {
	if !s.full {
		select {
		case f, ok := <-s.ch:
			if !ok {
				return m2stream.Frame{}, false
			}
			s.hold, s.full = f, true
		default:
		}
	}
	return s.hold, s.full
}

func (s *ChanSource) Advance() { s.full = false }

// ChanSink adapts a buffered send channel. It must be the channel's only
// sender.
type ChanSink struct {
	ch chan<- m2stream.Frame
}

func NewChanSink(ch chan<- m2stream.Frame) *ChanSink { return &ChanSink{ch: ch} }

func (s *ChanSink) Ready() bool { return len(s.ch) < cap(s.ch) }

func (s *ChanSink) Put(f m2stream.Frame) {
	select {
	case s.ch <- f:
	default:
	}
}

// SliceSource replays a fixed list of frames.
type SliceSource struct {
	frames []m2stream.Frame
	idx    int
}

func NewSliceSource(frames []m2stream.Frame) *SliceSource { return &SliceSource{frames: frames} }

func (s *SliceSource) Peek() (m2stream.Frame, bool) {
	if s.idx >= len(s.frames) {
		return m2stream.Frame{}, false
	}
	return s.frames[s.idx], true
}

func (s *SliceSource) Advance() { s.idx++ }

// Remaining reports how many frames have not been consumed.
func (s *SliceSource) Remaining() int { return len(s.frames) - s.idx }

// Collector is a Sink recording every frame, safe to read from other
// goroutines.
type Collector struct {
	mu     sync.Mutex
	frames []m2stream.Frame
	// ReadyFunc, if set, gates Ready.
	ReadyFunc func() bool
}

func (c *Collector) Ready() bool {
	if c.ReadyFunc != nil {
		return c.ReadyFunc()
	}
	return true
}

func (c *Collector) Put(f m2stream.Frame) {
	c.mu.Lock()
	c.frames = append(c.frames, f)
	c.mu.Unlock()
}

// Frames returns a copy of what has been collected.
func (c *Collector) Frames() []m2stream.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]m2stream.Frame, len(c.frames))
	copy(out, c.frames)
	return out
}
