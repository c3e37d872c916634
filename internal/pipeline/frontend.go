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
	"m2stream"
)

// FrontEnd is the radio side of the pipeline: it consumes TX payload and
// produces RX samples.
type FrontEnd interface {
	TX() Sink
	RX() Source
}

const loopbackCapacity = 64

// Loopback is an in-process front-end that feeds every transmitted frame
// back as a received one. When its buffer is full it stops accepting TX.
type Loopback struct {
	buf        [loopbackCapacity]m2stream.Frame
	head, tail int
	count      int
	sent       uint64
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) TX() Sink   { return loopbackTX{l} }
func (l *Loopback) RX() Source { return loopbackRX{l} }

// Sent reports how many frames have been transmitted.
func (l *Loopback) Sent() uint64 { return l.sent }

type loopbackTX struct{ l *Loopback }

func (t loopbackTX) Ready() bool { return t.l.count < loopbackCapacity }

func (t loopbackTX) Put(f m2stream.Frame) {
	l := t.l
	if l.count == loopbackCapacity {
		return
	}
	l.buf[l.tail] = f
	l.tail = (l.tail + 1) % loopbackCapacity
	l.count++
	l.sent++
}

type loopbackRX struct{ l *Loopback }

func (r loopbackRX) Peek() (m2stream.Frame, bool) {
	if r.l.count == 0 {
		return m2stream.Frame{}, false
	}
	return r.l.buf[r.l.head], true
}

func (r loopbackRX) Advance() {
	l := r.l
	if l.count == 0 {
		return
	}
	l.head = (l.head + 1) % loopbackCapacity
	l.count--
}

// Split is a front-end built from independent TX and RX ends.
type Split struct {
	Out Sink
	In  Source
}

func (s Split) TX() Sink   { return s.Out }
func (s Split) RX() Source { return s.In }
