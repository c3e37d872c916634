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

// Package m2stream models the sample path between a host transport and a
// radio front-end as a chain of cycle-stepped stages joined by valid/ready
// handshakes. Each Frame is one 64-bit word tagged with first/last packet
// boundary markers.
//
// A stage is evaluated in three phases per tick: a forward pass that computes
// what it offers downstream, a backward pass that computes whether it accepts
// its upstream beat, and a commit that updates state from the handshakes that
// actually fired. Valid never depends on ready, so any chain of stages
// settles in one sweep in each direction.
package m2stream

import "fmt"

// Frame is one flow-controlled word of the data stream.
type Frame struct {
	Data  uint64
	First bool
	Last  bool
}

func (f Frame) String() string {
	s := fmt.Sprintf("%#x", f.Data)
	if f.First {
		s += " first"
	}
	if f.Last {
		s += " last"
	}
	return s
}

// Beat is a Frame on a link together with its valid flag for the current tick.
type Beat struct {
	Frame
	Valid bool
}

// Idle is the beat of a link with nothing to transfer.
var Idle = Beat{}

// Offer returns a valid beat carrying f.
func Offer(f Frame) Beat { return Beat{Frame: f, Valid: true} }

// Fired reports whether a transfer happens on a link this tick.
func Fired(b Beat, ready bool) bool { return b.Valid && ready }

// Stage is one cycle-stepped element of a pipeline.
//
// Offer must be a pure function of the stage state and the upstream beat. Ready
// may additionally depend on the downstream ready. Tick commits the tick; the
// inReady/outReady arguments are the values the surrounding chain resolved.
type Stage interface {
	Offer(in Beat) Beat
	Ready(in Beat, outReady bool) bool
	Tick(in Beat, inReady, outReady bool)
}

// Chain connects stages in order: the output of stage i feeds stage i+1.
// A Chain is itself a Stage.
type Chain []Stage

// Offer runs the forward pass and returns the beat leaving the last stage.
func (c Chain) Offer(in Beat) Beat {
	b := in
	for _, s := range c {
		b = s.Offer(b)
	}
	return b
}

// Ready runs both passes and returns whether the first stage accepts in.
func (c Chain) Ready(in Beat, outReady bool) bool {
	_, ready := c.resolve(in, outReady)
	if len(ready) == 0 {
		return outReady
	}
	return ready[0]
}

// Tick resolves the chain and commits every stage.
func (c Chain) Tick(in Beat, _ bool, outReady bool) {
	beats, ready := c.resolve(in, outReady)
	for i, s := range c {
		s.Tick(beats[i], ready[i], ready[i+1])
	}
}

// Step resolves and commits one tick, returning what the chain accepted and
// what it emitted. The emitted beat has been taken only if outReady is true.
func (c Chain) Step(in Beat, outReady bool) (inReady bool, out Beat) {
	beats, ready := c.resolve(in, outReady)
	for i, s := range c {
		s.Tick(beats[i], ready[i], ready[i+1])
	}
	return ready[0], beats[len(c)]
}

// resolve returns the beat entering each stage (plus the chain output) and the
// ready seen by each stage input (plus the chain's outReady).
func (c Chain) resolve(in Beat, outReady bool) ([]Beat, []bool) {
	beats := make([]Beat, len(c)+1)
	ready := make([]bool, len(c)+1)
	beats[0] = in
	for i, s := range c {
		beats[i+1] = s.Offer(beats[i])
	}
	ready[len(c)] = outReady
	for i := len(c) - 1; i >= 0; i-- {
		ready[i] = c[i].Ready(beats[i], ready[i+1])
	}
	return beats, ready
}
