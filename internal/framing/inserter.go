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

package framing

import (
	"m2stream"
)

// Inserter stamps every run of payload frames with a header word and the time
// base value sampled when the run's preamble was armed.
//
// On the wire the header frame carries First and the payload frame that ends
// the run carries Last; payload First markers are cleared. A reset drops any
// frame offered at the input during the reset tick.
type Inserter struct {
	codec
	clock TimeSource
}

// NewInserter builds an inserter driven by ctrl. Timestamps come from clock.
func NewInserter(ctrl *Control, clock TimeSource) *Inserter {
	i := &Inserter{clock: clock}
	i.init(ctrl)
	return i
}

// Offer implements m2stream.Stage.
func (i *Inserter) Offer(in m2stream.Beat) m2stream.Beat {
	if i.inReset() {
		return m2stream.Idle
	}
	switch i.state {
	case StateHeader:
		return m2stream.Offer(m2stream.Frame{Data: i.header, First: true})
	case StateTimestamp:
		return m2stream.Offer(m2stream.Frame{Data: i.timestamp})
	case StateFrame:
		if !in.Valid {
			return m2stream.Idle
		}
		if i.passthrough() {
			return in
		}
		f := in.Frame
		f.First = false
		f.Last = i.count+1 == i.runLen
		return m2stream.Offer(f)
	}
	return m2stream.Idle
}

// Ready implements m2stream.Stage.
func (i *Inserter) Ready(_ m2stream.Beat, outReady bool) bool {
	if i.inReset() {
		return true
	}
	return i.state == StateFrame && outReady
}

// Tick implements m2stream.Stage.
func (i *Inserter) Tick(in m2stream.Beat, _ bool, outReady bool) {
	i.update = false
	fired := m2stream.Fired(i.Offer(in), outReady)

	switch {
	case i.inReset():
		if in.Valid {
			i.resetDrops.Add(1)
		}
		i.setState(StateReset)
	case i.state == StateReset:
		i.count = 0
		i.setState(StateIdle)
	case i.state == StateIdle:
		i.arm()
	case i.state == StateHeader:
		if fired {
			i.setState(StateTimestamp)
		}
	case i.state == StateTimestamp:
		if fired {
			i.latch()
			i.startFraming()
		}
	case i.state == StateFrame:
		if fired && i.payloadFired(in.Last) {
			i.arm()
		}
		if i.passthrough() && i.boundary && i.regs.headerEnable {
			i.arm()
		}
	}
	i.regs = i.ctrl.sample()
}

// arm starts the next packet: a preamble when insertion is enabled, otherwise
// passthrough.
func (i *Inserter) arm() {
	if !i.regs.headerEnable {
		i.startPassthrough()
		return
	}
	i.header = i.regs.header
	i.timestamp = i.clock.Now()
	i.runLen = runLength(i.regs.frameCycles)
	i.setState(StateHeader)
}

var _ m2stream.Stage = (*Inserter)(nil)
