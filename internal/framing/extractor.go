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

// ExtractorOptions configures an Extractor.
type ExtractorOptions struct {
	// PassPreamble forwards the header and timestamp frames downstream instead
	// of consuming them. The preamble is still latched and validated. Only the
	// forwarded header keeps First so the consumer can find packet boundaries;
	// payload frames carry Last alone.
	PassPreamble bool
}

// Extractor removes the header/timestamp preamble from an incoming stream.
//
// A header is trusted only if it arrives marked First; anything else offered
// while a header is expected is consumed and counted as a resync drop. The
// update pulse fires once per packet, after both preamble words are captured
// and before the first payload frame moves.
type Extractor struct {
	codec
	pass bool
}

// NewExtractor builds an extractor driven by ctrl.
func NewExtractor(ctrl *Control, opts ExtractorOptions) *Extractor {
	e := &Extractor{pass: opts.PassPreamble}
	e.init(ctrl)
	return e
}

// Header returns the most recently latched header.
func (e *Extractor) Header() uint64 { return e.lastHeader.Load() }

// Timestamp returns the most recently latched timestamp.
func (e *Extractor) Timestamp() uint64 { return e.lastTimestamp.Load() }

func clearMarkers(f m2stream.Frame) m2stream.Frame {
	f.First, f.Last = false, false
	return f
}

// Offer implements m2stream.Stage.
func (e *Extractor) Offer(in m2stream.Beat) m2stream.Beat {
	if e.inReset() || !in.Valid {
		return m2stream.Idle
	}
	switch e.state {
	case StateHeader:
		if e.pass && in.First {
			return m2stream.Offer(m2stream.Frame{Data: in.Data, First: true})
		}
	case StateTimestamp:
		if e.pass {
			return m2stream.Offer(clearMarkers(in.Frame))
		}
	case StateFrame:
		if e.passthrough() {
			return in
		}
		f := in.Frame
		f.First = e.count == 0 && !e.pass
		f.Last = e.count+1 == e.runLen
		return m2stream.Offer(f)
	}
	return m2stream.Idle
}

// Ready implements m2stream.Stage.
func (e *Extractor) Ready(in m2stream.Beat, outReady bool) bool {
	if e.inReset() {
		return false
	}
	switch e.state {
	case StateHeader:
		if e.pass && in.First {
			return outReady
		}
		return true
	case StateTimestamp:
		if e.pass {
			return outReady
		}
		return true
	case StateFrame:
		return outReady
	}
	return false
}

// Tick implements m2stream.Stage.
func (e *Extractor) Tick(in m2stream.Beat, inReady, _ bool) {
	e.update = false
	accepted := m2stream.Fired(in, inReady)

	switch {
	case e.inReset():
		e.setState(StateReset)
	case e.state == StateReset:
		e.count = 0
		e.setState(StateIdle)
	case e.state == StateIdle:
		e.arm()
	case e.state == StateHeader:
		if accepted {
			if in.First {
				e.header = in.Data
				e.setState(StateTimestamp)
			} else {
				e.resyncDrops.Add(1)
			}
		}
	case e.state == StateTimestamp:
		if accepted {
			e.timestamp = in.Data
			e.latch()
			e.startFraming()
		}
	case e.state == StateFrame:
		if accepted && e.payloadFired(in.Last) {
			e.arm()
		}
		if e.passthrough() && e.boundary && e.regs.headerEnable {
			e.arm()
		}
	}
	e.regs = e.ctrl.sample()
}

func (e *Extractor) arm() {
	if !e.regs.headerEnable {
		e.startPassthrough()
		return
	}
	e.runLen = runLength(e.regs.frameCycles)
	e.setState(StateHeader)
}

var _ m2stream.Stage = (*Extractor)(nil)
