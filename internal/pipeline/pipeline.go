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

// Package pipeline assembles the TX and RX sample paths and drives them from
// the system clock domain.
//
// TX: host ingress -> Extractor (preamble forwarded) -> Scheduler -> radio.
// RX: radio -> Inserter (stamped from the time base sampler) -> host egress.
package pipeline

import (
	"sync/atomic"

	"m2stream"
	"m2stream/internal/framing"
	"m2stream/internal/scheduler"
	"m2stream/pkg/timebase"
)

// Config wires a Pipeline.
type Config struct {
	// Time is the system-domain side of the time base crossing.
	Time *timebase.Port
	// SamplerTimeout is the number of ticks without an ack before the time
	// base is reported stale. 0 uses the sampler default.
	SamplerTimeout int

	TxControl *framing.Control
	RxControl *framing.Control
	Scheduler scheduler.Options

	Ingress  Source // host -> TX
	Egress   Sink   // RX -> host
	FrontEnd FrontEnd
}

// Path moves frames from a Source through a chain into a Sink, one handshake
// per tick on each end.
type Path struct {
	src   Source
	chain m2stream.Chain
	dst   Sink
	in    atomic.Uint64
	out   atomic.Uint64
}

func NewPath(src Source, dst Sink, stages ...m2stream.Stage) *Path {
	return &Path{src: src, chain: m2stream.Chain(stages), dst: dst}
}

// Step runs one tick of the path.
func (p *Path) Step() {
	b := m2stream.Idle
	if p.src != nil {
		if f, ok := p.src.Peek(); ok {
			b = m2stream.Offer(f)
		}
	}
	rd := p.dst != nil && p.dst.Ready()
	inReady, out := p.chain.Step(b, rd)
	if m2stream.Fired(b, inReady) {
		p.src.Advance()
		p.in.Add(1)
	}
	if m2stream.Fired(out, rd) {
		p.dst.Put(out.Frame)
		p.out.Add(1)
	}
}

// Accepted returns how many frames entered the path.
func (p *Path) Accepted() uint64 { return p.in.Load() }

// Delivered returns how many frames left the path.
func (p *Path) Delivered() uint64 { return p.out.Load() }

// Diagnostics is a point-in-time snapshot of the whole pipeline.
type Diagnostics struct {
	Ticks          uint64          `json:"ticks"`
	TimeNow        uint64          `json:"time_now"`
	TimeStale      bool            `json:"time_stale"`
	SamplerUpdates uint64          `json:"sampler_updates"`
	TxAccepted     uint64          `json:"tx_accepted"`
	TxDelivered    uint64          `json:"tx_delivered"`
	RxAccepted     uint64          `json:"rx_accepted"`
	RxDelivered    uint64          `json:"rx_delivered"`
	Extractor      framing.Stats   `json:"extractor"`
	Scheduler      scheduler.Stats `json:"scheduler"`
	Inserter       framing.Stats   `json:"inserter"`
}

// Pipeline owns both paths. Step must be called from one goroutine; the
// accessors and Diagnostics are safe from any.
type Pipeline struct {
	sampler   *timebase.Sampler
	extractor *framing.Extractor
	sched     *scheduler.Scheduler
	inserter  *framing.Inserter
	tx        *Path
	rx        *Path
	txState   framing.State

	ticks   atomic.Uint64
	now     atomic.Uint64
	stale   atomic.Bool
	updates atomic.Uint64
}

// New builds a pipeline. Missing controls are created enabled with the
// scheduler's frame length and the header enabled.
func New(cfg Config) *Pipeline {
	if cfg.TxControl == nil {
		cfg.TxControl = framing.NewControl(cfg.Scheduler.FrameCycles, true)
	}
	if cfg.RxControl == nil {
		cfg.RxControl = framing.NewControl(cfg.Scheduler.FrameCycles, true)
	}
	if cfg.FrontEnd == nil {
		cfg.FrontEnd = NewLoopback()
	}
	p := &Pipeline{sampler: timebase.NewSampler(cfg.Time, cfg.SamplerTimeout)}
	p.extractor = framing.NewExtractor(cfg.TxControl, framing.ExtractorOptions{PassPreamble: true})
	p.sched = scheduler.New(p.sampler, cfg.Scheduler)
	p.inserter = framing.NewInserter(cfg.RxControl, p.sampler)
	p.tx = NewPath(cfg.Ingress, cfg.FrontEnd.TX(), p.extractor, p.sched)
	p.rx = NewPath(cfg.FrontEnd.RX(), cfg.Egress, p.inserter)
	p.txState = p.extractor.State()
	return p
}

// Step advances the system domain one tick: refresh the time base copy, then
// run TX and RX. A TX framer entering reset flushes the scheduler, whose
// queued packets were framed by the sequence just discarded.
func (p *Pipeline) Step() {
	p.sampler.Tick()
	p.tx.Step()
	if st := p.extractor.State(); st != p.txState {
		if st == framing.StateReset {
			p.sched.Flush()
		}
		p.txState = st
	}
	p.rx.Step()
	p.ticks.Add(1)
	p.now.Store(p.sampler.Now())
	p.stale.Store(p.sampler.Stale())
	p.updates.Store(p.sampler.Updates())
}

func (p *Pipeline) Scheduler() *scheduler.Scheduler { return p.sched }
func (p *Pipeline) Extractor() *framing.Extractor   { return p.extractor }
func (p *Pipeline) Inserter() *framing.Inserter     { return p.inserter }

// Now returns the system-domain copy of the time base after the last Step.
func (p *Pipeline) Now() uint64 { return p.now.Load() }

// Diagnostics returns a snapshot of every stage.
func (p *Pipeline) Diagnostics() Diagnostics {
	return Diagnostics{
		Ticks:          p.ticks.Load(),
		TimeNow:        p.now.Load(),
		TimeStale:      p.stale.Load(),
		SamplerUpdates: p.updates.Load(),
		TxAccepted:     p.tx.Accepted(),
		TxDelivered:    p.tx.Delivered(),
		RxAccepted:     p.rx.Accepted(),
		RxDelivered:    p.rx.Delivered(),
		Extractor:      p.extractor.Stats(),
		Scheduler:      p.sched.Stats(),
		Inserter:       p.inserter.Stats(),
	}
}
