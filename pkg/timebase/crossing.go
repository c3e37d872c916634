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

package timebase

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
	"time"
)

// ErrStale is returned when the time domain does not acknowledge a request
// within the retry budget, e.g. because its clock is stopped.
var ErrStale = errors.New("timebase: crossing request not acknowledged (stale)")

// seqlock publishes a small multi-word record from a single writer to any
// number of readers. Readers retry while a write is in progress.
type seqlock struct {
	seq   atomic.Uint64
	words [2]atomic.Uint64
}

func (s *seqlock) store(a, b uint64) {
	s.seq.Add(1) // odd: write in progress
	s.words[0].Store(a)
	s.words[1].Store(b)
	s.seq.Add(1)
}

func (s *seqlock) load() (uint64, uint64) {
	for {
		before := s.seq.Load()
		if before&1 == 1 {
			runtime.Gosched()
			continue
		}
		a := s.words[0].Load()
		b := s.words[1].Load()
		if s.seq.Load() == before {
			return a, b
		}
	}
}

// Snapshot is a time value captured inside the time domain.
type Snapshot struct {
	// Value is counter + adjustment at capture.
	Value uint64
	// Ticks is the number of time-domain ticks elapsed at capture.
	Ticks uint64
}

// Options configures a Domain.
type Options struct {
	// ClockHz is the declared tick rate of the time domain.
	ClockHz uint64
	// Initial is the value the counter holds while disabled.
	Initial uint64
	// Enabled starts the counter running.
	Enabled bool
	// RetryBudget bounds how many polls Read/Write perform before ErrStale.
	// Default 1000.
	RetryBudget int
	// PollInterval is the wait between polls. Default 10µs.
	PollInterval time.Duration
}

// Domain owns the counter and the time-domain half of the crossing. Tick must
// be called from a single goroutine: the time domain's clock.
type Domain struct {
	c     counter
	ticks uint64

	// level-synchronized controls, written by the port
	enable  atomic.Bool
	adjust  atomic.Int64
	clockHz atomic.Uint64
	curHz   uint64

	// read handshake
	readReq   atomic.Uint64
	readAck   atomic.Uint64
	readSeen  uint64
	armed     bool
	armedSeq  uint64
	published seqlock

	// write handshake
	writeReq  atomic.Uint64
	writeAck  atomic.Uint64
	writeSeen uint64
	writeVal  atomic.Uint64

	port *Port
}

// NewDomain builds a time domain and the port consumers use to reach it.
func NewDomain(opts Options) (*Domain, error) {
	inc, err := NewIncrement(opts.ClockHz)
	if err != nil {
		return nil, err
	}
	if opts.RetryBudget <= 0 {
		opts.RetryBudget = 1000
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Microsecond
	}
	d := &Domain{
		c:     counter{initial: opts.Initial, value: opts.Initial, inc: inc, enabled: opts.Enabled},
		curHz: opts.ClockHz,
	}
	d.enable.Store(opts.Enabled)
	d.clockHz.Store(opts.ClockHz)
	d.published.store(opts.Initial, 0)
	d.port = &Port{d: d, budget: opts.RetryBudget, interval: opts.PollInterval}
	return d, nil
}

// ClockHz returns the declared tick rate, including a pending SetClockHz.
func (d *Domain) ClockHz() uint64 { return d.clockHz.Load() }

// Port returns the consumer-side half of the crossing.
func (d *Domain) Port() *Port { return d.port }

// Tick advances the time domain by one clock.
func (d *Domain) Tick() {
	if hz := d.clockHz.Load(); hz != d.curHz {
		if inc, err := NewIncrement(hz); err == nil {
			d.c.setIncrement(inc)
			d.curHz = hz
		}
	}
	d.c.enabled = d.enable.Load()

	var write *uint64
	wseq := d.writeReq.Load()
	if wseq != d.writeSeen {
		v := d.writeVal.Load()
		write = &v
		d.writeSeen = wseq
	}
	d.c.tick(write)
	d.ticks++
	if write != nil {
		d.writeAck.Store(d.writeSeen)
	}

	// A request seen on the previous tick is answered now, with the value the
	// counter settled to after a full tick of its own clock.
	if d.armed {
		d.published.store(d.c.value+uint64(d.adjust.Load()), d.ticks)
		d.readAck.Store(d.armedSeq)
		d.armed = false
	}
	if rseq := d.readReq.Load(); rseq != d.readSeen {
		d.readSeen = rseq
		d.armedSeq = rseq
		d.armed = true
	}
}

// Port is the consumer-domain half of the crossing. All methods are safe for
// concurrent use. Concurrent writes resolve last-writer-wins.
type Port struct {
	d        *Domain
	budget   int
	interval time.Duration
}

// SetEnable starts or stops (and resets) the counter.
func (p *Port) SetEnable(on bool) { p.d.enable.Store(on) }

// Enabled reports the requested enable level.
func (p *Port) Enabled() bool { return p.d.enable.Load() }

// SetAdjust sets the signed offset added to every observed value.
func (p *Port) SetAdjust(delta int64) { p.d.adjust.Store(delta) }

// Adjust returns the current offset.
func (p *Port) Adjust() int64 { return p.d.adjust.Load() }

// SetClockHz reconfigures the declared tick rate. Zero is ignored.
func (p *Port) SetClockHz(hz uint64) {
	if hz > 0 {
		p.d.clockHz.Store(hz)
	}
}

// request raises a read pulse and returns its sequence number.
func (p *Port) request() uint64 { return p.d.readReq.Add(1) }

// poll returns the published snapshot once request seq has been acknowledged.
func (p *Port) poll(seq uint64) (Snapshot, bool) {
	if p.d.readAck.Load() < seq {
		return Snapshot{}, false
	}
	v, t := p.d.published.load()
	return Snapshot{Value: v, Ticks: t}, true
}

// Read requests a fresh capture and waits for it, bounded by the retry budget.
func (p *Port) Read(ctx context.Context) (Snapshot, error) {
	seq := p.request()
	err := p.wait(ctx, func() bool { return p.d.readAck.Load() >= seq })
	if err != nil {
		return Snapshot{}, err
	}
	s, _ := p.poll(seq)
	return s, nil
}

// Write forces the counter to value on the next time-domain tick and waits for
// the acknowledgement.
func (p *Port) Write(ctx context.Context, value uint64) error {
	p.d.writeVal.Store(value)
	seq := p.d.writeReq.Add(1)
	return p.wait(ctx, func() bool { return p.d.writeAck.Load() >= seq })
}

func (p *Port) wait(ctx context.Context, done func() bool) error {
	for i := 0; i < p.budget; i++ {
		if done() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.interval):
		}
	}
	if done() {
		return nil
	}
	return ErrStale
}
