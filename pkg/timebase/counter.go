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

// Package timebase implements a free-running nanosecond counter that advances
// in its own timing domain, and the crossing through which other domains read,
// write and adjust it without ever observing a torn value.
package timebase

import (
	"errors"
	"fmt"
)

// ErrInvalidRate is returned for a zero tick rate.
var ErrInvalidRate = errors.New("timebase: clock rate must be > 0 Hz")

const nsPerSecond = 1_000_000_000

// Increment is the exact per-tick step for a declared tick rate: Whole
// nanoseconds per tick plus Num/Den of a nanosecond carried in an accumulator,
// so the counter never drifts from rate*elapsed by a full nanosecond.
type Increment struct {
	Whole uint64
	Num   uint64
	Den   uint64
}

// NewIncrement returns the step for a counter ticking at clockHz.
func NewIncrement(clockHz uint64) (Increment, error) {
	if clockHz == 0 {
		return Increment{}, ErrInvalidRate
	}
	return Increment{
		Whole: nsPerSecond / clockHz,
		Num:   nsPerSecond % clockHz,
		Den:   clockHz,
	}, nil
}

func (i Increment) String() string {
	if i.Num == 0 {
		return fmt.Sprintf("%dns", i.Whole)
	}
	return fmt.Sprintf("%d+%d/%dns", i.Whole, i.Num, i.Den)
}

// counter is the native register of the time domain. Only Domain.Tick touches it.
type counter struct {
	initial uint64
	value   uint64
	frac    uint64
	inc     Increment
	enabled bool
}

// tick advances one clock of the time domain. A disabled counter is held at
// its initial value. A pending write replaces the increment for this tick.
func (c *counter) tick(write *uint64) {
	if !c.enabled {
		c.value = c.initial
		c.frac = 0
		return
	}
	if write != nil {
		c.value = *write
		c.frac = 0
		return
	}
	c.value += c.inc.Whole
	c.frac += c.inc.Num
	if c.frac >= c.inc.Den {
		c.frac -= c.inc.Den
		c.value++
	}
}

// setIncrement reconfigures the step. The fractional accumulator restarts so
// a reconfiguration costs at most one tick of drift.
func (c *counter) setIncrement(inc Increment) {
	c.inc = inc
	c.frac = 0
}
