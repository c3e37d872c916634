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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxCatchUp bounds how many ticks one wake-up may replay after a scheduling delay.
const maxCatchUp = 1 << 16

// Clock drives a Domain from its own goroutine at the domain's declared rate.
// Each wake-up replays the ticks owed for the elapsed wall time at the current
// clock_hz, so the counter tracks real time across SetClockHz even though the
// goroutine sleeps coarsely.
type Clock struct {
	domain   *Domain
	wake     time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	ticks    atomic.Uint64
	dropped  atomic.Uint64
}

// NewClock creates a clock for d waking every wake interval (0 uses 1ms).
func NewClock(d *Domain, wake time.Duration) *Clock {
	if wake <= 0 {
		wake = time.Millisecond
	}
	return &Clock{domain: d, wake: wake, stopChan: make(chan struct{})}
}

// Start launches the clock goroutine.
func (c *Clock) Start() {
	fmt.Printf("Starting time domain clock (clock_hz=%d, wake=%s)...\n", c.domain.ClockHz(), c.wake)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
}

// Stop halts the clock. Requests through the crossing go stale afterwards.
func (c *Clock) Stop() {
	if !atomic.CompareAndSwapUint32(&c.stopped, 0, 1) {
		return
	}
	fmt.Println("Stopping time domain clock...")
	close(c.stopChan)
	c.wg.Wait()
}

// Ticks returns the number of ticks issued so far.
func (c *Clock) Ticks() uint64 { return c.ticks.Load() }

// DroppedTicks returns ticks owed but skipped because a wake-up fell more
// than maxCatchUp ticks behind.
func (c *Clock) DroppedTicks() uint64 { return c.dropped.Load() }

// owed converts elapsed wall time to whole ticks at hz, carrying the
// remainder (in ns*hz units) to the next call.
func owed(elapsed time.Duration, hz uint64, carry *uint64) uint64 {
	if elapsed > time.Second {
		elapsed = time.Second
	}
	if elapsed < 0 {
		elapsed = 0
	}
	acc := uint64(elapsed)*hz + *carry
	*carry = acc % nsPerSecond
	return acc / nsPerSecond
}

func (c *Clock) run() {
	ticker := time.NewTicker(c.wake)
	defer ticker.Stop()
	last := time.Now()
	var carry uint64
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			n := owed(now.Sub(last), c.domain.ClockHz(), &carry)
			last = now
			if n > maxCatchUp {
				// Drop the backlog rather than stall the crossing.
				c.dropped.Add(n - maxCatchUp)
				n = maxCatchUp
			}
			for i := uint64(0); i < n; i++ {
				c.domain.Tick()
			}
			c.ticks.Add(n)
		case <-c.stopChan:
			return
		}
	}
}
