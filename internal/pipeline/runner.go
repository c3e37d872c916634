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
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const maxCatchUp = 1 << 14

// Runner drives a Pipeline from its own goroutine at the system clock period.
// Like the time domain clock it wakes coarsely and replays the owed ticks.
type Runner struct {
	p        *Pipeline
	period   time.Duration
	wake     time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	dropped  atomic.Uint64
}

// NewRunner creates a runner stepping p once per period (0 uses 10µs), waking
// every wake interval (0 uses 1ms).
func NewRunner(p *Pipeline, period, wake time.Duration) *Runner {
	if period <= 0 {
		period = 10 * time.Microsecond
	}
	if wake <= 0 {
		wake = time.Millisecond
	}
	return &Runner{p: p, period: period, wake: wake, stopChan: make(chan struct{})}
}

func (r *Runner) Start() {
	fmt.Printf("Starting pipeline runner (period=%s)...\n", r.period)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
}

func (r *Runner) Stop() {
	if !atomic.CompareAndSwapUint32(&r.stopped, 0, 1) {
		return
	}
	fmt.Println("Stopping pipeline runner...")
	close(r.stopChan)
	r.wg.Wait()
}

// DroppedTicks reports ticks skipped because the runner fell too far behind.
func (r *Runner) DroppedTicks() uint64 { return r.dropped.Load() }

func (r *Runner) loop() {
	ticker := time.NewTicker(r.wake)
	defer ticker.Stop()
	start := time.Now()
	var issued uint64
	for {
		select {
		case <-ticker.C:
			owed := uint64(time.Since(start) / r.period)
			n := owed - issued
			if n > maxCatchUp {
				r.dropped.Add(n - maxCatchUp)
				issued = owed - maxCatchUp
				n = maxCatchUp
			}
			for i := uint64(0); i < n; i++ {
				r.p.Step()
			}
			issued += n
		case <-r.stopChan:
			return
		}
	}
}
