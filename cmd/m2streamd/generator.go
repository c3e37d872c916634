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

package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"m2stream"
	"m2stream/pkg/timebase"
)

// buildPacket lays out one host TX packet: header marked first, timestamp,
// then payload words with last on the final one.
func buildPacket(header, ts uint64, frameCycles uint32, seq uint64) []m2stream.Frame {
	n := frameCycles
	if n == 0 {
		n = 1
	}
	out := make([]m2stream.Frame, 0, n+2)
	out = append(out, m2stream.Frame{Data: header, First: true}, m2stream.Frame{Data: ts})
	for i := uint32(0); i < n; i++ {
		out = append(out, m2stream.Frame{Data: seq<<32 | uint64(i), Last: i == n-1})
	}
	return out
}

// generator feeds synthetic TX packets due lead nanoseconds after the time
// base value it reads through the crossing.
type generator struct {
	port        *timebase.Port
	out         chan<- m2stream.Frame
	header      uint64
	interval    time.Duration
	lead        time.Duration
	frameCycles func() uint32

	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32
	sent     atomic.Uint64
	skipped  atomic.Uint64
}

func newGenerator(port *timebase.Port, out chan<- m2stream.Frame, header uint64, interval, lead time.Duration, frameCycles func() uint32) *generator {
	return &generator{
		port:        port,
		out:         out,
		header:      header,
		interval:    interval,
		lead:        lead,
		frameCycles: frameCycles,
		stopChan:    make(chan struct{}),
	}
}

func (g *generator) Start() {
	fmt.Printf("Starting synthetic TX generator (interval=%s, lead=%s)...\n", g.interval, g.lead)
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.loop()
	}()
}

func (g *generator) Stop() {
	if !atomic.CompareAndSwapUint32(&g.stopped, 0, 1) {
		return
	}
	fmt.Println("Stopping synthetic TX generator...")
	close(g.stopChan)
	g.wg.Wait()
}

func (g *generator) loop() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	var seq uint64
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), g.interval)
			snap, err := g.port.Read(ctx)
			cancel()
			if err != nil {
				g.skipped.Add(1)
				continue
			}
			seq++
			for _, f := range buildPacket(g.header, snap.Value+uint64(g.lead), g.frameCycles(), seq) {
				select {
				case g.out <- f:
				case <-g.stopChan:
					return
				}
			}
			g.sent.Add(1)
		case <-g.stopChan:
			return
		}
	}
}
