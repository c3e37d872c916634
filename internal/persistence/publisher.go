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

package persistence

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"m2stream/internal/pipeline"
)

// DiagnosticsFunc produces the snapshot contents.
type DiagnosticsFunc func() pipeline.Diagnostics

// Publisher periodically captures diagnostics and hands them to a Sink.
type Publisher struct {
	sink     Sink
	source   DiagnosticsFunc
	node     string
	interval time.Duration
	timeout  time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopped  uint32

	published atomic.Int64
	failures  atomic.Int64
}

// NewPublisher creates a publisher. interval <= 0 uses 5s; each publish is
// bounded by timeout (<= 0 uses 2s).
func NewPublisher(sink Sink, source DiagnosticsFunc, node string, interval, timeout time.Duration) *Publisher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Publisher{
		sink:     sink,
		source:   source,
		node:     node,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
	}
}

func (p *Publisher) Start() {
	fmt.Printf("Starting diagnostics publisher (interval=%s)...\n", p.interval)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop()
	}()
}

// Stop publishes one final snapshot, then closes the sink.
func (p *Publisher) Stop() {
	if !atomic.CompareAndSwapUint32(&p.stopped, 0, 1) {
		return
	}
	fmt.Println("Stopping diagnostics publisher...")
	close(p.stopChan)
	p.wg.Wait()
	if err := p.sink.Close(); err != nil {
		fmt.Printf("ERROR: Failed to close diagnostics sink: %v\n", err)
	}
}

func (p *Publisher) loop() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.PublishOnce()
		case <-p.stopChan:
			p.PublishOnce()
			return
		}
	}
}

// PublishOnce captures and publishes one snapshot, retrying a failed publish
// once with the same ID.
func (p *Publisher) PublishOnce() {
	snap := NewSnapshot(p.node, p.source())
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		err = p.sink.Publish(ctx, snap)
		cancel()
		if err == nil {
			p.published.Add(1)
			return
		}
	}
	p.failures.Add(1)
	fmt.Printf("ERROR: Failed to publish diagnostics snapshot %s: %v\n", snap.ID, err)
}

// Published returns how many snapshots reached the sink.
func (p *Publisher) Published() int64 { return p.published.Load() }

// Failures returns how many snapshots were given up on.
func (p *Publisher) Failures() int64 { return p.failures.Load() }
