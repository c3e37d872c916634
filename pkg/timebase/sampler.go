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

// Sampler keeps a consumer-domain copy of the time base current by cycling
// read requests through the crossing, one outstanding at a time. It belongs to
// a single consumer goroutine; call Tick once per consumer-domain clock.
type Sampler struct {
	port    *Port
	seq     uint64
	pending bool
	now     uint64
	waited  int
	timeout int
	stale   bool
	updates uint64
}

// NewSampler returns a sampler that reports stale after timeoutTicks consumer
// ticks without an acknowledgement. timeoutTicks <= 0 uses 1024.
func NewSampler(p *Port, timeoutTicks int) *Sampler {
	if timeoutTicks <= 0 {
		timeoutTicks = 1024
	}
	return &Sampler{port: p, timeout: timeoutTicks}
}

// Tick polls the outstanding request and raises the next one.
func (s *Sampler) Tick() {
	if s.pending {
		snap, ok := s.port.poll(s.seq)
		if !ok {
			s.waited++
			if s.waited >= s.timeout {
				s.stale = true
			}
			return
		}
		s.now = snap.Value
		s.updates++
		s.stale = false
	}
	s.seq = s.port.request()
	s.pending = true
	s.waited = 0
}

// Now returns the most recent value delivered through the crossing.
func (s *Sampler) Now() uint64 { return s.now }

// Stale reports whether the time domain stopped answering.
func (s *Sampler) Stale() bool { return s.stale }

// Updates returns how many captures have been delivered.
func (s *Sampler) Updates() uint64 { return s.updates }
