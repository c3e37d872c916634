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

// Package sinks captures pipeline events to local files.
package sinks

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"m2stream/internal/scheduler"
)

// ReleaseRecord is one line of the release log.
type ReleaseRecord struct {
	Seq        uint64 `json:"seq"`
	Header     uint64 `json:"header"`
	Timestamp  uint64 `json:"timestamp"`
	ReleasedAt uint64 `json:"released_at"`
	LatenessNs uint64 `json:"lateness_ns"`
	Frames     uint32 `json:"frames"`
	Late       bool   `json:"late"`
}

// ReleaseFileSink is a buffered JSONL log of released TX packets. It is safe
// for concurrent use and optimized for append-only workloads.
type ReleaseFileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	enc  *json.Encoder
	path string
	seq  uint64

	flushEvery time.Duration
	lastFlush  time.Time
}

// NewReleaseFileSink opens (or creates) path in append mode. Buffered lines
// are flushed at most flushEvery apart (<= 0 uses 100ms). Call Close when done.
func NewReleaseFileSink(path string, flushEvery time.Duration) (*ReleaseFileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	if flushEvery <= 0 {
		flushEvery = 100 * time.Millisecond
	}
	w := bufio.NewWriterSize(f, 1<<20)
	return &ReleaseFileSink{f: f, w: w, enc: json.NewEncoder(w), path: path, flushEvery: flushEvery, lastFlush: time.Now()}, nil
}

// OnRelease appends r. It has the scheduler OnRelease hook signature.
func (s *ReleaseFileSink) OnRelease(r scheduler.Release) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	rec := ReleaseRecord{
		Seq:        s.seq,
		Header:     r.Header,
		Timestamp:  r.Timestamp,
		ReleasedAt: r.ReleasedAt,
		LatenessNs: r.ReleasedAt - r.Timestamp,
		Frames:     r.Frames,
		Late:       r.Late,
	}
	if err := s.enc.Encode(&rec); err != nil {
		// best effort: flush and retry once
		_ = s.w.Flush()
		_ = s.enc.Encode(&rec)
	}
	if time.Since(s.lastFlush) > s.flushEvery {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

// Written returns the number of records appended.
func (s *ReleaseFileSink) Written() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Flush forces buffered data to be written to disk.
func (s *ReleaseFileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *ReleaseFileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAllReleases reads a release log back. Malformed lines are skipped.
func ReadAllReleases(path string) ([]ReleaseRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []ReleaseRecord
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<16)
	scanner.Buffer(buf, 1<<22)
	for scanner.Scan() {
		var r ReleaseRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err == nil {
			out = append(out, r)
		}
	}
	return out, scanner.Err()
}
