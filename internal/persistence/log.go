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
)

// LogSink prints a one-line summary of every snapshot to the console.
type LogSink struct {
	mu        sync.Mutex
	published int64
}

func NewLogSink() *LogSink { return &LogSink{} }

func (l *LogSink) Publish(ctx context.Context, s Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := s.Diagnostics
	fmt.Printf("[%s] status node=%s time=%d stale=%t tx=%d/%d rx=%d/%d sched=%s level=%d released=%d late=%d abandoned=%d\n",
		s.CapturedAt.Format("2006-01-02T15:04:05Z07:00"), s.Node, d.TimeNow, d.TimeStale,
		d.TxAccepted, d.TxDelivered, d.RxAccepted, d.RxDelivered,
		d.Scheduler.State, d.Scheduler.Level, d.Scheduler.Released, d.Scheduler.Late, d.Scheduler.AbandonedFrames)
	l.mu.Lock()
	l.published++
	l.mu.Unlock()
	return nil
}

// Published returns how many snapshots were printed.
func (l *LogSink) Published() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.published
}

func (l *LogSink) Close() error { return nil }
