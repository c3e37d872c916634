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

// Package persistence ships pipeline diagnostics snapshots to external
// stores (Redis, an MQTT broker, or the console).
//
// Every snapshot carries a unique ID. Adapters treat the ID as an idempotency
// key: publishing the same snapshot twice, for example after a timeout and a
// retry, must leave the store as if it had been published once.
package persistence

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"m2stream/internal/pipeline"
)

// Snapshot is one published diagnostics record.
type Snapshot struct {
	ID          string               `json:"id"`
	Node        string               `json:"node"`
	CapturedAt  time.Time            `json:"captured_at"`
	Diagnostics pipeline.Diagnostics `json:"diagnostics"`
}

// NewSnapshot stamps d with a fresh ID and the current wall time.
func NewSnapshot(node string, d pipeline.Diagnostics) Snapshot {
	return Snapshot{ID: uuid.NewString(), Node: node, CapturedAt: time.Now().UTC(), Diagnostics: d}
}

// Marshal returns the JSON form stored by every adapter.
func (s Snapshot) Marshal() ([]byte, error) { return json.Marshal(s) }

// Sink is the interface for any snapshot destination.
type Sink interface {
	Publish(ctx context.Context, s Snapshot) error
	Close() error
}
