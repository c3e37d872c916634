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
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// RedisEvaler abstracts the minimal surface we need from a Redis client.
// GoRedisEvaler wraps github.com/redis/go-redis/v9.
type RedisEvaler interface {
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)
}

// RedisSink stores snapshots idempotently using a Lua script:
//  1. SETNX snapshot:<node>:<id> 1
//  2. If set -> SET status:<node> <json>, LPUSH + LTRIM history:<node>
//  3. EXPIRE the marker (TTL) for leak protection
//
// If SETNX fails (already stored) the script makes no changes.
type RedisSink struct {
	client     RedisEvaler
	markerTTL  time.Duration
	history    int
	applied    atomic.Int64
	duplicates atomic.Int64
}

// NewRedisSink returns a sink keeping the last history snapshots per node.
// markerTTL bounds the lifetime of idempotency markers.
func NewRedisSink(client RedisEvaler, markerTTL time.Duration, history int) *RedisSink {
	if markerTTL <= 0 {
		markerTTL = 24 * time.Hour
	}
	if history <= 0 {
		history = 100
	}
	return &RedisSink{client: client, markerTTL: markerTTL, history: history}
}

// redisLuaScript returns 1 if the snapshot was stored, 0 if it was already.
const redisLuaScript = `
local statusKey = KEYS[1]
local historyKey = KEYS[2]
local markerKey = KEYS[3]
local payload = ARGV[1]
local ttlSeconds = tonumber(ARGV[2])
local keep = tonumber(ARGV[3])
local set = redis.call('SETNX', markerKey, 1)
if set == 1 then
  redis.call('SET', statusKey, payload)
  redis.call('LPUSH', historyKey, payload)
  redis.call('LTRIM', historyKey, 0, keep - 1)
  if ttlSeconds and ttlSeconds > 0 then
    redis.call('EXPIRE', markerKey, ttlSeconds)
  end
  return 1
else
  return 0
end
`

// Key layout helpers, public for readers of the stored data.
func RedisStatusKey(node string) string { return fmt.Sprintf("status:%s", node) }
func RedisHistoryKey(node string) string { return fmt.Sprintf("history:%s", node) }
func RedisMarkerKey(node, id string) string { return fmt.Sprintf("snapshot:%s:%s", node, id) }

func (r *RedisSink) Publish(ctx context.Context, s Snapshot) error {
	if s.ID == "" {
		return errors.New("Snapshot.ID must be set")
	}
	payload, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", s.ID, err)
	}
	keys := []string{RedisStatusKey(s.Node), RedisHistoryKey(s.Node), RedisMarkerKey(s.Node, s.ID)}
	args := []interface{}{string(payload), int(r.markerTTL.Seconds()), r.history}
	res, err := r.client.Eval(ctx, redisLuaScript, keys, args...)
	if err != nil {
		return fmt.Errorf("redis eval node=%s snapshot=%s: %w", s.Node, s.ID, err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		r.duplicates.Add(1)
	} else {
		r.applied.Add(1)
	}
	return nil
}

// Applied returns how many snapshots were newly stored.
func (r *RedisSink) Applied() int64 { return r.applied.Load() }

// Duplicates returns how many publishes were recognized as retries.
func (r *RedisSink) Duplicates() int64 { return r.duplicates.Load() }

func (r *RedisSink) Close() error {
	if c, ok := r.client.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
