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
	"fmt"
	"time"
)

// Options holds the knobs for building a sink.
type Options struct {
	RedisAddr      string
	RedisMarkerTTL time.Duration
	RedisHistory   int

	MQTTBroker   string
	MQTTUsername string
	MQTTPassword string
	MQTTPrefix   string
	MQTTQoS      byte

	FilePath string
}

// BuildSink constructs a Sink based on a string selector:
//   - "log": console summary (default)
//   - "redis": idempotent Redis adapter; logs the EVAL instead when no address is set
//   - "mqtt": retained status topic; logs instead when no broker is set
//   - "file": JSONL snapshot log at FilePath
func BuildSink(adapter string, opts Options) (Sink, error) {
	switch adapter {
	case "", "log":
		return NewLogSink(), nil
	case "redis":
		var evaler RedisEvaler
		if opts.RedisAddr != "" {
			evaler = NewGoRedisEvaler(opts.RedisAddr)
		} else {
			evaler = LoggingRedisEvaler{}
		}
		return NewRedisSink(evaler, opts.RedisMarkerTTL, opts.RedisHistory), nil
	case "mqtt":
		var client MQTTClient = LoggingMQTTClient{}
		if opts.MQTTBroker != "" {
			c, err := NewPahoClient(MQTTOptions{Broker: opts.MQTTBroker, Username: opts.MQTTUsername, Password: opts.MQTTPassword})
			if err != nil {
				return nil, err
			}
			client = c
		}
		return NewMQTTSink(client, opts.MQTTPrefix, opts.MQTTQoS), nil
	case "file":
		if opts.FilePath == "" {
			return nil, fmt.Errorf("file adapter requires a path")
		}
		return NewFileSink(opts.FilePath)
	default:
		return nil, fmt.Errorf("unknown persistence adapter: %s", adapter)
	}
}
