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
)

// MQTTSink publishes each snapshot as retained JSON on
// <prefix>/<node>/status. The snapshot ID inside the payload lets
// subscribers drop redeliveries.
type MQTTSink struct {
	client MQTTClient
	prefix string
	qos    byte
}

func NewMQTTSink(client MQTTClient, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = "m2stream"
	}
	if qos > 2 {
		qos = 1
	}
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

// Topic returns the status topic for node.
func (m *MQTTSink) Topic(node string) string { return fmt.Sprintf("%s/%s/status", m.prefix, node) }

func (m *MQTTSink) Publish(ctx context.Context, s Snapshot) error {
	payload, err := s.Marshal()
	if err != nil {
		return fmt.Errorf("marshal snapshot %s: %w", s.ID, err)
	}
	if err := m.client.Publish(ctx, m.Topic(s.Node), m.qos, true, payload); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", m.Topic(s.Node), err)
	}
	return nil
}

func (m *MQTTSink) Close() error {
	m.client.Disconnect()
	return nil
}
