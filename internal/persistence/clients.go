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
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// LoggingRedisEvaler is a demo client that just logs the Lua evaluation.
// It lets the daemon select the Redis adapter without a real Redis.
type LoggingRedisEvaler struct{}

func (LoggingRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	fmt.Printf("[redis-demo] EVAL script(len=%d) KEYS=%v ARGS=%d\n", len(script), keys, len(args))
	return int64(1), nil
}

// GoRedisEvaler implements RedisEvaler over github.com/redis/go-redis/v9.
type GoRedisEvaler struct{ c *redis.Client }

// NewGoRedisEvaler connects lazily to addr, e.g. "127.0.0.1:6379".
func NewGoRedisEvaler(addr string) *GoRedisEvaler {
	return &GoRedisEvaler{c: redis.NewClient(&redis.Options{Addr: addr})}
}

func (g *GoRedisEvaler) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return g.c.Eval(ctx, script, keys, args...).Result()
}

func (g *GoRedisEvaler) Close() error { return g.c.Close() }

// MQTTClient is the publish surface the MQTT sink needs.
type MQTTClient interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Disconnect()
}

// LoggingMQTTClient logs every publish instead of talking to a broker.
type LoggingMQTTClient struct{}

func (LoggingMQTTClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fmt.Printf("[mqtt-demo] TOPIC=%s QOS=%d RETAIN=%t BYTES=%d\n", topic, qos, retained, len(payload))
	return nil
}

func (LoggingMQTTClient) Disconnect() {}

// MQTTOptions configures a broker connection.
type MQTTOptions struct {
	Broker   string // e.g. "tcp://127.0.0.1:1883"
	Username string
	Password string
	ClientID string // defaults to m2stream_<uuid>
}

// PahoClient implements MQTTClient over github.com/eclipse/paho.mqtt.golang.
type PahoClient struct {
	client mqtt.Client
}

// NewPahoClient connects to the broker, retrying in the background after the
// first successful connection.
func NewPahoClient(o MQTTOptions) (*PahoClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	id := o.ClientID
	if id == "" {
		id = "m2stream_" + uuid.NewString()
	}
	opts.SetClientID(id)
	if o.Username != "" {
		opts.SetUsername(o.Username)
	}
	if o.Password != "" {
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		fmt.Println("MQTT: connected to broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		fmt.Printf("MQTT: connection lost: %v\n", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to MQTT broker %s: %w", o.Broker, token.Error())
	}
	return &PahoClient{client: client}, nil
}

func (p *PahoClient) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if !p.client.IsConnected() {
		return fmt.Errorf("MQTT not connected")
	}
	token := p.client.Publish(topic, qos, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PahoClient) Disconnect() {
	if p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
