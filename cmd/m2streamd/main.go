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

// Package main runs the m2stream daemon: a time base in its own clock domain,
// the TX scheduling and RX framing pipeline driven by the system domain, and
// the HTTP control plane, metrics and diagnostics publishing around them.
//
// Without a radio attached the TX output loops back into RX, so a generator
// run shows packets being held until due, released, and re-framed with fresh
// RX timestamps.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"m2stream"
	"m2stream/internal/config"
	"m2stream/internal/control"
	"m2stream/internal/framing"
	"m2stream/internal/persistence"
	"m2stream/internal/pipeline"
	"m2stream/internal/scheduler"
	"m2stream/internal/sinks"
	"m2stream/internal/telemetry"
	"m2stream/pkg/timebase"
)

func main() {
	configPath := flag.String("config", "", "Path to the YAML configuration file (defaults are used when empty)")
	controlAddr := flag.String("control_addr", "", "Override control.addr (e.g., :8080)")
	metricsAddr := flag.String("metrics_addr", "", "Override metrics.addr; also enables metrics")
	adapter := flag.String("persistence", "", "Override persistence.adapter (log, redis, mqtt, file)")
	capturePath := flag.String("capture", "", "Override capture.path (JSONL log of released TX packets)")
	generate := flag.Bool("generate", false, "Enable the synthetic TX generator")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Could not load config: %v", err)
		}
	}
	if *controlAddr != "" {
		cfg.Control.Addr = *controlAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled, cfg.Metrics.Addr = true, *metricsAddr
	}
	if *adapter != "" {
		cfg.Persistence.Adapter = *adapter
	}
	if *capturePath != "" {
		cfg.Capture.Path = *capturePath
	}
	if *generate {
		cfg.Generator.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	captureThresholds(cfg)

	// 1. Time domain.
	domain, err := timebase.NewDomain(timebase.Options{
		ClockHz:      cfg.TimeBase.ClockHz,
		Initial:      cfg.TimeBase.Initial,
		Enabled:      cfg.TimeBase.Enabled,
		RetryBudget:  cfg.TimeBase.RetryBudget,
		PollInterval: cfg.TimeBase.PollInterval,
	})
	if err != nil {
		log.Fatalf("Could not create time base: %v", err)
	}
	clock := timebase.NewClock(domain, cfg.TimeBase.Wake)
	clock.Start()

	// 2. Pipeline in the system domain.
	ingress := make(chan m2stream.Frame, cfg.TX.IngressDepth)
	egress := make(chan m2stream.Frame, cfg.RX.EgressDepth)
	txCtrl := framing.NewControl(cfg.TX.FrameCycles, true)
	rxCtrl := framing.NewControl(cfg.RX.FrameCycles, cfg.RX.HeaderEnable)
	rxCtrl.SetHeader(cfg.RX.Header)
	p := pipeline.New(pipeline.Config{
		Time:           domain.Port(),
		SamplerTimeout: cfg.Sys.SamplerTimeout,
		TxControl:      txCtrl,
		RxControl:      rxCtrl,
		Scheduler: scheduler.Options{
			FrameCycles:    cfg.TX.FrameCycles,
			MaxPackets:     cfg.TX.MaxPackets,
			LatenessWindow: cfg.TX.LatenessWindow,
			StartDisabled:  !cfg.TX.SchedulerEnabled,
		},
		Ingress:  pipeline.NewChanSource(ingress),
		Egress:   pipeline.NewChanSink(egress),
		FrontEnd: pipeline.NewLoopback(),
	})

	exporter := telemetry.NewExporter(p)
	var capture *sinks.ReleaseFileSink
	if cfg.Capture.Path != "" {
		capture, err = sinks.NewReleaseFileSink(cfg.Capture.Path, cfg.Capture.FlushInterval)
		if err != nil {
			log.Fatalf("Could not open capture file %s: %v", cfg.Capture.Path, err)
		}
	}
	p.Scheduler().OnRelease(func(r scheduler.Release) {
		exporter.ObserveRelease(r)
		if capture != nil {
			capture.OnRelease(r)
		}
	})

	// Host RX consumer: drain the egress so RX never backs up.
	var rxFrames atomic.Uint64
	rxDone := make(chan struct{})
	go func() {
		defer close(rxDone)
		for range egress {
			rxFrames.Add(1)
		}
	}()

	runner := pipeline.NewRunner(p, cfg.Sys.Period, 0)
	runner.Start()

	// 3. Diagnostics publishing.
	sink, err := persistence.BuildSink(cfg.Persistence.Adapter, persistence.Options{
		RedisAddr:      cfg.Persistence.RedisAddr,
		RedisMarkerTTL: cfg.Persistence.RedisMarkerTTL,
		RedisHistory:   cfg.Persistence.RedisHistory,
		MQTTBroker:     cfg.Persistence.MQTTBroker,
		MQTTUsername:   cfg.Persistence.MQTTUsername,
		MQTTPassword:   cfg.Persistence.MQTTPassword,
		MQTTPrefix:     cfg.Persistence.MQTTPrefix,
		MQTTQoS:        cfg.Persistence.MQTTQoS,
		FilePath:       cfg.Persistence.FilePath,
	})
	if err != nil {
		log.Fatalf("Could not build persistence sink: %v", err)
	}
	publisher := persistence.NewPublisher(sink, p.Diagnostics, cfg.Node, cfg.Persistence.Interval, cfg.Persistence.Timeout)
	publisher.Start()

	// 4. Metrics and control plane.
	var metrics http.Handler
	if cfg.Metrics.Enabled {
		metrics = exporter.Handler()
		if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != cfg.Control.Addr {
			exporter.Serve(cfg.Metrics.Addr)
			fmt.Printf("Prometheus metrics on %s/metrics\n", cfg.Metrics.Addr)
		}
	}
	ctl := control.NewServer(control.Options{
		Time:      domain.Port(),
		Status:    p,
		Scheduler: p.Scheduler(),
		TX:        txCtrl,
		RX:        rxCtrl,
		Metrics:   metrics,
	})
	go func() {
		if err := ctl.ListenAndServe(cfg.Control.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", cfg.Control.Addr, err)
		}
	}()

	var gen *generator
	if cfg.Generator.Enabled {
		gen = newGenerator(domain.Port(), ingress, cfg.Generator.Header, cfg.Generator.Interval, cfg.Generator.Lead, txCtrl.FrameCycles)
		gen.Start()
	}

	// 5. Wait for a signal, then shut down producers before consumers.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	fmt.Println("\nShutting down m2streamd...")
	if gen != nil {
		gen.Stop()
	}
	runner.Stop()
	close(egress)
	<-rxDone
	publisher.Stop()
	clock.Stop()
	if capture != nil {
		if err := capture.Close(); err != nil {
			fmt.Printf("ERROR: Failed to close capture file: %v\n", err)
		}
	}

	telemetry.SetThresholdUint64("host_rx_frames", rxFrames.Load())
	telemetry.SetThresholdUint64("runner_dropped_ticks", runner.DroppedTicks())
	telemetry.SetThresholdUint64("time_base_dropped_ticks", clock.DroppedTicks())
	telemetry.PrintFinalSummary(p.Diagnostics(), p.Scheduler().Lateness())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ctl.Shutdown(ctx); err != nil {
		log.Fatalf("Control server shutdown failed: %v", err)
	}
	if err := exporter.Shutdown(ctx); err != nil {
		log.Fatalf("Metrics server shutdown failed: %v", err)
	}
	fmt.Println("m2streamd gracefully stopped.")
}

// captureThresholds records the knobs printed in the final summary.
func captureThresholds(cfg *config.Config) {
	telemetry.SetThreshold("node", cfg.Node)
	telemetry.SetThresholdUint64("time_base.clock_hz", cfg.TimeBase.ClockHz)
	telemetry.SetThresholdDuration("time_base.wake", cfg.TimeBase.Wake)
	telemetry.SetThresholdBool("time_base.enabled", cfg.TimeBase.Enabled)
	telemetry.SetThresholdDuration("sys.period", cfg.Sys.Period)
	telemetry.SetThresholdInt64("sys.sampler_timeout", int64(cfg.Sys.SamplerTimeout))
	telemetry.SetThresholdInt64("tx.frame_cycles", int64(cfg.TX.FrameCycles))
	telemetry.SetThresholdInt64("tx.max_packets", int64(cfg.TX.MaxPackets))
	telemetry.SetThresholdBool("tx.scheduler_enabled", cfg.TX.SchedulerEnabled)
	telemetry.SetThresholdInt64("rx.frame_cycles", int64(cfg.RX.FrameCycles))
	telemetry.SetThresholdBool("rx.header_enable", cfg.RX.HeaderEnable)
	telemetry.SetThreshold("persistence.adapter", cfg.Persistence.Adapter)
	telemetry.SetThreshold("control.addr", cfg.Control.Addr)
	if cfg.Generator.Enabled {
		telemetry.SetThresholdDuration("generator.interval", cfg.Generator.Interval)
		telemetry.SetThresholdDuration("generator.lead", cfg.Generator.Lead)
	}
}
