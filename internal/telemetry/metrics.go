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

// Package telemetry exposes pipeline diagnostics to Prometheus and prints the
// end-of-run summary.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"m2stream/internal/pipeline"
	"m2stream/internal/scheduler"
)

// Source supplies diagnostics snapshots. *pipeline.Pipeline implements it.
type Source interface {
	Diagnostics() pipeline.Diagnostics
}

var (
	ticksDesc       = prometheus.NewDesc("m2stream_ticks_total", "System clock ticks executed by the pipeline", nil, nil)
	timeNowDesc     = prometheus.NewDesc("m2stream_time_now_ns", "System-domain copy of the time base", nil, nil)
	timeStaleDesc   = prometheus.NewDesc("m2stream_time_stale", "1 when the time base crossing stopped answering", nil, nil)
	pathFramesDesc  = prometheus.NewDesc("m2stream_path_frames_total", "Frames moved per path end", []string{"path", "end"}, nil)
	schedStateDesc  = prometheus.NewDesc("m2stream_scheduler_state", "Scheduler state (0=disabled,1=buffering,2=streaming)", nil, nil)
	schedLevelDesc  = prometheus.NewDesc("m2stream_scheduler_level_frames", "Frames held in the scheduler queue", nil, nil)
	schedQueuedDesc = prometheus.NewDesc("m2stream_scheduler_queued_packets", "Fully enqueued packets waiting or streaming", nil, nil)
	releasedDesc    = prometheus.NewDesc("m2stream_scheduler_released_packets_total", "Packets released to the radio", nil, nil)
	lateDesc        = prometheus.NewDesc("m2stream_scheduler_late_packets_total", "Packets released after their timestamp", nil, nil)
	abandonedDesc   = prometheus.NewDesc("m2stream_scheduler_abandoned_frames_total", "Frames discarded by disable or reconfigure", nil, nil)
	heldDesc        = prometheus.NewDesc("m2stream_scheduler_held_ticks_total", "Ticks the head packet waited for its due time", nil, nil)
	codecPktDesc    = prometheus.NewDesc("m2stream_codec_packets_total", "Preambles latched per codec", []string{"codec"}, nil)
	resyncDesc      = prometheus.NewDesc("m2stream_codec_resync_drops_total", "Frames dropped while hunting for a header", []string{"codec"}, nil)
	resetDropDesc   = prometheus.NewDesc("m2stream_codec_reset_drops_total", "Input frames dropped by a reset", []string{"codec"}, nil)
)

// collector converts a diagnostics snapshot into const metrics on each scrape.
type collector struct {
	src Source
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{ticksDesc, timeNowDesc, timeStaleDesc, pathFramesDesc, schedStateDesc,
		schedLevelDesc, schedQueuedDesc, releasedDesc, lateDesc, abandonedDesc, heldDesc, codecPktDesc, resyncDesc, resetDropDesc} {
		ch <- d
	}
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	d := c.src.Diagnostics()
	counter := func(desc *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	counter(ticksDesc, d.Ticks)
	gauge(timeNowDesc, float64(d.TimeNow))
	stale := 0.0
	if d.TimeStale {
		stale = 1
	}
	gauge(timeStaleDesc, stale)
	counter(pathFramesDesc, d.TxAccepted, "tx", "in")
	counter(pathFramesDesc, d.TxDelivered, "tx", "out")
	counter(pathFramesDesc, d.RxAccepted, "rx", "in")
	counter(pathFramesDesc, d.RxDelivered, "rx", "out")

	s := d.Scheduler
	gauge(schedStateDesc, float64(s.State))
	gauge(schedLevelDesc, float64(s.Level))
	gauge(schedQueuedDesc, float64(s.QueuedPackets))
	counter(releasedDesc, s.Released)
	counter(lateDesc, s.Late)
	counter(abandonedDesc, s.AbandonedFrames)
	counter(heldDesc, s.HeldTicks)

	for name, cs := range map[string]struct{ p, r, x uint64 }{
		"extractor": {d.Extractor.Packets, d.Extractor.ResyncDrops, d.Extractor.ResetDrops},
		"inserter":  {d.Inserter.Packets, d.Inserter.ResyncDrops, d.Inserter.ResetDrops},
	} {
		counter(codecPktDesc, cs.p, name)
		counter(resyncDesc, cs.r, name)
		counter(resetDropDesc, cs.x, name)
	}
}

// Exporter owns a private registry with the pipeline collector, a release
// lateness histogram and the Go runtime collectors.
type Exporter struct {
	reg      *prometheus.Registry
	lateness prometheus.Histogram
	server   *http.Server
}

// NewExporter registers metrics for src.
func NewExporter(src Source) *Exporter {
	e := &Exporter{
		reg: prometheus.NewRegistry(),
		lateness: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "m2stream_release_lateness_ns",
			Help:    "Release time minus packet timestamp",
			Buckets: prometheus.ExponentialBuckets(10, 4, 12),
		}),
	}
	e.reg.MustRegister(collector{src: src}, e.lateness, collectors.NewGoCollector())
	return e
}

// ObserveRelease records one released packet. Suitable as a scheduler
// OnRelease hook.
func (e *Exporter) ObserveRelease(r scheduler.Release) {
	e.lateness.Observe(float64(r.ReleasedAt - r.Timestamp))
}

// Handler serves the registry in the Prometheus exposition format.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in a background goroutine.
func (e *Exporter) Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	e.server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = e.server.ListenAndServe()
	}()
}

// Shutdown stops the endpoint started by Serve.
func (e *Exporter) Shutdown(ctx context.Context) error {
	if e.server == nil {
		return nil
	}
	return e.server.Shutdown(ctx)
}
