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

package telemetry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"m2stream/internal/pipeline"
)

var (
	// thresholds holds human-readable configuration knobs captured at startup.
	thresholdsMu sync.RWMutex
	thresholds   = make(map[string]string)
)

// SetThreshold captures a configuration knob for the final summary.
func SetThreshold(name string, value string) {
	thresholdsMu.Lock()
	thresholds[name] = value
	thresholdsMu.Unlock()
}

func SetThresholdInt64(name string, v int64) { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdUint64(name string, v uint64) { SetThreshold(name, fmt.Sprintf("%d", v)) }
func SetThresholdDuration(name string, d time.Duration) { SetThreshold(name, d.String()) }
func SetThresholdBool(name string, b bool) { SetThreshold(name, fmt.Sprintf("%t", b)) }

func thresholdSnapshot() map[string]string {
	thresholdsMu.RLock()
	defer thresholdsMu.RUnlock()
	out := make(map[string]string, len(thresholds))
	for k, v := range thresholds {
		out[k] = v
	}
	return out
}

func resetThresholdsForTests() {
	thresholdsMu.Lock()
	defer thresholdsMu.Unlock()
	for k := range thresholds {
		delete(thresholds, k)
	}
}

// LatenessStats summarizes release lateness samples in nanoseconds.
type LatenessStats struct {
	Count  int
	Mean   float64
	StdDev float64
	P50    float64
	P99    float64
	Max    float64
}

// ComputeLateness summarizes samples. An empty input yields NaN statistics.
func ComputeLateness(samples []int64) LatenessStats {
	ls := LatenessStats{Count: len(samples)}
	if len(samples) == 0 {
		nan := math.NaN()
		ls.Mean, ls.StdDev, ls.P50, ls.P99, ls.Max = nan, nan, nan, nan, nan
		return ls
	}
	x := make([]float64, len(samples))
	for i, v := range samples {
		x[i] = float64(v)
	}
	sort.Float64s(x)
	ls.Mean, ls.StdDev = stat.MeanStdDev(x, nil)
	if len(x) == 1 {
		ls.StdDev = 0
	}
	ls.P50 = stat.Quantile(0.5, stat.Empirical, x, nil)
	ls.P99 = stat.Quantile(0.99, stat.Empirical, x, nil)
	ls.Max = x[len(x)-1]
	return ls
}

func fmtNs(f float64) string {
	if math.IsNaN(f) {
		return "n/a"
	}
	return time.Duration(f).String()
}

// PrintFinalSummary prints one end-of-run report of the pipeline counters,
// release lateness and the captured configuration knobs.
func PrintFinalSummary(d pipeline.Diagnostics, lateness []int64) {
	ls := ComputeLateness(lateness)

	th := thresholdSnapshot()
	keys := make([]string, 0, len(th))
	for k := range th {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	yellow := "\x1b[33m"
	reset := "\x1b[0m"
	now := time.Now().Format(time.RFC3339)

	sep := strings.Repeat("-", 60)
	fmt.Printf("%s[%s] Final stream metrics\n", yellow, now)
	fmt.Println(sep)
	fmt.Printf("%-22s %16s\n", "Metric", "Value")
	fmt.Println(sep)
	fmt.Printf("%-22s %16d\n", "Ticks", d.Ticks)
	fmt.Printf("%-22s %16d\n", "Time base (ns)", d.TimeNow)
	fmt.Printf("%-22s %16t\n", "Time base stale", d.TimeStale)
	fmt.Printf("%-22s %16d\n", "TX frames in", d.TxAccepted)
	fmt.Printf("%-22s %16d\n", "TX frames out", d.TxDelivered)
	fmt.Printf("%-22s %16d\n", "RX frames in", d.RxAccepted)
	fmt.Printf("%-22s %16d\n", "RX frames out", d.RxDelivered)
	fmt.Printf("%-22s %16d\n", "Packets released", d.Scheduler.Released)
	fmt.Printf("%-22s %16d\n", "Packets late", d.Scheduler.Late)
	fmt.Printf("%-22s %16d\n", "Frames abandoned", d.Scheduler.AbandonedFrames)
	fmt.Printf("%-22s %16d\n", "Resync drops", d.Extractor.ResyncDrops)
	fmt.Printf("%-22s %16d\n", "RX packets framed", d.Inserter.Packets)
	fmt.Println(sep)
	fmt.Printf("Release lateness (%d samples)\n", ls.Count)
	fmt.Println(sep)
	fmt.Printf("%-22s %16s\n", "Mean", fmtNs(ls.Mean))
	fmt.Printf("%-22s %16s\n", "StdDev", fmtNs(ls.StdDev))
	fmt.Printf("%-22s %16s\n", "P50", fmtNs(ls.P50))
	fmt.Printf("%-22s %16s\n", "P99", fmtNs(ls.P99))
	fmt.Printf("%-22s %16s\n", "Max", fmtNs(ls.Max))
	fmt.Println(sep)

	if len(keys) > 0 {
		fmt.Printf("Configured thresholds\n")
		fmt.Println(sep)
		fmt.Printf("%-30s %24s\n", "Name", "Value")
		fmt.Println(sep)
		for _, k := range keys {
			fmt.Printf("%-30s %24s\n", k, th[k])
		}
		fmt.Println(sep)
	}
	fmt.Print(reset)
}
