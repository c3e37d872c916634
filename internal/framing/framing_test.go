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

package framing

import (
	"reflect"
	"testing"

	"m2stream"
)

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now() uint64 { return c.now }

type run struct {
	ticks  int
	ready  func(tick int) bool
	before func(tick int)
	after  func(tick int, out m2stream.Beat, fired bool)
}

func always(int) bool { return true }

// drive feeds in through s one handshake at a time and collects what leaves.
func drive(s m2stream.Stage, in []m2stream.Frame, r run) []m2stream.Frame {
	if r.ready == nil {
		r.ready = always
	}
	var out []m2stream.Frame
	idx := 0
	for tick := 0; tick < r.ticks; tick++ {
		if r.before != nil {
			r.before(tick)
		}
		b := m2stream.Idle
		if idx < len(in) {
			b = m2stream.Offer(in[idx])
		}
		rd := r.ready(tick)
		o := s.Offer(b)
		ir := s.Ready(b, rd)
		s.Tick(b, ir, rd)
		if m2stream.Fired(b, ir) {
			idx++
		}
		fired := m2stream.Fired(o, rd)
		if fired {
			out = append(out, o.Frame)
		}
		if r.after != nil {
			r.after(tick, o, fired)
		}
	}
	return out
}

func payload(n int) []m2stream.Frame {
	out := make([]m2stream.Frame, n)
	for i := range out {
		out[i] = m2stream.Frame{Data: uint64(0x100 + i)}
	}
	return out
}

func f(data uint64, first, last bool) m2stream.Frame {
	return m2stream.Frame{Data: data, First: first, Last: last}
}

func TestState_String(t *testing.T) {
	want := map[State]string{StateReset: "RESET", StateIdle: "IDLE", StateHeader: "HEADER", StateTimestamp: "TIMESTAMP", StateFrame: "FRAME", State(42): "UNKNOWN"}
	for s, w := range want {
		if s.String() != w {
			t.Errorf("State(%d).String() = %q, want %q", s, s.String(), w)
		}
	}
}

func TestInserter_PrependsPreamblePerRun(t *testing.T) {
	ctrl := NewControl(4, true)
	ctrl.SetHeader(0xAA)
	ins := NewInserter(ctrl, &fakeClock{now: 1000})

	in := payload(8)
	in[0].First, in[3].Last = true, true
	got := drive(ins, in, run{ticks: 40})

	want := []m2stream.Frame{
		f(0xAA, true, false), f(1000, false, false),
		f(0x100, false, false), f(0x101, false, false), f(0x102, false, false), f(0x103, false, true),
		f(0xAA, true, false), f(1000, false, false),
		f(0x104, false, false), f(0x105, false, false), f(0x106, false, false), f(0x107, false, true),
	}
	// A third preamble is armed and offered while input is exhausted.
	if len(got) < len(want) {
		t.Fatalf("got %d frames, want at least %d: %v", len(got), len(want), got)
	}
	if !reflect.DeepEqual(got[:len(want)], want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got[:len(want)], want)
	}
	if st := ins.Stats(); st.Packets != 2 || st.LastHeader != 0xAA || st.LastTimestamp != 1000 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestInserter_ZeroFrameCyclesWrapsEveryFrame(t *testing.T) {
	ctrl := NewControl(0, true)
	ctrl.SetHeader(7)
	ins := NewInserter(ctrl, &fakeClock{now: 9})
	got := drive(ins, payload(3), run{ticks: 20})
	want := []m2stream.Frame{
		f(7, true, false), f(9, false, false), f(0x100, false, true),
		f(7, true, false), f(9, false, false), f(0x101, false, true),
		f(7, true, false), f(9, false, false), f(0x102, false, true),
	}
	if len(got) < len(want) || !reflect.DeepEqual(got[:len(want)], want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
}

func TestInserter_HeaderDisabledIsPassthrough(t *testing.T) {
	ctrl := NewControl(4, false)
	ins := NewInserter(ctrl, &fakeClock{})
	in := []m2stream.Frame{f(1, true, false), f(2, false, false), f(3, false, true)}
	got := drive(ins, in, run{ticks: 10})
	if !reflect.DeepEqual(got, in) {
		t.Fatalf("passthrough altered frames: %v", got)
	}
	if ins.Stats().Packets != 0 {
		t.Fatalf("passthrough should not count packets")
	}
}

func TestInserter_DisableMidRunKeepsIssuedPreamble(t *testing.T) {
	ctrl := NewControl(2, true)
	ctrl.SetHeader(0xEE)
	ins := NewInserter(ctrl, &fakeClock{now: 5})
	in := make([]m2stream.Frame, 6)
	for i := range in {
		in[i] = f(uint64(0x100+i), i%2 == 0, i%2 == 1)
	}
	got := drive(ins, in, run{ticks: 20, before: func(tick int) {
		if tick == 4 {
			ctrl.SetHeaderEnable(false)
		}
	}})
	want := append([]m2stream.Frame{
		f(0xEE, true, false), f(5, false, false),
		f(0x100, false, false), f(0x101, false, true),
	}, in[2:]...)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
}

func TestInserter_ResetDropsInFlightFrame(t *testing.T) {
	ctrl := NewControl(2, true)
	ctrl.SetHeader(1)
	ins := NewInserter(ctrl, &fakeClock{now: 2})
	got := drive(ins, payload(3), run{
		ticks: 20,
		ready: func(tick int) bool { return tick >= 4 },
		before: func(tick int) {
			if tick == 3 {
				ctrl.PulseReset()
			}
		},
	})
	if ins.Stats().ResetDrops != 1 {
		t.Fatalf("expected one reset drop, got %d", ins.Stats().ResetDrops)
	}
	want := []m2stream.Frame{f(1, true, false), f(2, false, false), f(0x101, false, false), f(0x102, false, true)}
	if len(got) < len(want) || !reflect.DeepEqual(got[:len(want)], want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
}

func TestInserter_UpdatePulse(t *testing.T) {
	ctrl := NewControl(1, true)
	ctrl.SetHeader(0x55)
	ins := NewInserter(ctrl, &fakeClock{now: 77})
	var seen [][2]uint64
	ins.OnUpdate(func(h, ts uint64) { seen = append(seen, [2]uint64{h, ts}) })
	pulses := 0
	drive(ins, payload(2), run{ticks: 12, after: func(int, m2stream.Beat, bool) {
		if ins.Update() {
			pulses++
		}
	}})
	if pulses < 2 || len(seen) != pulses {
		t.Fatalf("pulses=%d callbacks=%d", pulses, len(seen))
	}
	if seen[0] != [2]uint64{0x55, 77} {
		t.Fatalf("callback got %v", seen[0])
	}
}

func TestExtractor_StripsPreamble(t *testing.T) {
	ctrl := NewControl(4, true)
	ext := NewExtractor(ctrl, ExtractorOptions{})
	in := []m2stream.Frame{
		f(0x1122334455667788, true, false), f(1000, false, false),
		f(0x100, false, false), f(0x101, false, false), f(0x102, false, false), f(0x103, false, true),
	}
	got := drive(ext, in, run{ticks: 20})
	want := []m2stream.Frame{f(0x100, true, false), f(0x101, false, false), f(0x102, false, false), f(0x103, false, true)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
	if ext.Header() != 0x1122334455667788 || ext.Timestamp() != 1000 {
		t.Fatalf("latched %#x/%d", ext.Header(), ext.Timestamp())
	}
	if ext.State() != StateHeader {
		t.Fatalf("expected to wait for the next header, got %s", ext.State())
	}
}

func TestExtractor_ResyncsOnFirstMarker(t *testing.T) {
	ctrl := NewControl(2, true)
	ext := NewExtractor(ctrl, ExtractorOptions{})
	in := []m2stream.Frame{
		f(0xdead, false, false), f(0xbeef, false, true),
		f(0xAB, true, false), f(50, false, false), f(0x100, false, false), f(0x101, false, true),
	}
	got := drive(ext, in, run{ticks: 20})
	want := []m2stream.Frame{f(0x100, true, false), f(0x101, false, true)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
	if st := ext.Stats(); st.ResyncDrops != 2 || st.LastHeader != 0xAB || st.Packets != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestExtractor_UpdateBeforePayload(t *testing.T) {
	ctrl := NewControl(2, true)
	ext := NewExtractor(ctrl, ExtractorOptions{})
	in := []m2stream.Frame{f(1, true, false), f(2, false, false), f(3, false, false), f(4, false, true)}
	updateTick, payloadTick := -1, -1
	drive(ext, in, run{ticks: 12, after: func(tick int, _ m2stream.Beat, fired bool) {
		if ext.Update() && updateTick < 0 {
			updateTick = tick
		}
		if fired && payloadTick < 0 {
			payloadTick = tick
		}
	}})
	if updateTick < 0 || payloadTick < 0 || updateTick >= payloadTick {
		t.Fatalf("update at tick %d, first payload at tick %d", updateTick, payloadTick)
	}
}

func TestExtractor_PassPreamble(t *testing.T) {
	ctrl := NewControl(2, true)
	ext := NewExtractor(ctrl, ExtractorOptions{PassPreamble: true})
	in := []m2stream.Frame{f(9, true, false), f(10, false, false), f(0x100, true, false), f(0x101, false, false)}
	got := drive(ext, in, run{ticks: 12, ready: func(tick int) bool { return tick%2 == 0 }})
	want := []m2stream.Frame{f(9, true, false), f(10, false, false), f(0x100, false, false), f(0x101, false, true)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("output mismatch\n got %v\nwant %v", got, want)
	}
	if ext.Header() != 9 || ext.Timestamp() != 10 {
		t.Fatalf("latched %d/%d", ext.Header(), ext.Timestamp())
	}
}

func TestExtractor_DisabledHoldsInput(t *testing.T) {
	ctrl := NewControl(2, true)
	ctrl.SetEnable(false)
	ext := NewExtractor(ctrl, ExtractorOptions{})
	in := []m2stream.Frame{f(1, true, false)}
	got := drive(ext, in, run{ticks: 5})
	if len(got) != 0 || ext.State() != StateReset {
		t.Fatalf("disabled extractor moved data: %v state=%s", got, ext.State())
	}
}

func TestRoundTrip_InsertThenExtract(t *testing.T) {
	for _, fc := range []uint32{0, 1, 5} {
		ctrl := NewControl(fc, true)
		ctrl.SetHeader(0x1122334455667788)
		ins := NewInserter(ctrl, &fakeClock{now: 123456})
		ext := NewExtractor(ctrl, ExtractorOptions{})
		chain := m2stream.Chain{ins, ext}

		n := int(runLength(fc)) * 3
		in := payload(n)
		got := drive(chain, in, run{ticks: 200, ready: func(tick int) bool { return tick%3 != 0 }})
		if len(got) != n {
			t.Fatalf("fc=%d: got %d frames, want %d", fc, len(got), n)
		}
		rl := int(runLength(fc))
		for i, fr := range got {
			if fr.Data != in[i].Data {
				t.Fatalf("fc=%d frame %d: data %#x want %#x", fc, i, fr.Data, in[i].Data)
			}
			if fr.First != (i%rl == 0) || fr.Last != (i%rl == rl-1) {
				t.Fatalf("fc=%d frame %d: markers %v", fc, i, fr)
			}
		}
		if ext.Header() != 0x1122334455667788 || ext.Timestamp() != 123456 {
			t.Fatalf("fc=%d: extracted %#x/%d", fc, ext.Header(), ext.Timestamp())
		}
		if ext.Stats().Packets != 3 || ext.Stats().ResyncDrops != 0 {
			t.Fatalf("fc=%d: stats %+v", fc, ext.Stats())
		}
	}
}
