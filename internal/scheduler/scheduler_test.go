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

package scheduler

import (
	"reflect"
	"testing"

	"m2stream"
)

type fakeClock struct{ now uint64 }

func (c *fakeClock) Now() uint64 { return c.now }

func f(data uint64, first, last bool) m2stream.Frame {
	return m2stream.Frame{Data: data, First: first, Last: last}
}

// packet builds header, timestamp and n payload frames the way the TX
// extractor forwards them: only the header marked First.
func packet(header, ts uint64, base uint64, n int) []m2stream.Frame {
	out := []m2stream.Frame{{Data: header, First: true}, {Data: ts}}
	for i := 0; i < n; i++ {
		out = append(out, m2stream.Frame{Data: base + uint64(i)})
	}
	return out
}

// harness feeds frames into a scheduler and collects its output.
type harness struct {
	s     *Scheduler
	in    []m2stream.Frame
	idx   int
	out   []m2stream.Frame
	ready func() bool
}

func (h *harness) step() {
	b := m2stream.Idle
	if h.idx < len(h.in) {
		b = m2stream.Offer(h.in[h.idx])
	}
	rd := true
	if h.ready != nil {
		rd = h.ready()
	}
	o := h.s.Offer(b)
	ir := h.s.Ready(b, rd)
	h.s.Tick(b, ir, rd)
	if m2stream.Fired(b, ir) {
		h.idx++
	}
	if m2stream.Fired(o, rd) {
		h.out = append(h.out, o.Frame)
	}
}

func (h *harness) steps(n int) {
	for i := 0; i < n; i++ {
		h.step()
	}
}

func TestRing_FIFOAndWrap(t *testing.T) {
	r := NewRing(3)
	for i := 0; i < 3; i++ {
		if !r.Push(m2stream.Frame{Data: uint64(i)}) {
			t.Fatalf("push %d refused", i)
		}
	}
	if !r.Full() || r.Push(m2stream.Frame{Data: 9}) {
		t.Fatalf("expected full ring to refuse push")
	}
	for round := 0; round < 5; round++ {
		got, ok := r.Pop()
		if !ok || got.Data != uint64(round) {
			t.Fatalf("round %d: got %v ok=%v", round, got, ok)
		}
		r.Push(m2stream.Frame{Data: uint64(round + 3)})
	}
	if r.Len() != 3 {
		t.Fatalf("len=%d, want 3", r.Len())
	}
	if n := r.Reset(); n != 3 || !r.Empty() {
		t.Fatalf("reset returned %d, empty=%v", n, r.Empty())
	}
	if _, ok := r.Peek(); ok {
		t.Fatalf("peek on empty ring succeeded")
	}
}

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateDisabled:  "DISABLED",
		StateBuffering: "BUFFERING",
		StateStreaming: "STREAMING",
		State(42):      "UNKNOWN",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("%d: got %q want %q", st, st.String(), want)
		}
	}
}

func TestScheduler_HoldsUntilDue(t *testing.T) {
	clk := &fakeClock{now: 500}
	s := New(clk, Options{FrameCycles: 4})
	h := &harness{s: s, in: packet(0x1122334455667788, 1000, 0x100, 4)}

	h.steps(50)
	if len(h.out) != 0 {
		t.Fatalf("released before due: %v", h.out)
	}
	st := s.Stats()
	if st.LastHeader != 0x1122334455667788 || st.LastTimestamp != 1000 {
		t.Fatalf("preamble not latched: %+v", st)
	}
	if st.HeldTicks == 0 || st.State != StateBuffering {
		t.Fatalf("expected held buffering scheduler: %+v", st)
	}

	clk.now = 1000
	h.steps(10)
	want := []m2stream.Frame{f(0x100, true, false), f(0x101, false, false), f(0x102, false, false), f(0x103, false, true)}
	if !reflect.DeepEqual(h.out, want) {
		t.Fatalf("got %v want %v", h.out, want)
	}
	st = s.Stats()
	if st.Released != 1 || st.Late != 0 || st.Level != 0 {
		t.Fatalf("unexpected stats after release: %+v", st)
	}
}

func TestScheduler_StrictArrivalOrder(t *testing.T) {
	clk := &fakeClock{now: 0}
	s := New(clk, Options{FrameCycles: 2})
	var in []m2stream.Frame
	in = append(in, packet(0xA, 300, 0x10, 2)...)
	in = append(in, packet(0xB, 100, 0x20, 2)...)
	h := &harness{s: s, in: in}

	h.steps(20)
	if len(h.out) != 0 {
		t.Fatalf("nothing is due yet, got %v", h.out)
	}
	clk.now = 150 // second packet due, but it is not at the head
	h.steps(20)
	if len(h.out) != 0 {
		t.Fatalf("later packet jumped the queue: %v", h.out)
	}
	clk.now = 300
	h.steps(20)
	want := []m2stream.Frame{f(0x10, true, false), f(0x11, false, true), f(0x20, true, false), f(0x21, false, true)}
	if !reflect.DeepEqual(h.out, want) {
		t.Fatalf("got %v want %v", h.out, want)
	}
	if st := s.Stats(); st.Late != 1 || st.Released != 2 {
		t.Fatalf("expected second packet counted late: %+v", st)
	}
}

func TestScheduler_LatePacketReleasesImmediately(t *testing.T) {
	clk := &fakeClock{now: 5000}
	s := New(clk, Options{FrameCycles: 1})
	var rel []Release
	s.OnRelease(func(r Release) { rel = append(rel, r) })
	h := &harness{s: s, in: packet(0x1, 4000, 0x50, 1)}

	h.steps(8)
	if !reflect.DeepEqual(h.out, []m2stream.Frame{f(0x50, true, true)}) {
		t.Fatalf("got %v", h.out)
	}
	if len(rel) != 1 || !rel[0].Late || rel[0].ReleasedAt != 5000 || rel[0].Frames != 1 {
		t.Fatalf("unexpected release record %+v", rel)
	}
	lat := s.Lateness()
	if len(lat) != 1 || lat[0] != 1000 {
		t.Fatalf("lateness samples %v", lat)
	}
}

func TestScheduler_WaitsForWholePacket(t *testing.T) {
	clk := &fakeClock{now: 10}
	s := New(clk, Options{FrameCycles: 3})
	in := packet(0x1, 0, 0x30, 3)
	// hold the last payload frame back
	h := &harness{s: s, in: in[:4]}
	h.steps(10)
	if len(h.out) != 0 {
		t.Fatalf("streamed a partially enqueued packet: %v", h.out)
	}
	h.in = in
	h.steps(10)
	if len(h.out) != 3 {
		t.Fatalf("got %v", h.out)
	}
}

func TestScheduler_BackpressureKeepsBoundaries(t *testing.T) {
	clk := &fakeClock{now: 1 << 40}
	s := New(clk, Options{FrameCycles: 3, MaxPackets: 1})
	var in []m2stream.Frame
	for p := 0; p < 6; p++ {
		in = append(in, packet(uint64(p), 0, uint64(p)<<8, 3)...)
	}
	tick := 0
	h := &harness{s: s, in: in, ready: func() bool {
		tick++
		return tick%4 == 0
	}}
	h.steps(400)
	if len(h.out) != 18 {
		t.Fatalf("got %d frames, want 18", len(h.out))
	}
	for i, fr := range h.out {
		p, k := i/3, i%3
		want := f(uint64(p)<<8+uint64(k), k == 0, k == 2)
		if fr != want {
			t.Fatalf("frame %d: got %v want %v", i, fr, want)
		}
	}
	if st := s.Stats(); st.Level != 0 || st.Capacity != 5 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestScheduler_DisableAbortsAndBackpressures(t *testing.T) {
	clk := &fakeClock{now: 0}
	s := New(clk, Options{FrameCycles: 2})
	h := &harness{s: s, in: packet(0x1, 100, 0x10, 2)}
	h.steps(10)
	if s.Stats().QueuedPackets != 1 {
		t.Fatalf("expected queued packet: %+v", s.Stats())
	}

	s.SetEnable(false)
	h.step()
	st := s.Stats()
	if st.State != StateDisabled || st.Level != 0 || st.AbandonedFrames != 4 || st.Aborts != 1 {
		t.Fatalf("unexpected stats after disable: %+v", st)
	}
	if s.Ready(m2stream.Offer(f(1, false, false)), true) {
		t.Fatalf("disabled scheduler accepted input")
	}

	// a fresh packet after re-enable is decoded from position zero
	s.SetEnable(true)
	h.step()
	h.in, h.idx = packet(0x2, 0, 0x20, 2), 0
	h.steps(10)
	want := []m2stream.Frame{f(0x20, true, false), f(0x21, false, true)}
	if !reflect.DeepEqual(h.out, want) {
		t.Fatalf("got %v want %v", h.out, want)
	}
	if s.Stats().LastHeader != 0x2 {
		t.Fatalf("stale header latched")
	}
}

func TestScheduler_StartDisabled(t *testing.T) {
	s := New(&fakeClock{}, Options{FrameCycles: 1, StartDisabled: true})
	if s.State() != StateDisabled {
		t.Fatalf("state=%s", s.State())
	}
	if s.Ready(m2stream.Offer(f(1, false, false)), true) {
		t.Fatalf("accepted input while disabled")
	}
	s.SetEnable(true)
	s.Tick(m2stream.Idle, false, true)
	if s.State() != StateBuffering {
		t.Fatalf("state=%s", s.State())
	}
}

func TestScheduler_Reconfigure(t *testing.T) {
	clk := &fakeClock{now: 0}
	s := New(clk, Options{FrameCycles: 2, MaxPackets: 2})
	h := &harness{s: s, in: packet(0x1, 0, 0x10, 1)}
	h.steps(3)

	s.Reconfigure(1)
	h.step()
	st := s.Stats()
	if st.FrameCycles != 1 || st.Capacity != 6 || st.Aborts != 1 {
		t.Fatalf("reconfigure not applied: %+v", st)
	}
	h.in, h.idx, h.out = packet(0x2, 0, 0x40, 1), 0, nil
	h.steps(8)
	if !reflect.DeepEqual(h.out, []m2stream.Frame{f(0x40, true, true)}) {
		t.Fatalf("got %v", h.out)
	}
}

func TestScheduler_LatenessWindowBounded(t *testing.T) {
	s := New(&fakeClock{}, Options{LatenessWindow: 3})
	for i := 0; i < 5; i++ {
		s.recordLateness(int64(i))
	}
	got := s.Lateness()
	if len(got) != 3 {
		t.Fatalf("len=%d", len(got))
	}
	want := []int64{3, 4, 2}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestScheduler_DuePacketsLeaveBackToBack(t *testing.T) {
	clk := &fakeClock{now: 10}
	s := New(clk, Options{FrameCycles: 2})
	var in []m2stream.Frame
	in = append(in, packet(0xA, 0, 0x10, 2)...)
	in = append(in, packet(0xB, 0, 0x20, 2)...)
	radioReady := false
	h := &harness{s: s, in: in, ready: func() bool { return radioReady }}
	h.steps(len(in))
	if len(h.out) != 0 || s.Stats().QueuedPackets != 2 {
		t.Fatalf("expected two queued packets: out=%v %+v", h.out, s.Stats())
	}

	// both packets are whole and due: the output never idles between them
	radioReady = true
	for i := 0; i < 4; i++ {
		n := len(h.out)
		h.step()
		if len(h.out) != n+1 {
			t.Fatalf("tick %d: nothing left the scheduler (out=%v)", i, h.out)
		}
	}
	want := []m2stream.Frame{f(0x10, true, false), f(0x11, false, true), f(0x20, true, false), f(0x21, false, true)}
	if !reflect.DeepEqual(h.out, want) {
		t.Fatalf("got %v want %v", h.out, want)
	}
}

func TestScheduler_ResyncsOnHeaderAfterAbort(t *testing.T) {
	cases := map[string]func(s *Scheduler){
		"disable": func(s *Scheduler) { s.SetEnable(false) },
		"flush":   func(s *Scheduler) { s.Flush() },
	}
	for name, abort := range cases {
		t.Run(name, func(t *testing.T) {
			clk := &fakeClock{now: 10}
			s := New(clk, Options{FrameCycles: 2})
			var in []m2stream.Frame
			in = append(in, packet(0xA, 0, 0x10, 2)...)
			in = append(in, packet(0xB, 0, 0x20, 2)...)
			h := &harness{s: s, in: in}

			// header and timestamp enter; the abort tick takes the first payload word
			h.steps(2)
			abort(s)
			h.step()
			st := s.Stats()
			if st.Aborts != 1 || st.AbandonedFrames != 3 {
				t.Fatalf("unexpected stats after abort: %+v", st)
			}
			s.SetEnable(true)
			h.steps(20)

			want := []m2stream.Frame{f(0x20, true, false), f(0x21, false, true)}
			if !reflect.DeepEqual(h.out, want) {
				t.Fatalf("got %v want %v", h.out, want)
			}
			st = s.Stats()
			if st.LastHeader != 0xB || st.LastTimestamp != 0 || st.Released != 1 {
				t.Fatalf("boundaries lost: %+v", st)
			}
			// the cut packet's trailing payload word is discarded too
			if st.AbandonedFrames != 4 {
				t.Fatalf("abandoned=%d", st.AbandonedFrames)
			}
		})
	}
}
