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

import "m2stream"

// Ring is a fixed-capacity FIFO of frames. It never allocates after
// construction. Not safe for concurrent use.
type Ring struct {
	buf  []m2stream.Frame
	head int
	tail int
	n    int
}

// NewRing allocates a ring holding capacity frames.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]m2stream.Frame, capacity)}
}

func (r *Ring) Len() int { return r.n }
func (r *Ring) Cap() int { return len(r.buf) }
func (r *Ring) Full() bool { return r.n == len(r.buf) }
func (r *Ring) Empty() bool { return r.n == 0 }

// Push appends f, reporting false if the ring is full.
func (r *Ring) Push(f m2stream.Frame) bool {
	if r.Full() {
		return false
	}
	r.buf[r.tail] = f
	r.tail++
	if r.tail == len(r.buf) {
		r.tail = 0
	}
	r.n++
	return true
}

// Peek returns the oldest frame without removing it.
func (r *Ring) Peek() (m2stream.Frame, bool) {
	if r.n == 0 {
		return m2stream.Frame{}, false
	}
	return r.buf[r.head], true
}

// Pop removes and returns the oldest frame.
func (r *Ring) Pop() (m2stream.Frame, bool) {
	f, ok := r.Peek()
	if !ok {
		return f, false
	}
	r.head++
	if r.head == len(r.buf) {
		r.head = 0
	}
	r.n--
	return f, true
}

// Reset discards every frame and returns how many were held.
func (r *Ring) Reset() int {
	n := r.n
	r.head, r.tail, r.n = 0, 0, 0
	return n
}
