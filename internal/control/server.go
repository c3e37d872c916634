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

// Package control implements the HTTP control plane: time base registers,
// codec and scheduler knobs, and live status.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"m2stream/internal/framing"
	"m2stream/internal/pipeline"
	"m2stream/pkg/timebase"
)

// StatusSource supplies diagnostics. *pipeline.Pipeline implements it.
type StatusSource interface {
	Diagnostics() pipeline.Diagnostics
}

// SchedulerControl is the subset of the scheduler the control plane drives.
type SchedulerControl interface {
	SetEnable(on bool)
	Enabled() bool
	Reconfigure(frameCycles uint32)
}

// Options wires a Server. Nil members disable their routes.
type Options struct {
	Time      *timebase.Port
	Status    StatusSource
	Scheduler SchedulerControl
	TX        *framing.Control
	RX        *framing.Control
	// Metrics, if set, is served at /metrics.
	Metrics http.Handler
	// StatusInterval is the websocket push period. Default 1s.
	StatusInterval time.Duration
	// RequestTimeout bounds time base crossing calls. Default 1s.
	RequestTimeout time.Duration
}

// Server handles the control plane HTTP requests.
type Server struct {
	opts       Options
	upgrader   websocket.Upgrader
	mu         sync.Mutex
	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = time.Second
	}
	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes sets up the HTTP routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	if s.opts.Time != nil {
		mux.HandleFunc("GET /time", s.handleTimeRead)
		mux.HandleFunc("POST /time/write", s.handleTimeWrite)
		mux.HandleFunc("POST /time/adjust", s.handleTimeAdjust)
		mux.HandleFunc("POST /time/enable", s.handleTimeEnable)
		mux.HandleFunc("POST /time/rate", s.handleTimeRate)
	}
	if s.opts.Scheduler != nil {
		mux.HandleFunc("POST /scheduler/enable", s.handleSchedulerEnable)
	}
	if s.opts.TX != nil {
		mux.HandleFunc("POST /tx/config", s.handleTXConfig)
	}
	if s.opts.RX != nil {
		mux.HandleFunc("POST /rx/config", s.handleRXConfig)
	}
	if s.opts.Status != nil {
		mux.HandleFunc("GET /status", s.handleStatus)
		mux.HandleFunc("GET /ws/status", s.handleStatusStream)
	}
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
}

// Handler returns a mux with every route registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// TimeReading is the body of GET /time.
type TimeReading struct {
	Value   uint64 `json:"value"`
	Ticks   uint64 `json:"ticks"`
	Enabled bool   `json:"enabled"`
	Adjust  int64  `json:"adjust"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// crossingError maps a time base crossing failure to a response.
func crossingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, timebase.ErrStale), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, "time base not responding", http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleTimeRead(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	snap, err := s.opts.Time.Read(ctx)
	if err != nil {
		crossingError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TimeReading{
		Value:   snap.Value,
		Ticks:   snap.Ticks,
		Enabled: s.opts.Time.Enabled(),
		Adjust:  s.opts.Time.Adjust(),
	})
}

func (s *Server) handleTimeWrite(w http.ResponseWriter, r *http.Request) {
	v, err := strconv.ParseUint(r.URL.Query().Get("value"), 0, 64)
	if err != nil {
		http.Error(w, "value must be an unsigned integer", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RequestTimeout)
	defer cancel()
	if err := s.opts.Time.Write(ctx, v); err != nil {
		crossingError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeAdjust(w http.ResponseWriter, r *http.Request) {
	d, err := strconv.ParseInt(r.URL.Query().Get("delta"), 0, 64)
	if err != nil {
		http.Error(w, "delta must be a signed integer", http.StatusBadRequest)
		return
	}
	s.opts.Time.SetAdjust(d)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeEnable(w http.ResponseWriter, r *http.Request) {
	on, ok := boolParam(w, r, "on")
	if !ok {
		return
	}
	s.opts.Time.SetEnable(on)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTimeRate(w http.ResponseWriter, r *http.Request) {
	hz, err := strconv.ParseUint(r.URL.Query().Get("hz"), 0, 64)
	if err != nil || hz == 0 || hz > 1_000_000_000 {
		http.Error(w, "hz must be in 1..1e9", http.StatusBadRequest)
		return
	}
	s.opts.Time.SetClockHz(hz)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSchedulerEnable(w http.ResponseWriter, r *http.Request) {
	on, ok := boolParam(w, r, "on")
	if !ok {
		return
	}
	s.opts.Scheduler.SetEnable(on)
	w.WriteHeader(http.StatusNoContent)
}

// handleTXConfig sets the TX codec registers. A frame_cycles change is also
// applied to the scheduler, which aborts whatever it has queued.
func (s *Server) handleTXConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var fc *uint32
	if q.Has("frame_cycles") {
		n, err := strconv.ParseUint(q.Get("frame_cycles"), 0, 32)
		if err != nil {
			http.Error(w, "frame_cycles must be an unsigned 32-bit integer", http.StatusBadRequest)
			return
		}
		v := uint32(n)
		fc = &v
	}
	enable, ok := optionalBool(w, q.Get("enable"), q.Has("enable"), "enable")
	if !ok {
		return
	}
	reset, ok := optionalBool(w, q.Get("reset"), q.Has("reset"), "reset")
	if !ok {
		return
	}
	if fc != nil {
		s.opts.TX.SetFrameCycles(*fc)
		if s.opts.Scheduler != nil {
			s.opts.Scheduler.Reconfigure(*fc)
		}
	}
	if enable != nil {
		s.opts.TX.SetEnable(*enable)
	}
	if reset != nil && *reset {
		s.opts.TX.PulseReset()
	}
	writeJSON(w, http.StatusOK, codecConfig(s.opts.TX))
}

func (s *Server) handleRXConfig(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		fc     *uint32
		header *uint64
	)
	if q.Has("frame_cycles") {
		n, err := strconv.ParseUint(q.Get("frame_cycles"), 0, 32)
		if err != nil {
			http.Error(w, "frame_cycles must be an unsigned 32-bit integer", http.StatusBadRequest)
			return
		}
		v := uint32(n)
		fc = &v
	}
	if q.Has("header") {
		h, err := strconv.ParseUint(q.Get("header"), 0, 64)
		if err != nil {
			http.Error(w, "header must be an unsigned 64-bit integer", http.StatusBadRequest)
			return
		}
		header = &h
	}
	headerEnable, ok := optionalBool(w, q.Get("header_enable"), q.Has("header_enable"), "header_enable")
	if !ok {
		return
	}
	enable, ok := optionalBool(w, q.Get("enable"), q.Has("enable"), "enable")
	if !ok {
		return
	}
	reset, ok := optionalBool(w, q.Get("reset"), q.Has("reset"), "reset")
	if !ok {
		return
	}
	if fc != nil {
		s.opts.RX.SetFrameCycles(*fc)
	}
	if header != nil {
		s.opts.RX.SetHeader(*header)
	}
	if headerEnable != nil {
		s.opts.RX.SetHeaderEnable(*headerEnable)
	}
	if enable != nil {
		s.opts.RX.SetEnable(*enable)
	}
	if reset != nil && *reset {
		s.opts.RX.PulseReset()
	}
	writeJSON(w, http.StatusOK, codecConfig(s.opts.RX))
}

// CodecConfig is the register readback returned by the config routes.
type CodecConfig struct {
	Enable       bool   `json:"enable"`
	HeaderEnable bool   `json:"header_enable"`
	FrameCycles  uint32 `json:"frame_cycles"`
	Header       string `json:"header"`
}

func codecConfig(c *framing.Control) CodecConfig {
	return CodecConfig{
		Enable:       c.Enabled(),
		HeaderEnable: c.HeaderEnabled(),
		FrameCycles:  c.FrameCycles(),
		Header:       fmt.Sprintf("%#016x", c.Header()),
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Status.Diagnostics())
}

// handleStatusStream pushes a diagnostics snapshot every StatusInterval until
// the client goes away.
func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// reader loop only to notice the close
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(s.opts.Status.Diagnostics()); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func boolParam(w http.ResponseWriter, r *http.Request, name string) (bool, bool) {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	if err != nil {
		http.Error(w, name+" must be a boolean", http.StatusBadRequest)
		return false, false
	}
	return v, true
}

func optionalBool(w http.ResponseWriter, raw string, present bool, name string) (*bool, bool) {
	if !present {
		return nil, true
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		http.Error(w, name+" must be a boolean", http.StatusBadRequest)
		return nil, false
	}
	return &v, true
}

// ListenAndServe starts the control server on addr. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()
	fmt.Printf("Control plane listening on %s\n", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops a server started with ListenAndServe.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
