// Package api serves the controller's HTTP status and control endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pickplace/internal/db"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/tracking"
	"github.com/banshee-data/pickplace/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// SessionSource reports the cycle session. *pickplace.Orchestrator
// implements it.
type SessionSource interface {
	Snapshot() pickplace.Session
}

// TrackSource reports the tracked object. *tracking.Tracker implements it.
type TrackSource interface {
	Snapshot() tracking.TrackedObject
	History() []tracking.Sample
}

// SceneSource lists the collision-object registry. *scene.Sync implements
// it.
type SceneSource interface {
	Objects() []scene.CollisionObject
}

// TransitionStore reads the journal. *db.DB implements it.
type TransitionStore interface {
	ListTransitions(ctx context.Context, f db.TransitionFilter) ([]pickplace.Transition, error)
}

// Releaser is an operator gate the API can open. *pickplace.ManualGate
// implements it.
type Releaser interface {
	Release() bool
	Waiting() bool
}

// Options wires the server to its sources. Journal, Gate and Config are
// optional.
type Options struct {
	Session SessionSource
	Track   TrackSource
	Scene   SceneSource
	Journal TransitionStore
	Gate    Releaser
	// Config is served as-is from /api/config.
	Config any
}

type Server struct {
	opts    Options
	started time.Time
}

func NewServer(opts Options) *Server {
	return &Server{opts: opts, started: time.Now()}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Diagf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns the API routes on a new mux.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/scene", s.showScene)
	mux.HandleFunc("/api/transitions", s.listTransitions)
	mux.HandleFunc("/api/continue", s.continueCycle)
	mux.HandleFunc("/api/charts/tracked", s.trackedChart)
	mux.HandleFunc("/api/config", s.showConfig)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Opsf("api: encoding response: %v", err)
	}
}

type trackedView struct {
	Fresh       bool       `json:"fresh"`
	Pose        *geom.Pose `json:"pose,omitempty"`
	Orientation float64    `json:"orientation"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
	AgeMs       *float64   `json:"age_ms,omitempty"`
	Accepted    uint64     `json:"accepted"`
	Dropped     uint64     `json:"dropped"`
}

type statusResponse struct {
	Version string            `json:"version"`
	Uptime  float64           `json:"uptime_s"`
	Session pickplace.Session `json:"session"`
	Tracked trackedView       `json:"tracked"`
	Waiting bool              `json:"waiting_for_input"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	resp := statusResponse{
		Version: version.Version,
		Uptime:  time.Since(s.started).Seconds(),
	}
	if s.opts.Session != nil {
		resp.Session = s.opts.Session.Snapshot()
	}
	if s.opts.Track != nil {
		resp.Tracked = viewTracked(s.opts.Track.Snapshot(), time.Now())
	}
	if s.opts.Gate != nil {
		resp.Waiting = s.opts.Gate.Waiting()
	}
	s.writeJSON(w, resp)
}

func viewTracked(obj tracking.TrackedObject, now time.Time) trackedView {
	v := trackedView{Fresh: obj.Fresh, Orientation: obj.Orientation, Accepted: obj.Accepted, Dropped: obj.Dropped}
	if obj.Fresh {
		p := obj.Pose
		v.Pose = &p
		at := obj.UpdatedAt
		v.UpdatedAt = &at
		age := float64(obj.Age(now).Microseconds()) / 1e3
		v.AgeMs = &age
	}
	return v
}

type objectView struct {
	Name  string            `json:"name"`
	State scene.ObjectState `json:"state"`
	Frame string            `json:"frame"`
	Link  string            `json:"link,omitempty"`
	Pose  geom.Pose         `json:"pose"`
	Size  [3]float64        `json:"size"`
}

func (s *Server) showScene(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	objects := []objectView{}
	if s.opts.Scene != nil {
		for _, o := range s.opts.Scene.Objects() {
			objects = append(objects, objectView{
				Name:  o.Name,
				State: o.State,
				Frame: o.Frame,
				Link:  o.Link,
				Pose:  o.Pose,
				Size:  [3]float64{o.Shape.X, o.Shape.Y, o.Shape.Z},
			})
		}
	}
	s.writeJSON(w, map[string]any{"objects": objects})
}

type transitionView struct {
	SessionID string     `json:"session_id"`
	Cycle     int        `json:"cycle"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Event     string     `json:"event"`
	Target    *geom.Pose `json:"target,omitempty"`
	Fraction  float64    `json:"fraction"`
	Error     string     `json:"error,omitempty"`
	At        time.Time  `json:"at"`
}

func (s *Server) listTransitions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.Journal == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "journal is not enabled")
		return
	}

	f := db.TransitionFilter{SessionID: r.URL.Query().Get("session"), Limit: 100}
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 || n > 10000 {
			s.writeJSONError(w, http.StatusBadRequest, "Invalid 'limit' parameter")
			return
		}
		f.Limit = n
	}

	ts, err := s.opts.Journal.ListTransitions(r.Context(), f)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "Failed to read transitions: "+err.Error())
		return
	}
	out := make([]transitionView, 0, len(ts))
	for _, t := range ts {
		v := transitionView{
			SessionID: t.SessionID,
			Cycle:     t.Cycle,
			From:      t.From.String(),
			To:        t.To.String(),
			Event:     t.Event,
			Fraction:  t.Fraction,
			Error:     t.Err,
			At:        t.At,
		}
		if t.Target != nil {
			p := *t.Target
			v.Target = &p
		}
		out = append(out, v)
	}
	s.writeJSON(w, map[string]any{"transitions": out})
}

func (s *Server) continueCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if s.opts.Gate == nil {
		s.writeJSONError(w, http.StatusConflict, "operator input is not taken over HTTP")
		return
	}
	waiting := s.opts.Gate.Waiting()
	released := s.opts.Gate.Release()
	monitoring.Diagf("api: continue requested (waiting=%v, released=%v)", waiting, released)
	s.writeJSON(w, map[string]bool{"released": released, "waiting": waiting})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	cfg := s.opts.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	s.writeJSON(w, cfg)
}
