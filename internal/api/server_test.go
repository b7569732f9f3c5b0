package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pickplace/internal/db"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/testutil"
	"github.com/banshee-data/pickplace/internal/tracking"
)

type fakeSession struct{ s pickplace.Session }

func (f fakeSession) Snapshot() pickplace.Session { return f.s }

type fakeTrack struct {
	obj     tracking.TrackedObject
	history []tracking.Sample
}

func (f fakeTrack) Snapshot() tracking.TrackedObject { return f.obj }
func (f fakeTrack) History() []tracking.Sample       { return f.history }

type fakeScene []scene.CollisionObject

func (f fakeScene) Objects() []scene.CollisionObject { return f }

type failingJournal struct{}

func (failingJournal) ListTransitions(context.Context, db.TransitionFilter) ([]pickplace.Transition, error) {
	return nil, errors.New("disk on fire")
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestStatus(t *testing.T) {
	target := geom.PoseAt(0.4, 0.1, 0.1)
	srv := NewServer(Options{
		Session: fakeSession{pickplace.Session{ID: "abc", Cycle: 3, State: pickplace.AwaitingInput, LastTarget: &target}},
		Track: fakeTrack{obj: tracking.TrackedObject{
			Pose: geom.PoseAt(0.4, 0.1, 0.02), Orientation: 0.5, Fresh: true,
			UpdatedAt: time.Now().Add(-time.Second), Accepted: 7, Dropped: 1,
		}},
		Gate: pickplace.NewManualGate(),
	})

	rec := do(srv.ServeMux(), http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	session := body["session"].(map[string]any)
	assert.Equal(t, "abc", session["id"])
	assert.Equal(t, "awaiting_input", session["state"])
	assert.EqualValues(t, 3, session["cycle"])
	assert.Contains(t, session, "last_target")

	tracked := body["tracked"].(map[string]any)
	assert.Equal(t, true, tracked["fresh"])
	assert.EqualValues(t, 7, tracked["accepted"])
	assert.GreaterOrEqual(t, tracked["age_ms"].(float64), 1000.0)
	pos := tracked["pose"].(map[string]any)["position"].(map[string]any)
	assert.InDelta(t, 0.4, pos["x"].(float64), 1e-9)
	assert.Equal(t, false, body["waiting_for_input"])
}

func TestStatus_NoFreshPose(t *testing.T) {
	srv := NewServer(Options{Track: fakeTrack{}})
	body := decode(t, do(srv.ServeMux(), http.MethodGet, "/api/status"))
	tracked := body["tracked"].(map[string]any)
	assert.Equal(t, false, tracked["fresh"])
	assert.NotContains(t, tracked, "pose")
	assert.NotContains(t, tracked, "age_ms")
}

func TestMethodNotAllowed(t *testing.T) {
	mux := NewServer(Options{}).ServeMux()
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/api/status"},
		{http.MethodPost, "/api/scene"},
		{http.MethodDelete, "/api/transitions"},
		{http.MethodGet, "/api/continue"},
		{http.MethodPost, "/api/charts/tracked"},
		{http.MethodPut, "/api/config"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := do(mux, tc.method, tc.path)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, "Method not allowed", decode(t, rec)["error"])
		})
	}
}

func TestScene(t *testing.T) {
	srv := NewServer(Options{Scene: fakeScene{
		{Name: "box", Shape: scene.Box{X: 0.1, Y: 0.1, Z: 0.1}, Pose: geom.PoseAt(0.4, 0, 0.05), Frame: "base_link", State: scene.Attached, Link: "ee_link"},
	}})
	body := decode(t, do(srv.ServeMux(), http.MethodGet, "/api/scene"))
	objects := body["objects"].([]any)
	require.Len(t, objects, 1)
	obj := objects[0].(map[string]any)
	assert.Equal(t, "box", obj["name"])
	assert.Equal(t, "attached", obj["state"])
	assert.Equal(t, "ee_link", obj["link"])
	assert.Equal(t, []any{0.1, 0.1, 0.1}, obj["size"])
}

func TestScene_Empty(t *testing.T) {
	rec := do(NewServer(Options{}).ServeMux(), http.MethodGet, "/api/scene")
	assert.JSONEq(t, `{"objects":[]}`, rec.Body.String())
}

func TestTransitions(t *testing.T) {
	store, err := db.NewDB(t.TempDir() + "/journal.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	target := geom.PoseAt(0.4, 0.1, 0.1)
	require.NoError(t, store.RecordTransition(ctx, pickplace.Transition{SessionID: "s1", Cycle: 1, From: pickplace.Idle, To: pickplace.Observing, Event: "observe", At: at}))
	require.NoError(t, store.RecordTransition(ctx, pickplace.Transition{SessionID: "s1", Cycle: 1, From: pickplace.AwaitingInput, To: pickplace.Approaching, Event: "approached", Target: &target, Fraction: 1, At: at.Add(time.Second)}))
	require.NoError(t, store.RecordTransition(ctx, pickplace.Transition{SessionID: "s2", Cycle: 1, From: pickplace.Idle, To: pickplace.Observing, Event: "observe", At: at.Add(2 * time.Second)}))

	mux := NewServer(Options{Journal: store}).ServeMux()

	body := decode(t, do(mux, http.MethodGet, "/api/transitions?session=s1"))
	ts := body["transitions"].([]any)
	require.Len(t, ts, 2)
	newest := ts[0].(map[string]any)
	assert.Equal(t, "approached", newest["event"])
	assert.Equal(t, "awaiting_input", newest["from"])
	assert.Equal(t, "approaching", newest["to"])
	assert.Contains(t, newest, "target")

	body = decode(t, do(mux, http.MethodGet, "/api/transitions?limit=1"))
	require.Len(t, body["transitions"].([]any), 1)
	assert.Equal(t, "s2", body["transitions"].([]any)[0].(map[string]any)["session_id"])

	for _, bad := range []string{"0", "-1", "abc", "10001"} {
		rec := do(mux, http.MethodGet, "/api/transitions?limit="+bad)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestTransitions_Unavailable(t *testing.T) {
	rec := do(NewServer(Options{}).ServeMux(), http.MethodGet, "/api/transitions")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(NewServer(Options{Journal: failingJournal{}}).ServeMux(), http.MethodGet, "/api/transitions")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "disk on fire")
}

func TestContinue(t *testing.T) {
	gate := pickplace.NewManualGate()
	mux := NewServer(Options{Gate: gate}).ServeMux()

	ctx := testutil.Context(t, 5*time.Second)
	done := make(chan error, 1)
	go func() { done <- gate.Wait(ctx) }()
	require.Eventually(t, gate.Waiting, time.Second, time.Millisecond)

	rec := do(mux, http.MethodPost, "/api/continue")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"released":true,"waiting":true}`, rec.Body.String())
	require.NoError(t, <-done)

	// A second release while nobody waits stays pending; a third coalesces.
	assert.JSONEq(t, `{"released":true,"waiting":false}`, do(mux, http.MethodPost, "/api/continue").Body.String())
	assert.JSONEq(t, `{"released":false,"waiting":false}`, do(mux, http.MethodPost, "/api/continue").Body.String())
}

func TestContinue_NoGate(t *testing.T) {
	rec := do(NewServer(Options{}).ServeMux(), http.MethodPost, "/api/continue")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTrackedChart(t *testing.T) {
	history := make([]tracking.Sample, 50)
	for i := range history {
		history[i] = tracking.Sample{Pose: geom.PoseAt(0.3+0.002*float64(i), 0.1, 0.02), SourceFrame: "camera_link"}
	}
	mux := NewServer(Options{Track: fakeTrack{history: history}}).ServeMux()

	rec := do(mux, http.MethodGet, "/api/charts/tracked?max_points=10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "Tracked Object Positions")
	assert.Contains(t, body, "points=10 stride=5")
}

func TestTrackedChart_Empty(t *testing.T) {
	rec := do(NewServer(Options{Track: fakeTrack{}}).ServeMux(), http.MethodGet, "/api/charts/tracked")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(NewServer(Options{}).ServeMux(), http.MethodGet, "/api/charts/tracked")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfig(t *testing.T) {
	mux := NewServer(Options{Config: map[string]string{"approach_mode": "pose"}}).ServeMux()
	assert.JSONEq(t, `{"approach_mode":"pose"}`, do(mux, http.MethodGet, "/api/config").Body.String())

	assert.JSONEq(t, `{}`, do(NewServer(Options{}).ServeMux(), http.MethodGet, "/api/config").Body.String())
}

func TestLoggingMiddleware(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := do(h, http.MethodGet, "/x")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestStatusCodeColor(t *testing.T) {
	assert.True(t, strings.HasPrefix(statusCodeColor(200), colorBoldGreen))
	assert.True(t, strings.HasPrefix(statusCodeColor(302), colorYellow))
	assert.True(t, strings.HasPrefix(statusCodeColor(404), colorBoldRed))
	assert.Equal(t, "100", statusCodeColor(100))
}
