package db

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/testutil"
	"github.com/banshee-data/pickplace/internal/tracking"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPragmasApplied(t *testing.T) {
	db := newTestDB(t)

	var journalMode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestMigrations_UpDownAndVersion(t *testing.T) {
	db := newTestDB(t)
	migFS, err := getMigrationsFS()
	require.NoError(t, err)

	latest, err := LatestMigrationVersion(migFS)
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion(migFS)
	require.NoError(t, err)
	assert.Equal(t, latest, version)
	assert.False(t, dirty)

	require.NoError(t, db.MigrateDown(migFS))
	version, _, err = db.MigrateVersion(migFS)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	err = db.QueryRow("SELECT COUNT(*) FROM tracked_poses").Scan(&n)
	assert.Error(t, err, "tracked_poses should be gone after rolling back")

	require.NoError(t, db.MigrateUp(migFS))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM tracked_poses").Scan(&n))
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")
	var out bytes.Buffer

	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	require.NoError(t, RunMigrateCommand([]string{"version", "1"}, path, &out))
	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	assert.Error(t, RunMigrateCommand([]string{"sideways"}, path, &out))
	assert.Error(t, RunMigrateCommand([]string{"force"}, path, &out))
	assert.Error(t, RunMigrateCommand(nil, path, &out))
}

func TestTransitions_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 250_000_000, time.UTC)
	target := geom.PoseFromRPY(0.4, 0.1, 0.1, 0, 1.57, 1.0)

	require.NoError(t, db.RecordTransition(ctx, pickplace.Transition{
		SessionID: "s1", Cycle: 1, From: pickplace.Observing, To: pickplace.AwaitingInput, Event: "cycle", At: at,
	}))
	require.NoError(t, db.RecordTransition(ctx, pickplace.Transition{
		SessionID: "s1", Cycle: 1, From: pickplace.AwaitingInput, To: pickplace.Approaching, Event: "approached",
		Target: &target, Fraction: 0.75, Err: "approach move: boom", At: at.Add(time.Second),
	}))
	require.NoError(t, db.RecordTransition(ctx, pickplace.Transition{
		SessionID: "s2", Cycle: 1, From: pickplace.Idle, To: pickplace.Observing, Event: "observe", At: at,
	}))

	all, err := db.ListTransitions(ctx, TransitionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s2", all[0].SessionID, "newest first")

	s1, err := db.ListTransitions(ctx, TransitionFilter{SessionID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, s1, 1)
	got := s1[0]
	assert.Equal(t, pickplace.AwaitingInput, got.From)
	assert.Equal(t, pickplace.Approaching, got.To)
	assert.Equal(t, 0.75, got.Fraction)
	assert.Equal(t, "approach move: boom", got.Err)
	assert.True(t, got.At.Equal(at.Add(time.Second)), "at %v", got.At)
	require.NotNil(t, got.Target)
	assert.True(t, geom.PoseClose(target, *got.Target, 1e-12))

	s1, err = db.ListTransitions(ctx, TransitionFilter{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Nil(t, s1[1].Target)
}

func TestTrackedPoses_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordTrackedPose(ctx, tracking.Sample{
			Pose:        geom.PoseAt(0.3+float64(i)*0.01, 0.1, 0.02),
			Orientation: 0.5,
			SourceFrame: "camera_depth_optical_frame",
			ReceivedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := db.ListTrackedPoses(ctx, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.InDelta(t, 0.30, all[0].Pose.Position.X, 1e-12, "oldest first")
	assert.True(t, all[0].Stamp.IsZero())
	assert.Equal(t, "camera_depth_optical_frame", all[0].SourceFrame)

	recent, err := db.ListTrackedPoses(ctx, base.Add(2*time.Second), 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.InDelta(t, 0.33, recent[0].Pose.Position.X, 1e-12)
	assert.InDelta(t, 0.34, recent[1].Pose.Position.X, 1e-12)
	assert.True(t, recent[1].ReceivedAt.Equal(base.Add(4*time.Second)))
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, testutil.LocalRequest(http.MethodGet, "/debug/", ""))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "tailsql")
	assert.Contains(t, rec.Body.String(), "backup")
}
