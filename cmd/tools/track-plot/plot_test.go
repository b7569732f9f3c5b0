package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pickplace/internal/db"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/tracking"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestRenderTrack_FromJournal(t *testing.T) {
	dir := t.TempDir()
	store, err := db.NewDB(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		at := start.Add(time.Duration(i) * 100 * time.Millisecond)
		require.NoError(t, store.RecordTrackedPose(ctx, tracking.Sample{
			Pose:        geom.PoseAt(0.3+0.01*float64(i), 0.05*float64(i%3), 0.05),
			SourceFrame: "camera_depth_optical_frame",
			Stamp:       at,
			ReceivedAt:  at,
		}))
	}
	samples, err := store.ListTrackedPoses(ctx, time.Time{}, 100)
	require.NoError(t, err)
	require.Len(t, samples, 20)

	files, err := renderTrack(samples, dir, "cell1")
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "cell1_xy.png"), filepath.Join(dir, "cell1_time.png")}, files)
	for _, f := range files {
		data, err := os.ReadFile(f)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, pngMagic), "%s is not a PNG", f)
	}
}

func TestRenderTrack_SingleSample(t *testing.T) {
	dir := t.TempDir()
	files, err := renderTrack([]tracking.Sample{{Pose: geom.PoseAt(0.4, 0, 0.05), ReceivedAt: time.Now()}}, dir, "one")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestRenderTrack_Empty(t *testing.T) {
	_, err := renderTrack(nil, t.TempDir(), "none")
	assert.Error(t, err)
}
