package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pickplace/internal/config"
	"github.com/banshee-data/pickplace/internal/frames"
	"github.com/banshee-data/pickplace/internal/geom"
	"github.com/banshee-data/pickplace/internal/monitoring"
	"github.com/banshee-data/pickplace/internal/pickplace"
	"github.com/banshee-data/pickplace/internal/posefeed"
	"github.com/banshee-data/pickplace/internal/scene"
	"github.com/banshee-data/pickplace/internal/sim"
)

func TestFlagDefaults(t *testing.T) {
	assert.Equal(t, ":8080", *listen)
	assert.Equal(t, feedSim, *feed)
	assert.Equal(t, inputPrompt, *input)
	assert.Equal(t, "pickplace.db", *dbFile)
	assert.Equal(t, 100*time.Millisecond, *simInterval)
}

func TestNewGate(t *testing.T) {
	g, manual, err := newGate(inputHTTP, nil, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, manual)
	assert.Same(t, manual, g)

	g, manual, err = newGate(inputAuto, nil, nil, time.Second)
	require.NoError(t, err)
	assert.Nil(t, manual)
	assert.Equal(t, pickplace.AutoGate{Delay: time.Second}, g)

	var out bytes.Buffer
	g, manual, err = newGate(inputPrompt, strings.NewReader("\n"), &out, 0)
	require.NoError(t, err)
	assert.Nil(t, manual)
	require.NoError(t, g.Wait(context.Background()))
	assert.Contains(t, out.String(), "Press enter to pick the object")

	_, _, err = newGate("telepathy", nil, nil, 0)
	assert.ErrorContains(t, err, "unknown input mode")
}

// The board reports in the camera frame; the cell's frame tree must bring
// those reports back onto the table in the base frame.
func TestSimCell_ReportsLandInWorkspace(t *testing.T) {
	cfg := &config.PickPlaceConfig{}
	cell, err := newSimCell(cfg, simOptions{Seed: 7})
	require.NoError(t, err)

	line, ok := cell.Board.Report()
	require.True(t, ok, "object should be visible after startup")

	obs, err := posefeed.Decoder{}.Decode(line)
	require.NoError(t, err)
	assert.Equal(t, cfg.GetCameraFrame(), obs.Frame)

	base, err := frames.NewTransformer(cell.Tree).Transform(context.Background(), obs.Pose, obs.Frame, cfg.GetBaseFrame(), time.Second)
	require.NoError(t, err)
	ws := sim.DefaultWorkspace
	p := base.Position
	assert.True(t, p.X >= ws.MinX-1e-9 && p.X <= ws.MaxX+1e-9, "x=%v", p.X)
	assert.True(t, p.Y >= ws.MinY-1e-9 && p.Y <= ws.MaxY+1e-9, "y=%v", p.Y)
	assert.InDelta(t, ws.TableZ, p.Z, 1e-9)
}

func TestSimCell_RespawnsOnRemove(t *testing.T) {
	cfg := &config.PickPlaceConfig{}
	cell, err := newSimCell(cfg, simOptions{Seed: 3})
	require.NoError(t, err)
	ctx := context.Background()
	name := cfg.PickPlace().ObjectName

	before, ok := cell.Board.Report()
	require.True(t, ok)

	require.NoError(t, cell.Scene.AddBox(ctx, name, cfg.GetBaseFrame(), geom.PoseAt(0.4, 0, 0.05), scene.Box{X: 0.1, Y: 0.1, Z: 0.1}))
	_, err = cell.Scene.KnownNames(ctx)
	require.NoError(t, err)
	require.NoError(t, cell.Scene.Remove(ctx, name))
	known, err := cell.Scene.KnownNames(ctx)
	require.NoError(t, err)
	assert.Empty(t, known)

	after, ok := cell.Board.Report()
	require.True(t, ok)
	obsBefore, err := posefeed.Decoder{}.Decode(before)
	require.NoError(t, err)
	obsAfter, err := posefeed.Decoder{}.Decode(after)
	require.NoError(t, err)
	assert.NotEqual(t, obsBefore.Pose.Position, obsAfter.Pose.Position)
}

func TestConfigureLogging_TraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.log")
	closeLogs, err := configureLogging(false, path)
	require.NoError(t, err)
	monitoring.Tracef("observation %d", 42)
	closeLogs()
	t.Cleanup(func() { monitoring.SetLogWriters(os.Stderr, nil, nil) })

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "observation 42")
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.ErrorIs(t, ignoreCanceled(errStopped), errStopped)
}
