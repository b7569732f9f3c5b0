package pickplace

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pickplace/internal/timeutil"
)

func TestAutoGate_WaitsOnClock(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	g := AutoGate{Delay: time.Second, Clock: clock}
	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilWaiters(ctx, 1))
	select {
	case <-done:
		t.Fatal("gate opened before the delay")
	default:
	}
	clock.Advance(time.Second)
	assert.NoError(t, <-done)
}

func TestManualGate(t *testing.T) {
	g := NewManualGate()
	assert.True(t, g.Release())
	assert.False(t, g.Release(), "second release coalesces")
	assert.NoError(t, g.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Wait(ctx) }()
	require.Eventually(t, g.Waiting, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, g.Waiting())
}

func TestPromptGate(t *testing.T) {
	var out bytes.Buffer
	g := NewPromptGate(strings.NewReader("\ny\n"), &out, "Press `Enter` to pick")
	ctx := context.Background()

	require.NoError(t, g.Wait(ctx))
	require.NoError(t, g.Wait(ctx))
	assert.ErrorIs(t, g.Wait(ctx), ErrInputClosed)
	assert.ErrorIs(t, g.Wait(ctx), ErrInputClosed)
	assert.Equal(t, 4, strings.Count(out.String(), "Press `Enter` to pick"))
}

func TestStateNames(t *testing.T) {
	for s := Idle; s <= Releasing; s++ {
		got, err := ParseState(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "state(42)", State(42).String())
	_, err := ParseState("dancing")
	assert.Error(t, err)

	text, err := Transporting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "transporting", string(text))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no observe joints", func(c *Config) { c.ObserveJoints = nil }},
		{"joint count mismatch", func(c *Config) { c.ZeroJoints = c.ZeroJoints[:3] }},
		{"no object", func(c *Config) { c.ObjectName = "" }},
		{"flat box", func(c *Config) { c.ObjectBox.Z = 0 }},
		{"no eef", func(c *Config) { c.EEFLink = "" }},
		{"few segments", func(c *Config) { c.ApproachMode = ApproachInterpolated; c.Segments = 1 }},
		{"negative dwell", func(c *Config) { c.PickOnlyDwell = -time.Second }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
