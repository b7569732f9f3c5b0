package serialmux

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/pickplace/internal/monitoring"
)

var (
	boardStateMu sync.RWMutex
	// boardState holds the latest key/value pairs reported by the board.
	boardState = make(map[string]any)
)

// StatusEntry is one reported board setting.
type StatusEntry struct {
	Key   string
	Value any
}

// BoardStatus returns the latest reported board settings sorted by key.
func BoardStatus() []StatusEntry {
	boardStateMu.RLock()
	defer boardStateMu.RUnlock()
	out := make([]StatusEntry, 0, len(boardState))
	for k, v := range boardState {
		out = append(out, StatusEntry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// HandleStatus merges a status line into the board state.
func HandleStatus(payload string) error {
	var values map[string]any
	if err := json.Unmarshal([]byte(payload), &values); err != nil {
		return fmt.Errorf("failed to unmarshal status: %w", err)
	}
	boardStateMu.Lock()
	for k, v := range values {
		boardState[k] = v
	}
	boardStateMu.Unlock()
	monitoring.Diagf("serialmux: board status %s", payload)
	return nil
}

// HandleEvent routes one board line: pose reports go to onPose, status
// replies update the board state and anything else is logged.
func HandleEvent(onPose func(string) error, payload string) error {
	switch ClassifyPayload(payload) {
	case EventTypePose:
		if err := onPose(payload); err != nil {
			return fmt.Errorf("failed to handle pose report: %w", err)
		}
	case EventTypeStatus:
		if err := HandleStatus(payload); err != nil {
			return fmt.Errorf("failed to handle status line: %w", err)
		}
	default:
		monitoring.Tracef("serialmux: unknown line: %s", payload)
	}
	return nil
}
