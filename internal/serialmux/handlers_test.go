package serialmux

import (
	"errors"
	"testing"
)

func TestClassifyPayload(t *testing.T) {
	tests := []struct {
		payload string
		want    string
	}{
		{poseLine, EventTypePose},
		{`{"status":"ok","command":"STREAM ON"}`, EventTypeStatus},
		{"  " + poseLine, EventTypePose},
		{"boot v2.1.0", EventTypeUnknown},
		{"", EventTypeUnknown},
	}
	for _, tc := range tests {
		if got := ClassifyPayload(tc.payload); got != tc.want {
			t.Errorf("ClassifyPayload(%q) = %q, want %q", tc.payload, got, tc.want)
		}
	}
}

func TestHandleEvent(t *testing.T) {
	var poses []string
	onPose := func(p string) error { poses = append(poses, p); return nil }

	if err := HandleEvent(onPose, poseLine); err != nil {
		t.Fatalf("pose line: %v", err)
	}
	if err := HandleEvent(onPose, `{"rate_hz":15}`); err != nil {
		t.Fatalf("status line: %v", err)
	}
	if err := HandleEvent(onPose, "garbage"); err != nil {
		t.Fatalf("unknown line: %v", err)
	}
	if len(poses) != 1 {
		t.Errorf("pose handler called %d times, want 1", len(poses))
	}

	found := false
	for _, kv := range BoardStatus() {
		if kv.Key == "rate_hz" && kv.Value == float64(15) {
			found = true
		}
	}
	if !found {
		t.Error("status not merged into board state")
	}

	boom := errors.New("decode failed")
	if err := HandleEvent(func(string) error { return boom }, poseLine); !errors.Is(err, boom) {
		t.Errorf("expected wrapped handler error, got %v", err)
	}
	if err := HandleStatus("{not json"); err == nil {
		t.Error("expected error for malformed status")
	}
}

func TestPortOptions(t *testing.T) {
	opts, err := PortOptions{}.Normalize()
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if opts.BaudRate != DefaultBaudRate || opts.DataBits != 8 || opts.StopBits != 1 || opts.Parity != "N" {
		t.Errorf("unexpected defaults %+v", opts)
	}

	for _, bad := range []PortOptions{{DataBits: 9}, {StopBits: 3}, {Parity: "mark"}} {
		if _, err := bad.Normalize(); err == nil {
			t.Errorf("expected error for %+v", bad)
		}
	}

	mode, err := PortOptions{BaudRate: 9600, StopBits: 2, Parity: "even"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode: %v", err)
	}
	if mode.BaudRate != 9600 {
		t.Errorf("baud = %d", mode.BaudRate)
	}
}

func TestDisabledSerialMux(t *testing.T) {
	d := NewDisabledSerialMux()
	id, ch := d.Subscribe()
	d.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	_, ch = d.Subscribe()
	if err := d.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Close")
	}
	if err := d.Close(); err != nil {
		t.Error("second Close should be a no-op")
	}
	if err := d.SendCommand("anything"); err != nil {
		t.Error(err)
	}
}
