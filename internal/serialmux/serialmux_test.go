package serialmux

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/pickplace/internal/testutil"
)

const poseLine = `{"frame":"camera_depth_optical_frame","stamp":1700000000.25,"position":{"x":0.1,"y":0.2,"z":0.6},"orientation":{"x":0,"y":0,"z":0,"w":0.3}}`

func TestSerialMux_SubscribeUnsubscribe(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())

	id1, ch1 := mux.Subscribe()
	id2, _ := mux.Subscribe()
	if id1 == id2 {
		t.Fatal("subscription IDs should be unique")
	}

	mux.Unsubscribe(id1)
	if _, ok := <-ch1; ok {
		t.Error("unsubscribed channel should be closed")
	}
	mux.Unsubscribe(id1) // second call is a no-op

	mux.subscriberMu.Lock()
	n := len(mux.subscribers)
	mux.subscriberMu.Unlock()
	if n != 1 {
		t.Errorf("expected 1 subscriber, got %d", n)
	}
}

func TestSerialMux_SendCommand(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	if err := mux.SendCommand("STREAM ON"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if err := mux.SendCommand("FORMAT JSON\n"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if got, want := port.GetWrittenData(), "STREAM ON\nFORMAT JSON\n"; got != want {
		t.Errorf("written = %q, want %q", got, want)
	}

	port.ShortWrite = true
	if err := mux.SendCommand("X"); !errors.Is(err, ErrWriteFailed) {
		t.Errorf("expected ErrWriteFailed, got %v", err)
	}
	port.ShortWrite = false

	writeErr := errors.New("device gone")
	port.WriteError = writeErr
	if err := mux.SendCommand("X"); !errors.Is(err, writeErr) {
		t.Errorf("expected write error, got %v", err)
	}
}

func TestSerialMux_Initialize(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	if err := mux.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	written := port.GetWrittenData()
	if !strings.HasPrefix(written, "TIME ") {
		t.Errorf("expected clock sync first, got %q", written)
	}
	for _, cmd := range []string{"FORMAT JSON\n", "REPORT POSE\n", "STREAM ON\n"} {
		if !strings.Contains(written, cmd) {
			t.Errorf("missing command %q in %q", cmd, written)
		}
	}
	if strings.Index(written, "STREAM OFF") > strings.Index(written, "STREAM ON") {
		t.Error("stream must be enabled last")
	}
}

func TestSerialMux_MonitorFansOutLines(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch1 := mux.Subscribe()
	_, ch2 := mux.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- mux.Monitor(ctx) }()

	port.AddReadData([]byte(poseLine + "\n"))

	for i, ch := range []chan string{ch1, ch2} {
		select {
		case got := <-ch:
			if got != poseLine {
				t.Errorf("subscriber %d got %q", i, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Monitor returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Monitor did not stop on cancel")
	}
	if read, _ := mux.Stats(); read != 1 {
		t.Errorf("lines read = %d, want 1", read)
	}
}

func TestSerialMux_SlowSubscriberDropsLines(t *testing.T) {
	mux := NewSerialMux(NewTestableSerialPort())
	_, ch := mux.Subscribe()
	for i := 0; i < subscriberBuffer+5; i++ {
		mux.publish("line")
	}
	if len(ch) != subscriberBuffer {
		t.Errorf("buffered %d lines, want %d", len(ch), subscriberBuffer)
	}
	if _, dropped := mux.Stats(); dropped != 5 {
		t.Errorf("dropped = %d, want 5", dropped)
	}
}

func TestSerialMux_CloseClosesSubscribers(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	_, ch := mux.Subscribe()

	if err := mux.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("subscriber channel should be closed")
	}
	if !port.Closed {
		t.Error("port should be closed")
	}
	if _, late := mux.Subscribe(); late != nil {
		if _, ok := <-late; ok {
			t.Error("subscribing after close should return a closed channel")
		}
	}
}

type scriptedDevice struct {
	mu       sync.Mutex
	commands []string
}

func (d *scriptedDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.commands = append(d.commands, string(p))
	return len(p), nil
}

func (d *scriptedDevice) NextLine() []byte { return []byte(poseLine) }

func TestMockSerialMux_EmitsDeviceLines(t *testing.T) {
	dev := &scriptedDevice{}
	mux := NewMockSerialMux(dev, 5*time.Millisecond)
	defer mux.Close()

	_, ch := mux.Subscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go mux.Monitor(ctx)

	select {
	case line := <-ch:
		if ClassifyPayload(line) != EventTypePose {
			t.Errorf("unexpected line %q", line)
		}
	case <-time.After(time.Second):
		t.Fatal("no line from mock device")
	}

	if err := mux.SendCommand("STREAM ON"); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	dev.mu.Lock()
	defer dev.mu.Unlock()
	if len(dev.commands) != 1 || dev.commands[0] != "STREAM ON\n" {
		t.Errorf("device commands = %q", dev.commands)
	}
}

func TestAttachAdminRoutes_SendCommandAPI(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name       string
		method     string
		form       url.Values
		wantStatus int
	}{
		{"valid command", http.MethodPost, url.Values{"command": {"REPORT POSE"}}, http.StatusOK},
		{"empty command", http.MethodPost, url.Values{"command": {"  "}}, http.StatusBadRequest},
		{"wrong method", http.MethodGet, nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, testutil.LocalRequest(tc.method, "/debug/send-command-api", tc.form.Encode()))
			if w.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
		})
	}
	if got := port.GetWrittenData(); got != "REPORT POSE\n" {
		t.Errorf("written = %q", got)
	}
}

func TestAttachAdminRoutes_SendCommandPage(t *testing.T) {
	httpMux := http.NewServeMux()
	NewSerialMux(NewTestableSerialPort()).AttachAdminRoutes(httpMux)

	for path, want := range map[string]string{
		"/debug/send-command": "Vision board console",
		"/debug/tail.js":      "EventSource",
	} {
		w := httptest.NewRecorder()
		httpMux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, path, ""))
		if w.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), want) {
			t.Errorf("%s: body missing %q", path, want)
		}
	}
}

func TestAttachAdminRoutes_BoardStatus(t *testing.T) {
	if err := HandleStatus(`{"firmware":"2.1.0","rate_hz":10}`); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	httpMux := http.NewServeMux()
	NewSerialMux(NewTestableSerialPort()).AttachAdminRoutes(httpMux)

	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, testutil.LocalRequest(http.MethodGet, "/debug/board-status", ""))
	if !strings.Contains(w.Body.String(), "firmware: 2.1.0") {
		t.Errorf("body = %q", w.Body.String())
	}
}
