package diag

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestMultiFansOut(t *testing.T) {
	var a, b []Kind
	m := Multi{
		EmitterFunc(func(ev Event) { a = append(a, ev.Kind) }),
		EmitterFunc(func(ev Event) { b = append(b, ev.Kind) }),
	}
	m.Emit(New(KindSubscribed, nil))

	if len(a) != 1 || a[0] != KindSubscribed {
		t.Errorf("first emitter got %v, want [subscribed]", a)
	}
	if len(b) != 1 || b[0] != KindSubscribed {
		t.Errorf("second emitter got %v, want [subscribed]", b)
	}
}

func TestLogEmitterLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	e := NewLogEmitter(logger)

	e.Emit(New(KindPressure, map[string]any{"value": 12}))
	if buf.Len() != 0 {
		t.Errorf("pressure event should log at debug, got %q", buf.String())
	}

	e.Emit(Event{Kind: KindCommandRejected, Session: "abc", Fields: map[string]any{"value": 41}})
	out := buf.String()
	if !strings.Contains(out, "level=WARN") {
		t.Errorf("rejected command should log at warn, got %q", out)
	}
	if !strings.Contains(out, "session=abc") || !strings.Contains(out, "value=41") {
		t.Errorf("log line missing fields: %q", out)
	}
}

func TestHubEmitDropsWhenFull(t *testing.T) {
	h := NewHub(1)
	h.Emit(New(KindBattery, nil))
	h.Emit(New(KindBattery, nil))

	if got := h.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
}

func TestHubBroadcastsToClient(t *testing.T) {
	h := NewHub(8)
	srv := httptest.NewServer(h)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client was never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Emit(Event{Kind: KindCommandRejected, Time: time.Now(), Fields: map[string]any{"value": 9}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if got.Kind != KindCommandRejected {
		t.Errorf("Kind = %q, want %q", got.Kind, KindCommandRejected)
	}
	if v, ok := got.Fields["value"].(float64); !ok || v != 9 {
		t.Errorf("Fields[value] = %v, want 9", got.Fields["value"])
	}
}
