package feed

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/model"
)

func testRecord() model.AttendanceRecord {
	return model.AttendanceRecord{
		ID:                uuid.Must(uuid.NewV4()),
		PersonIdentity:    "2101",
		Name:              "Asha",
		Section:           "A",
		ClassRollNo:       "12",
		Day:               "2026-03-02",
		DeviceFingerprint: "a1b2c3d4",
		Status:            model.StatusPresent,
		MarkedAt:          time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func TestHub_PublishReachesSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(zaptest.NewLogger(t), Options{Location: time.UTC})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })

	rec := testRecord()
	hub.Publish(rec)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mt, b, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.MessageText {
		t.Fatalf("message type = %v", mt)
	}
	var ev convert.FeedEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Type != convert.FeedEventCommitted || ev.Record.ID != rec.ID.String() || ev.Record.Time != "09:00:00" {
		t.Fatalf("event = %+v", ev)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	waitFor(t, func() bool { return hub.Len() == 0 })
}

func TestHub_SlowSubscriberDropped(t *testing.T) {
	t.Parallel()
	drops := 0
	hub := NewHub(zaptest.NewLogger(t), Options{QueueSize: 1, OnDrop: func() { drops++ }})

	s := &subscriber{send: make(chan []byte, 1), done: make(chan struct{})}
	if !hub.add(s) {
		t.Fatalf("add refused")
	}
	hub.Publish(testRecord())
	hub.Publish(testRecord())

	select {
	case <-s.done:
	default:
		t.Fatalf("slow subscriber kept")
	}
	if drops != 1 {
		t.Fatalf("drops = %d", drops)
	}
	// further publishes skip it without counting again
	hub.Publish(testRecord())
	if drops != 1 {
		t.Fatalf("drops = %d after skip", drops)
	}
}

func TestHub_CloseDisconnects(t *testing.T) {
	t.Parallel()
	hub := NewHub(zaptest.NewLogger(t), Options{})
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	waitFor(t, func() bool { return hub.Len() == 1 })

	hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Fatalf("want going away, got %v", err)
	}

	if s := (&subscriber{send: make(chan []byte, 1), done: make(chan struct{})}); hub.add(s) {
		t.Fatalf("closed hub accepted a subscriber")
	}
}
