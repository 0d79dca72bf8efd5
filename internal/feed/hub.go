// Package feed streams committed attendance records to websocket subscribers.
package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/model"
)

const (
	defaultQueueSize    = 32
	defaultHeartbeat    = 20 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Options tunes a Hub. Zero values pick defaults.
type Options struct {
	QueueSize      int
	Heartbeat      time.Duration
	WriteTimeout   time.Duration
	Location       *time.Location
	OriginPatterns []string
	// OnDrop is called when a slow subscriber is disconnected.
	OnDrop func()
}

type subscriber struct {
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (s *subscriber) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Hub fans committed records out to every connected subscriber.
type Hub struct {
	log  *zap.Logger
	opts Options

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewHub constructs a Hub.
func NewHub(log *zap.Logger, opts Options) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = defaultHeartbeat
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Hub{log: log, opts: opts, subs: make(map[*subscriber]struct{})}
}

// Publish queues rec for every subscriber. It never blocks: a subscriber
// whose queue is full is disconnected.
func (h *Hub) Publish(rec model.AttendanceRecord) {
	b, err := json.Marshal(convert.FeedEvent{
		Type:   convert.FeedEventCommitted,
		Record: convert.ToAttendanceResponse(rec, h.opts.Location),
	})
	if err != nil {
		h.log.Error("feed marshal", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.send <- b:
		default:
			s.close()
			if h.opts.OnDrop != nil {
				h.opts.OnDrop()
			}
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close disconnects all subscribers and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for s := range h.subs {
		s.close()
	}
}

func (h *Hub) isClosed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

func (h *Hub) add(s *subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.subs[s] = struct{}{}
	return true
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

// ServeHTTP upgrades the request and streams events until either side leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.OriginPatterns,
	})
	if err != nil {
		h.log.Info("feed accept", zap.Error(err))
		return
	}
	defer func() { _ = conn.CloseNow() }()

	s := &subscriber{
		send: make(chan []byte, h.opts.QueueSize),
		done: make(chan struct{}),
	}
	if !h.add(s) {
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	defer h.remove(s)

	// subscribers only listen; CloseRead handles control frames and
	// cancels ctx when the peer goes away
	ctx := conn.CloseRead(r.Context())

	t := time.NewTicker(h.opts.Heartbeat)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			if h.isClosed() {
				_ = conn.Close(websocket.StatusGoingAway, "shutting down")
			} else {
				_ = conn.Close(websocket.StatusPolicyViolation, "too slow")
			}
			return
		case b := <-s.send:
			if err := h.write(ctx, conn, b); err != nil {
				h.log.Info("feed write", zap.Error(err))
				return
			}
		case <-t.C:
			pctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.log.Info("feed ping", zap.Error(err))
				return
			}
		}
	}
}

func (h *Hub) write(parent context.Context, conn *websocket.Conn, b []byte) error {
	ctx, cancel := context.WithTimeout(parent, h.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, b)
}
