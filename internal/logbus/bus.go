// Package logbus fans out per-request events to admin subscribers and keeps
// a bounded in-memory ring of recent events, persisting each one to MySQL.
package logbus

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sync"
	"time"
)

type Event struct {
	TS            time.Time `json:"ts"`
	RequestID     string    `json:"request_id"`
	Model         string    `json:"model"`
	Family        string    `json:"family"`
	Stream        bool      `json:"stream,omitempty"`
	KeyID         uint64    `json:"key_id,omitempty"`
	Status        int       `json:"status"`
	LatencyMs     int64     `json:"latency_ms"`
	RequestBytes  int       `json:"request_bytes,omitempty"`
	ResponseBytes int       `json:"response_bytes,omitempty"`
	Error         string    `json:"error,omitempty"`
}

type Bus struct {
	db  *sql.DB
	log *slog.Logger

	mu      sync.RWMutex
	subs    map[chan Event]struct{}
	ring    []Event
	ringCap int
}

func New(db *sql.DB, logger *slog.Logger, ringCap int) *Bus {
	if ringCap <= 0 {
		ringCap = 200
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bus{
		db:      db,
		log:     logger,
		subs:    make(map[chan Event]struct{}),
		ring:    make([]Event, 0, ringCap),
		ringCap: ringCap,
	}
}

// Publish records an event. Persistence happens off the request path;
// slow subscribers are skipped rather than blocked on.
func (b *Bus) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}

	b.mu.Lock()
	if len(b.ring) == b.ringCap {
		copy(b.ring, b.ring[1:])
		b.ring[len(b.ring)-1] = ev
	} else {
		b.ring = append(b.ring, ev)
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()

	if b.db != nil {
		go b.persist(ev)
	}
}

func (b *Bus) persist(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := b.db.ExecContext(ctx, `INSERT INTO request_log
  (ts, request_id, model, family, stream, key_id, status, latency_ms, request_bytes, response_bytes, error)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.TS, ev.RequestID, ev.Model, ev.Family, ev.Stream, ev.KeyID,
		ev.Status, ev.LatencyMs, ev.RequestBytes, ev.ResponseBytes, ev.Error)
	if err != nil {
		b.log.Warn("request_log insert failed", "err", err)
	}
}

// Recent returns up to n most recent events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.ring) {
		n = len(b.ring)
	}
	out := make([]Event, n)
	copy(out, b.ring[len(b.ring)-n:])
	return out
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}
