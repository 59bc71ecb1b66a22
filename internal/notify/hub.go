package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Kind classifies an outbound notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// displayDuration is how long an event stays visible before auto-expiring.
const displayDuration = 5 * time.Second

// Event is one user-visible notification.
type Event struct {
	ID        int64     `json:"id"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Sink delivers events to an external channel (chat, webhook). Delivery is
// best-effort; sink failures never surface to publishers.
type Sink interface {
	Deliver(ctx context.Context, ev Event)
}

// Hub collects notification events, expires them after a fixed display
// duration, and fans them out to optional sinks.
type Hub struct {
	log   *slog.Logger
	sinks []Sink
	now   func() time.Time

	mu     sync.Mutex
	nextID int64
	events []Event
}

// NewHub creates a notification hub.
func NewHub(log *slog.Logger, sinks ...Sink) *Hub {
	return &Hub{log: log, sinks: sinks, now: time.Now}
}

// Publish records one event and fans it out.
func (h *Hub) Publish(ctx context.Context, kind Kind, message string) {
	now := h.now()

	h.mu.Lock()
	h.nextID++
	ev := Event{
		ID:        h.nextID,
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(displayDuration),
	}
	h.events = append(h.events, ev)
	h.prune(now)
	sinks := h.sinks
	h.mu.Unlock()

	h.log.Info("notification", "kind", kind, "message", message)

	for _, s := range sinks {
		s.Deliver(ctx, ev)
	}
}

// Success publishes a success event.
func (h *Hub) Success(ctx context.Context, message string) { h.Publish(ctx, KindSuccess, message) }

// Error publishes an error event.
func (h *Hub) Error(ctx context.Context, message string) { h.Publish(ctx, KindError, message) }

// Info publishes an informational event.
func (h *Hub) Info(ctx context.Context, message string) { h.Publish(ctx, KindInfo, message) }

// Recent returns the not-yet-expired events, oldest first.
func (h *Hub) Recent() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prune(h.now())
	out := make([]Event, len(h.events))
	copy(out, h.events)
	return out
}

// prune drops expired events. Callers hold h.mu.
func (h *Hub) prune(now time.Time) {
	kept := h.events[:0]
	for _, ev := range h.events {
		if ev.ExpiresAt.After(now) {
			kept = append(kept, ev)
		}
	}
	h.events = kept
}
