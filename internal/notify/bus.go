// Package notify carries user-facing notices and preview updates from the
// core to whatever presents them.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies what an event reports.
type Kind string

const (
	KindNoFolder         Kind = "no-folder"
	KindNoFile           Kind = "no-file"
	KindNotFound         Kind = "not-found"
	KindPermissionDenied Kind = "permission-denied"
	KindReadFailed       Kind = "read-failed"
	KindRenderError      Kind = "render-error"
	KindAnchorMissing    Kind = "anchor-missing"
	KindDiagram          Kind = "diagram"
	KindDiagramFailed    Kind = "diagram-failed"
	KindPreview          Kind = "preview"
	KindScroll           Kind = "scroll"
	KindFocus            Kind = "focus"
	KindTreeUpdated      Kind = "tree-updated"
	KindDocumentLoaded   Kind = "document-loaded"
	KindSaved            Kind = "saved"
)

// Level is the severity a presenter should use.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Event is a single notice or update.
type Event struct {
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
	Kind      Kind              `json:"kind"`
	Level     Level             `json:"level"`
	Message   string            `json:"message,omitempty"`
	HTML      string            `json:"html,omitempty"`
}

// Publisher is implemented by anything events can be sent to.
type Publisher interface {
	Publish(Event)
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// Bus fans events out to subscribers. Slow subscribers miss events rather
// than blocking publishers.
type Bus struct {
	ctx         context.Context
	logger      *slog.Logger
	subscribers map[uint64]*subscriber
	subsMu      sync.RWMutex
	subCounter  atomic.Uint64
	buffer      int
}

// NewBus returns a bus whose subscriptions all end when ctx is done.
func NewBus(ctx context.Context, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ctx:         ctx,
		logger:      logger.With("component", "notify"),
		subscribers: make(map[uint64]*subscriber),
		buffer:      32,
	}
}

// Subscribe returns a channel receiving every event published after the
// call. The channel is closed when ctx or the bus context is done.
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, b.buffer)
	id := b.subCounter.Add(1)

	b.subsMu.Lock()
	b.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	b.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.removeSubscriber(id)
	}()

	return ch
}

// Publish delivers evt to all current subscribers.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Level == "" {
		evt.Level = LevelInfo
	}

	b.subsMu.RLock()
	var stale []uint64
	for id, sub := range b.subscribers {
		select {
		case <-sub.ctx.Done():
			stale = append(stale, id)
		case <-b.ctx.Done():
			stale = append(stale, id)
		case sub.ch <- evt:
		default:
			b.logger.Debug("dropping event for lagging subscriber", slog.String("kind", string(evt.Kind)))
		}
	}
	b.subsMu.RUnlock()

	for _, id := range stale {
		b.removeSubscriber(id)
	}
}

// Notice publishes a message-only event.
func (b *Bus) Notice(kind Kind, level Level, message string, context map[string]string) {
	b.Publish(Event{Kind: kind, Level: level, Message: message, Context: context})
}

// Subscribers reports the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.subsMu.RLock()
	defer b.subsMu.RUnlock()
	return len(b.subscribers)
}

func (b *Bus) removeSubscriber(id uint64) {
	b.subsMu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.subsMu.Unlock()
}

// Recorder keeps published events in memory. It is handy wherever a
// Publisher is needed without a running bus.
type Recorder struct {
	events []Event
	mu     sync.Mutex
}

// Publish implements Publisher.
func (r *Recorder) Publish(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Kinds lists the kinds of the recorded events in order.
func (r *Recorder) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}
