package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Bridge carries changes between instances.
type Bridge interface {
	PublishChange(ch Change) error
}

// Watcher fans document changes out to local subscribers and the optional bridge.
type Watcher struct {
	origin string
	mu     sync.RWMutex
	subs   map[int]subscription
	next   int
	bridge Bridge
	logger *zap.Logger
}

type subscription struct {
	prefix string
	fn     func(Change)
}

// NewWatcher creates a watcher with a fresh origin id for this process.
func NewWatcher(logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		origin: uuid.New().String(),
		subs:   make(map[int]subscription),
		logger: logger,
	}
}

// Origin identifies changes written by this process.
func (w *Watcher) Origin() string { return w.origin }

// SetBridge enables cross-instance fan-out.
func (w *Watcher) SetBridge(b Bridge) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bridge = b
}

// Subscribe registers fn for changes at or below prefix.
func (w *Watcher) Subscribe(prefix string, fn func(Change)) (cancel func()) {
	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = subscription{prefix: prefix, fn: fn}
	w.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
		})
	}
}

// Notify stamps a local change, dispatches it and forwards it to the bridge.
func (w *Watcher) Notify(ch Change) {
	ch.Origin = w.origin
	ch.At = time.Now().UnixMilli()
	w.Dispatch(ch)
	w.mu.RLock()
	bridge := w.bridge
	w.mu.RUnlock()
	if bridge != nil {
		if err := bridge.PublishChange(ch); err != nil {
			w.logger.Warn("publish document change", zap.String("path", ch.Path), zap.Error(err))
		}
	}
}

// Dispatch delivers a change to matching subscribers. Deletes also reach subscribers of
// paths below the deleted one.
func (w *Watcher) Dispatch(ch Change) {
	w.mu.RLock()
	matched := make([]func(Change), 0, len(w.subs))
	for _, s := range w.subs {
		if Under(ch.Path, s.prefix) || (ch.Kind == ChangeDelete && Under(s.prefix, ch.Path)) {
			matched = append(matched, s.fn)
		}
	}
	w.mu.RUnlock()
	for _, fn := range matched {
		fn(ch)
	}
}
