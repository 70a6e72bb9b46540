// Package event is a small in-process event bus. Handlers of one event run in
// order on a single goroutine, so each one sees the writes of the handlers
// before it.
package event

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Handler reacts to an event. It may mutate e; later handlers see the change.
type Handler[E any] func(ctx context.Context, e E)

type subscription[E any] struct {
	id       uint64
	name     string
	priority int
	handle   Handler[E]
}

// Bus dispatches events of type E to its subscribers. The zero value is not
// usable; call NewBus.
type Bus[E any] struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	nextID uint64
	subs   []subscription[E]
}

func NewBus[E any](logger zerolog.Logger) *Bus[E] {
	return &Bus[E]{logger: logger}
}

// NewDefaultBus logs through the global logger.
func NewDefaultBus[E any]() *Bus[E] {
	return NewBus[E](log.With().Str("component", "event").Logger())
}

// Subscribe adds h. Lower priorities run first; equal priorities run in
// subscription order. The returned func removes h and is safe to call twice.
func (b *Bus[E]) Subscribe(name string, priority int, h Handler[E]) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription[E]{id: id, name: name, priority: priority, handle: h})
	sort.SliceStable(b.subs, func(i, j int) bool { return b.subs[i].priority < b.subs[j].priority })
	return func() { b.unsubscribe(id) }
}

func (b *Bus[E]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus[E]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dispatch runs the handlers subscribed at call time against e on a new
// goroutine and then delivers e once on the returned channel, which is closed
// afterwards. Cancelling ctx skips the handlers not yet started; e is still
// delivered.
func (b *Bus[E]) Dispatch(ctx context.Context, e E) <-chan E {
	b.mu.RLock()
	subs := append([]subscription[E](nil), b.subs...)
	b.mu.RUnlock()

	out := make(chan E, 1)
	go func() {
		defer close(out)
		for _, s := range subs {
			if ctx.Err() != nil {
				b.logger.Debug().Err(ctx.Err()).Str("handler", s.name).Msg("dispatch cancelled; skipping remaining handlers")
				break
			}
			b.run(ctx, s, e)
		}
		out <- e
	}()
	return out
}

func (b *Bus[E]) run(ctx context.Context, s subscription[E], e E) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("handler", s.name).
				Str("panic", fmt.Sprint(r)).
				Msg("event handler panicked")
		}
	}()
	s.handle(ctx, e)
}
