// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package bus

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/jeranaias/haven-tui/internal/rpc"
)

// =============================================================================
// FAN-OUT BUS
// =============================================================================

// DecodeFunc turns a raw push payload into a typed event. Returning
// ok=false drops the payload without invoking any handler.
type DecodeFunc[T any] func(raw []byte) (T, bool)

// Bus fans one physical push channel out to any number of logical
// subscribers. The physical channel is opened lazily on the first
// Subscribe and intentionally never closed: unsubscribing everyone and
// re-subscribing later must not race a backend-side teardown.
//
// Handlers are invoked synchronously, in registration order, on the
// transport's delivery goroutine. A handler that panics is logged and
// skipped; the remaining handlers still run.
type Bus[T any] struct {
	transport rpc.Transport
	channel   string
	decode    DecodeFunc[T]
	logger    *slog.Logger

	mu      sync.Mutex
	nextID  int
	order   []int
	byID    map[int]func(T)
	opened  bool
	openErr error
}

// New creates a bus over the named push channel. The physical
// subscription is deferred until the first subscriber arrives.
func New[T any](transport rpc.Transport, channel string, decode DecodeFunc[T], logger *slog.Logger) *Bus[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus[T]{
		transport: transport,
		channel:   channel,
		decode:    decode,
		logger:    logger,
		byID:      make(map[int]func(T)),
	}
}

// Subscribe registers handler and returns an unsubscribe function.
// The unsubscribe function removes only this handler; it is safe to
// call more than once.
func (b *Bus[T]) Subscribe(handler func(T)) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.openLocked(); err != nil {
		return nil, err
	}

	id := b.nextID
	b.nextID++
	b.order = append(b.order, id)
	b.byID[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}, nil
}

// SubscriberCount reports the number of registered handlers.
func (b *Bus[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.order)
}

// openLocked performs the single physical subscription. A failed open is
// sticky: the backend treats a second subscribe to the same channel as an
// error, so retrying blind could double-register on a flaky transport.
func (b *Bus[T]) openLocked() error {
	if b.opened {
		return b.openErr
	}
	b.opened = true

	_, err := b.transport.Subscribe(b.channel, b.dispatch)
	if err != nil {
		b.openErr = fmt.Errorf("failed to open channel %q: %w", b.channel, err)
		b.logger.Error("bus channel open failed", "channel", b.channel, "error", err)
	}
	return b.openErr
}

func (b *Bus[T]) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.byID, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// dispatch decodes one raw payload and delivers it to every handler in
// registration order. The handler list is snapshotted under the lock so
// a handler may unsubscribe itself (or others) during delivery.
func (b *Bus[T]) dispatch(raw []byte) {
	event, ok := b.decode(raw)
	if !ok {
		b.logger.Warn("dropped malformed push payload", "channel", b.channel, "bytes", len(raw))
		return
	}

	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.byID[id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		b.invoke(h, event)
	}
}

// invoke runs one handler with panic isolation. RELIABILITY: a single
// broken subscriber must never take down the delivery goroutine or
// starve the handlers registered after it.
func (b *Bus[T]) invoke(h func(T), event T) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bus handler panicked", "channel", b.channel, "panic", r)
		}
	}()
	h(event)
}
