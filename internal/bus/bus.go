// Package bus implements the in-process publish-subscribe fabric every
// other component communicates through. Dispatch is synchronous and
// single-threaded by design: a publish call runs every matching handler
// inline on the caller's goroutine, so there is no inter-thread
// coordination to reason about and no event ever gets lost to a full queue.
// Handlers that need asynchrony are expected to enqueue their own work.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"hyperquant/internal/quanttypes"
)

// ErrEndpointNotFound is returned by Request when no handler is registered
// for the given endpoint.
var ErrEndpointNotFound = errors.New("bus: endpoint not found")

// Handler receives a published event. An error is logged but never aborts
// the publish or propagates to the caller.
type Handler func(event quanttypes.Event) error

// RequestHandler answers a synchronous request-reply call.
type RequestHandler func(req any) (any, error)

type subscription struct {
	pattern string
	handler Handler
}

// Bus is the topic-routed publish-subscribe dispatcher plus a
// request/reply registry. The zero value is not usable; use New.
type Bus struct {
	log *slog.Logger

	mu       sync.Mutex
	exact    map[string][]subscription // topic -> subscriptions, registration order preserved
	wild     []subscription            // patterns ending in "*"
	requests map[string]RequestHandler
}

// New constructs an empty Bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log.With("component", "bus"),
		exact:    make(map[string][]subscription),
		requests: make(map[string]RequestHandler),
	}
}

// Subscribe registers handler against topicOrPattern. A pattern is any
// string ending in "*"; it matches every topic sharing the pattern's prefix
// (the "*" stripped). Subscribing the same handler twice to the same topic
// yields two invocations per matching publish — the bus does not dedupe.
func (b *Bus) Subscribe(topicOrPattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := subscription{pattern: topicOrPattern, handler: handler}
	if strings.HasSuffix(topicOrPattern, "*") {
		b.wild = append(b.wild, sub)
		return
	}
	b.exact[topicOrPattern] = append(b.exact[topicOrPattern], sub)
}

// Unsubscribe removes a single registration matching topicOrPattern and
// handler. Handler identity is compared by pointer, so pass the same
// function value given to Subscribe (wrap it in a variable if needed).
func (b *Bus) Unsubscribe(topicOrPattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if strings.HasSuffix(topicOrPattern, "*") {
		b.wild = removeOne(b.wild, topicOrPattern, handler)
		return
	}
	b.exact[topicOrPattern] = removeOne(b.exact[topicOrPattern], topicOrPattern, handler)
}

func removeOne(subs []subscription, pattern string, handler Handler) []subscription {
	target := funcPointer(handler)
	for i, s := range subs {
		if s.pattern == pattern && funcPointer(s.handler) == target {
			out := make([]subscription, 0, len(subs)-1)
			out = append(out, subs[:i]...)
			out = append(out, subs[i+1:]...)
			return out
		}
	}
	return subs
}

// funcPointer returns a comparable identity for a func value, used to match
// the same handler passed to Subscribe and Unsubscribe.
func funcPointer(h Handler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// Publish invokes every handler subscribed exactly to topic, followed by
// every handler whose wildcard pattern prefix is a prefix of topic. Handler
// errors are logged and otherwise swallowed — a misbehaving subscriber never
// aborts delivery to the rest.
func (b *Bus) Publish(topic string, event quanttypes.Event) {
	b.mu.Lock()
	exact := append([]subscription(nil), b.exact[topic]...)
	wild := append([]subscription(nil), b.wild...)
	b.mu.Unlock()

	for _, s := range exact {
		b.invoke(s, topic, event)
	}
	for _, s := range wild {
		prefix := strings.TrimSuffix(s.pattern, "*")
		if strings.HasPrefix(topic, prefix) {
			b.invoke(s, topic, event)
		}
	}
}

func (b *Bus) invoke(s subscription, topic string, event quanttypes.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("handler panicked", "topic", topic, "pattern", s.pattern, "panic", r)
		}
	}()
	if err := s.handler(event); err != nil {
		b.log.Error("handler returned error", "topic", topic, "pattern", s.pattern, "error", err)
	}
}

// Send is fire-and-forget publication over a conventional command topic; a
// thin naming convenience over Publish.
func (b *Bus) Send(topic string, event quanttypes.Event) {
	b.Publish(topic, event)
}

// Register installs the request-reply handler for endpoint. Exactly one
// handler may be registered per endpoint; a second call overwrites the
// first.
func (b *Bus) Register(endpoint string, handler RequestHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests[endpoint] = handler
}

// Deregister removes the request-reply handler for endpoint, if any.
func (b *Bus) Deregister(endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.requests, endpoint)
}

// Request performs a synchronous request-reply call. It fails with
// ErrEndpointNotFound if nothing is registered at endpoint, and otherwise
// propagates whatever error the handler itself returns.
func (b *Bus) Request(endpoint string, req any) (any, error) {
	b.mu.Lock()
	handler, ok := b.requests[endpoint]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEndpointNotFound, endpoint)
	}
	return handler(req)
}
