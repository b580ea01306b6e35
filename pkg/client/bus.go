package client

import (
	"encoding/json"
	"sync"
)

// Handler receives the raw JSON of one inbound message.
type Handler func(msg json.RawMessage)

// TypeAny subscribes to every inbound message regardless of type.
const TypeAny = "*"

type subscription struct {
	id uint64
	fn Handler
}

// Bus is the typed publish/subscribe surface: a registry mapping the wire
// type discriminator to an ordered list of subscribers. Subscribe returns an
// unsubscribe closure so callers need no external bookkeeping.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]subscription
	nextID uint64
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscription)}
}

func (b *Bus) Subscribe(msgType string, fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[msgType] = append(b.subs[msgType], subscription{id: id, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[msgType]
		for i, s := range list {
			if s.id == id {
				b.subs[msgType] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers the message to the type's subscribers in subscription
// order, then to the wildcard subscribers. Handlers run on the publisher's
// goroutine.
func (b *Bus) Publish(msgType string, msg json.RawMessage) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[msgType])+len(b.subs[TypeAny]))
	for _, s := range b.subs[msgType] {
		handlers = append(handlers, s.fn)
	}
	if msgType != TypeAny {
		for _, s := range b.subs[TypeAny] {
			handlers = append(handlers, s.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}
