// Package bus provides event fan-out between daemon components and the
// client gateway without either side holding a concrete reference to the
// other. The gateway subscribes per connected client; components publish.
package bus

import (
	"sync"

	"github.com/nextlevelbuilder/warden/pkg/protocol"
)

// EventHandler receives a broadcast frame.
type EventHandler func(msg *protocol.Message)

// Publisher abstracts event broadcast + subscription.
type Publisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Broadcast(msg *protocol.Message)
}

// Bus is the in-process Publisher implementation.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
}

func New() *Bus {
	return &Bus{handlers: make(map[string]EventHandler)}
}

func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Broadcast delivers msg to every subscriber. Handlers run on the caller's
// goroutine; subscribers must not block.
func (b *Bus) Broadcast(msg *protocol.Message) {
	b.mu.RLock()
	handlers := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(msg)
	}
}
