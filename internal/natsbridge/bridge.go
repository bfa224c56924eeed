package natsbridge

import (
	"log/slog"
	"sync"

	"github.com/mtzanidakis/epoptis/internal/messaging"
)

// mirrorBuffer bounds the handoff queue between the bus handler and
// the publishing goroutine. A full queue drops the envelope.
const mirrorBuffer = 256

// Bridge republishes every envelope from the in-process bus as JSON on
// NATS. Bus handlers run under the bus lock, so the bridge hands
// envelopes to its own goroutine instead of publishing inline.
type Bridge struct {
	bus       *messaging.Bus
	client    *Client
	handlerID string
	queue     chan messaging.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewBridge(bus *messaging.Bus, client *Client) *Bridge {
	b := &Bridge{
		bus:    bus,
		client: client,
		queue:  make(chan messaging.Envelope, mirrorBuffer),
		done:   make(chan struct{}),
	}
	b.handlerID = bus.AddHandler(b.enqueue)
	go b.loop()
	return b
}

func (b *Bridge) enqueue(env messaging.Envelope) {
	select {
	case b.queue <- env:
	default:
		slog.Debug("mirror queue full, dropping envelope", "message_id", env.ID, "type", env.Type)
	}
}

func (b *Bridge) loop() {
	for {
		select {
		case <-b.done:
			return
		case env := <-b.queue:
			subject := SubjectSwarm(env.TaskID, env.Type)
			if err := b.client.PublishJSON(subject, env); err != nil {
				slog.Debug("mirror publish failed", "subject", subject, "error", err)
			}
		}
	}
}

// Close detaches the bridge from the bus and stops the publishing
// goroutine. Queued envelopes are dropped.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.bus.RemoveHandler(b.handlerID)
		close(b.done)
	})
}
