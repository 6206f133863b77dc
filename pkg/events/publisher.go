// Package events carries typed in-process notifications from the speech
// backends to whatever renders them (status bar, settings window, logs).
package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Publisher fans typed events out to local in-process subscribers.
type Publisher struct {
	source string

	subMu       sync.RWMutex
	subscribers map[string]chan Envelope
}

// NewPublisher creates a publisher. source names the emitting component
// and is stamped on every envelope.
func NewPublisher(source string) *Publisher {
	return &Publisher{
		source:      source,
		subscribers: make(map[string]chan Envelope),
	}
}

// Emit publishes a typed event to all local subscribers. Slow subscribers
// never block the emitter; a full buffer drops the event with a warning.
func (p *Publisher) Emit(eventType EventType, sessionID string, data interface{}) error {
	envelope := Envelope{
		ID:        xid.New().String(),
		Type:      eventType,
		Source:    p.source,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	envelope.Data = raw

	p.subMu.RLock()
	for id, ch := range p.subscribers {
		select {
		case ch <- envelope:
		default:
			slog.Warn("event dropped: subscriber buffer full",
				slog.String("subscriber", id), slog.String("event_type", string(eventType)))
		}
	}
	p.subMu.RUnlock()

	return nil
}

// Subscribe creates a local in-process subscription for events.
// Returns a channel that receives Envelope values.
// The caller must call Unsubscribe with the same id to clean up.
func (p *Publisher) Subscribe(id string, bufSize int) <-chan Envelope {
	if bufSize <= 0 {
		bufSize = 64
	}
	ch := make(chan Envelope, bufSize)
	p.subMu.Lock()
	p.subscribers[id] = ch
	p.subMu.Unlock()
	return ch
}

// Unsubscribe removes a local subscription and closes its channel.
func (p *Publisher) Unsubscribe(id string) {
	p.subMu.Lock()
	if ch, ok := p.subscribers[id]; ok {
		close(ch)
		delete(p.subscribers, id)
	}
	p.subMu.Unlock()
}
