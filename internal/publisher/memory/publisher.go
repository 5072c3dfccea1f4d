// Package memory provides an in-process publisher that records discovery
// completion events so tests can assert on what a job run announced.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/SixpoundertheOriginal/yodel-aso-insight/internal/keyword"
)

// Publisher records every published event in memory.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// Event captures one publish call.
type Event struct {
	Topic   string
	Payload any
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the event and returns a sequence-based pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: payload})
	return fmt.Sprintf("local-%d", len(p.events)), nil
}

// Messages returns every recorded event.
func (p *Publisher) Messages() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Completions returns the typed job completion events published to topic.
func (p *Publisher) Completions(topic string) []keyword.CompletionEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []keyword.CompletionEvent
	for _, e := range p.events {
		if e.Topic != topic {
			continue
		}
		if ev, ok := e.Payload.(keyword.CompletionEvent); ok {
			out = append(out, ev)
		}
	}
	return out
}
