// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events broadcasts pipeline progress to server-sent-event
// subscribers. The demo UI and any number of curl sessions can watch an
// onboarding run live; late joiners get the run's history replayed first.
package events

import (
	"sync"
	"time"
)

// historyCap bounds replay for late subscribers. Oldest events fall off.
const historyCap = 256

// Event is one progress notification.
type Event struct {
	Type    string    `json:"type"`
	Client  string    `json:"client,omitempty"`
	Message string    `json:"message"`
	Payload any       `json:"payload,omitempty"`
	At      time.Time `json:"at"`
}

// Broker fans events out to subscribers.
//
// # Thread Safety
//
// Safe for concurrent use. Publish never blocks: a subscriber that cannot
// keep up has the event dropped rather than stalling the pipeline.
type Broker struct {
	mu      sync.Mutex
	subs    map[chan Event]bool
	history []Event
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]bool)}
}

// Subscribe registers a listener and replays history into it. The
// returned channel is buffered; call the cancel func to unsubscribe.
func (b *Broker) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, historyCap+32)

	b.mu.Lock()
	for _, e := range b.history {
		ch <- e
	}
	b.subs[ch] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs[ch] {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish records an event and delivers it to every subscriber.
func (b *Broker) Publish(eventType, client, message string, payload any) {
	e := Event{
		Type:    eventType,
		Client:  client,
		Message: message,
		Payload: payload,
		At:      time.Now(),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.history = append(b.history, e)
	if len(b.history) > historyCap {
		b.history = b.history[len(b.history)-historyCap:]
	}
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is saturated; drop this event for it.
		}
	}
}

// History returns a copy of the retained events.
func (b *Broker) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}

// Reset clears history. Live subscriptions stay open.
func (b *Broker) Reset() {
	b.mu.Lock()
	b.history = nil
	b.mu.Unlock()
}
