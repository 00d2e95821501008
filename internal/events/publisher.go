// Package events fans out file status changes to interested subscribers.
// The daemon publishes an event on every status transition; API stream
// handlers and the CLI watch command subscribe per file.
package events

import (
	"log/slog"
	"sync"
	"time"

	"oculith/internal/logging"
	"oculith/internal/records"
)

// Event is one status change for a file.
type Event struct {
	FileID    string         `json:"file_id"`
	Status    records.Status `json:"status"`
	Detail    string         `json:"detail,omitempty"`
	Timestamp time.Time      `json:"ts"`
}

// Terminal reports whether this event ends the file's stream.
func (e Event) Terminal() bool {
	return records.IsTerminal(e.Status)
}

// Subscription delivers events for a single file. The channel closes
// when the file reaches a terminal status or the subscriber cancels.
type Subscription struct {
	fileID string
	ch     chan Event
	closed bool
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Publisher distributes status events. Slow subscribers never block a
// publish; each subscriber has a bounded buffer and the oldest pending
// event is dropped when it overflows.
type Publisher struct {
	logger *slog.Logger
	buffer int

	mu   sync.Mutex
	subs map[string][]*Subscription
	last map[string]Event // latest published event per file
}

// NewPublisher builds a publisher whose subscribers buffer up to
// buffer pending events each.
func NewPublisher(buffer int, logger *slog.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 16
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		logger: logging.NewComponentLogger(logger, "events"),
		buffer: buffer,
		subs:   make(map[string][]*Subscription),
		last:   make(map[string]Event),
	}
}

// Subscribe registers interest in a file's status changes. The current
// status is delivered immediately so a late subscriber does not wait
// for the next transition; if that status is already terminal the
// channel closes right after. The caller's status snapshot is only a
// fallback: when the publisher has already seen an event for the file,
// that event wins, so a subscriber arriving just after the terminal
// transition still receives it and terminates.
func (p *Publisher) Subscribe(fileID string, current records.Status) *Subscription {
	sub := &Subscription{
		fileID: fileID,
		ch:     make(chan Event, p.buffer),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	replay := Event{FileID: fileID, Status: current, Timestamp: time.Now().UTC()}
	if seen, ok := p.last[fileID]; ok {
		replay = seen
	}
	sub.ch <- replay
	if replay.Terminal() {
		sub.closed = true
		close(sub.ch)
		return sub
	}
	p.subs[fileID] = append(p.subs[fileID], sub)
	return sub
}

// Unsubscribe detaches a subscription and closes its channel.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sub.closed {
		return
	}
	p.detachLocked(sub)
	sub.closed = true
	close(sub.ch)
}

// Publish delivers an event to every subscriber of its file. Terminal
// events close the file's subscriptions after delivery. Publish never
// blocks.
func (p *Publisher) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.last[evt.FileID] = evt
	subs := p.subs[evt.FileID]
	for _, sub := range subs {
		p.deliverLocked(sub, evt)
	}

	if evt.Terminal() {
		for _, sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(p.subs, evt.FileID)
	}

	p.logger.Debug("status event published",
		logging.String(logging.FieldFileID, evt.FileID),
		logging.String(logging.FieldStatus, string(evt.Status)),
		logging.Int("subscribers", len(subs)))
}

// Forget drops the cached last event for a file, closing any open
// subscriptions. Called when a file is deleted.
func (p *Publisher) Forget(fileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.last, fileID)
	for _, sub := range p.subs[fileID] {
		sub.closed = true
		close(sub.ch)
	}
	delete(p.subs, fileID)
}

// SubscriberCount reports how many subscriptions a file currently has.
func (p *Publisher) SubscriberCount(fileID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs[fileID])
}

// Close terminates every open subscription.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for fileID, subs := range p.subs {
		for _, sub := range subs {
			sub.closed = true
			close(sub.ch)
		}
		delete(p.subs, fileID)
	}
}

func (p *Publisher) deliverLocked(sub *Subscription, evt Event) {
	select {
	case sub.ch <- evt:
		return
	default:
	}
	// Buffer full: drop the oldest pending event to make room.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
}

func (p *Publisher) detachLocked(sub *Subscription) {
	remaining := p.subs[sub.fileID][:0]
	for _, s := range p.subs[sub.fileID] {
		if s != sub {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(p.subs, sub.fileID)
	} else {
		p.subs[sub.fileID] = remaining
	}
}
