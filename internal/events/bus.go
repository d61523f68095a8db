// Package events implements the per-session ordered event bus.
//
// Each session owns one Bus. Events get a strictly increasing sequence number
// on publish and are retained in a fixed-size ring for backlog replay. The
// publisher is never blocked: a subscriber whose buffer stays full is dropped
// with ErrSubscriberLagged.
package events

import (
	"errors"
	"sync"
	"time"

	"github.com/AcrylicShrimp/fathom/pkg/models"
)

// ErrEventsExpired is returned when a requested backlog position has fallen
// out of the retention ring.
var ErrEventsExpired = errors.New("events expired beyond retention")

// ErrSubscriberLagged is reported to a subscriber that could not keep up.
var ErrSubscriberLagged = errors.New("subscriber lagged")

// ErrBusClosed is returned when subscribing to a destroyed session.
var ErrBusClosed = errors.New("event bus closed")

// Bus is an ordered broadcast log of session events.
type Bus struct {
	sessionID string
	retention int
	buffer    int

	mu       sync.Mutex
	seq      uint64
	ring     []models.SessionEvent
	firstSeq uint64 // seq of ring[0]; 0 while the ring is empty
	subs     map[uint64]*subscriber
	lagged   map[uint64]error
	nextSub  uint64
	closed   bool
}

type subscriber struct {
	ch chan models.SessionEvent
}

// Subscription is a live (plus optional backlog) view of a session's events.
type Subscription struct {
	bus *Bus
	id  uint64

	// C delivers events in order. It is closed when the subscription ends;
	// check Err afterwards.
	C <-chan models.SessionEvent
}

// NewBus creates a bus for one session. retention bounds the replayable
// backlog; buffer bounds each subscriber's channel.
func NewBus(sessionID string, retention, buffer int) *Bus {
	if retention <= 0 {
		retention = 1024
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		sessionID: sessionID,
		retention: retention,
		buffer:    buffer,
		subs:      make(map[uint64]*subscriber),
		lagged:    make(map[uint64]error),
	}
}

// Publish assigns the next sequence number, stamps the event, retains it, and
// fans it out. Returns the assigned sequence. Publishing on a closed bus is a
// no-op returning the last sequence.
func (b *Bus) Publish(event models.SessionEvent) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.seq
	}

	b.seq++
	event.Seq = b.seq
	event.SessionID = b.sessionID
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}

	if len(b.ring) == b.retention {
		b.ring = b.ring[1:]
		b.firstSeq++
	}
	if len(b.ring) == 0 {
		b.firstSeq = event.Seq
	}
	b.ring = append(b.ring, event)

	for id, sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			// Buffer exhausted: drop the subscriber rather than block the
			// session actor.
			b.lagged[id] = ErrSubscriberLagged
			close(sub.ch)
			delete(b.subs, id)
		}
	}
	return b.seq
}

// LastSeq returns the most recently assigned sequence number.
func (b *Bus) LastSeq() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Subscribe attaches a new subscriber. fromSeq > 0 requests backlog starting
// at that sequence (inclusive); fromSeq == 0 requests live events only.
// Requesting a position below the retained floor fails with ErrEventsExpired.
func (b *Bus) Subscribe(fromSeq uint64) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	var backlog []models.SessionEvent
	if fromSeq > 0 && fromSeq <= b.seq {
		if len(b.ring) == 0 || fromSeq < b.firstSeq {
			return nil, ErrEventsExpired
		}
		backlog = b.ring[fromSeq-b.firstSeq:]
	}

	// The channel must hold the whole backlog up front so replay can never
	// block the caller.
	capacity := b.buffer
	if len(backlog) > capacity {
		capacity = len(backlog) + b.buffer
	}
	sub := &subscriber{ch: make(chan models.SessionEvent, capacity)}
	for _, event := range backlog {
		sub.ch <- event
	}

	b.nextSub++
	id := b.nextSub
	b.subs[id] = sub
	return &Subscription{bus: b, id: id, C: sub.ch}, nil
}

// Close drains the bus: every subscriber keeps its buffered events and then
// observes a closed channel. Further publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Err reports why the subscription ended: nil for a clean close or cancel,
// ErrSubscriberLagged when it was dropped for falling behind.
func (s *Subscription) Err() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	return s.bus.lagged[s.id]
}

// Cancel detaches the subscription. The channel is closed; pending buffered
// events may still be read.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if sub, ok := s.bus.subs[s.id]; ok {
		close(sub.ch)
		delete(s.bus.subs, s.id)
	}
}
