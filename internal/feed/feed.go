// Package feed delivers row change events from the database to in-process
// subscribers. A subscription is scoped to a table and optionally filtered by
// a column value, mirroring the insert triggers that publish the events.
package feed

import (
	"encoding/json"
	"fmt"
	"sync"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	// EventReset is delivered after the underlying connection was
	// re-established. Events may have been missed while disconnected, so
	// subscribers should refetch rather than patch.
	EventReset EventType = "RESET"
)

// Event is a single row change. New holds the inserted row as JSON, in the
// shape produced by the notify trigger.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	New   json.RawMessage `json:"new,omitempty"`
}

// Filter restricts a subscription to rows whose column equals the given
// value.
type Filter struct {
	Column string
	Value  string
}

func (f *Filter) matches(fields map[string]any) bool {
	v, ok := fields[f.Column]
	if !ok {
		return false
	}

	return fmt.Sprint(v) == f.Value
}

type Feed interface {
	Subscribe(table string, filter *Filter) (*Subscription, error)
}

// Subscription is a standing stream of events for one table. Events is
// closed when the subscription is closed.
type Subscription struct {
	table   string
	filter  *Filter
	events  chan Event
	closeFn func(*Subscription)
	once    sync.Once
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closeFn(s)
	})
}

func unmarshalEvent(payload []byte, ev *Event) error {
	if err := json.Unmarshal(payload, ev); err != nil {
		return err
	}
	if ev.Table == "" || ev.Type == "" {
		return fmt.Errorf("event missing table or type")
	}
	return nil
}

// subscriptions is the bookkeeping shared by the feed implementations.
type subscriptions struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newSubscriptions() *subscriptions {
	return &subscriptions{subs: make(map[*Subscription]struct{})}
}

func (s *subscriptions) add(table string, filter *Filter, buffer int) *Subscription {
	sub := &Subscription{
		table:   table,
		filter:  filter,
		events:  make(chan Event, buffer),
		closeFn: s.remove,
	}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	return sub
}

func (s *subscriptions) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[sub]; ok {
		delete(s.subs, sub)
		close(sub.events)
	}
}

// dispatch fans an event out to every matching subscription. A subscriber
// whose buffer is full loses the event; a lost insert is recovered by the
// next reset or refetch.
func (s *subscriptions) dispatch(ev Event, onDrop func(sub *Subscription)) {
	var fields map[string]any
	if len(ev.New) > 0 {
		// best effort; an unparsable payload simply matches no filter
		json.Unmarshal(ev.New, &fields)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		if sub.table != ev.Table {
			continue
		}
		if ev.Type != EventReset && sub.filter != nil && !sub.filter.matches(fields) {
			continue
		}

		select {
		case sub.events <- ev:
		default:
			if onDrop != nil {
				onDrop(sub)
			}
		}
	}
}

// reset notifies every subscription that continuity was lost.
func (s *subscriptions) reset(onDrop func(sub *Subscription)) {
	s.mu.Lock()
	tables := make(map[*Subscription]string, len(s.subs))
	for sub := range s.subs {
		tables[sub] = sub.table
	}
	s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, table := range tables {
		if _, ok := seen[table]; ok {
			continue
		}
		seen[table] = struct{}{}
		s.dispatch(Event{Table: table, Type: EventReset}, onDrop)
	}
}
