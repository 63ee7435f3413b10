package stream

import (
	"context"
	"sync"
)

const defaultChannelBuffer = 64

// subscriber holds one subscription's delivery channel and its event-type
// restriction. An empty types set means every type.
type subscriber struct {
	ch    chan RunEvent
	types map[string]struct{}
}

// MemoryHub is an in-memory EventHub. Subscribers are indexed by the run id
// they filter on, so publishing touches only the matching bucket plus the
// wildcard bucket instead of scanning every subscription. The "" key holds
// wildcard subscribers that receive all runs.
type MemoryHub struct {
	mu    sync.Mutex
	next  uint64
	byRun map[string]map[uint64]*subscriber
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		byRun: make(map[string]map[uint64]*subscriber),
	}
}

// Publish sends an event to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the event is dropped.
func (h *MemoryHub) Publish(ctx context.Context, event RunEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	deliver(h.byRun[event.RunID], event)
	if event.RunID != "" {
		deliver(h.byRun[""], event)
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given EventFilter.
// Returns a receive-only channel, a cancel function, and any error.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan RunEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscriber{ch: make(chan RunEvent, defaultChannelBuffer)}
	if len(filter.EventTypes) > 0 {
		sub.types = make(map[string]struct{}, len(filter.EventTypes))
		for _, t := range filter.EventTypes {
			sub.types[t] = struct{}{}
		}
	}

	h.mu.Lock()
	h.next++
	id := h.next
	bucket := h.byRun[filter.RunID]
	if bucket == nil {
		bucket = make(map[uint64]*subscriber)
		h.byRun[filter.RunID] = bucket
	}
	bucket[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if bucket := h.byRun[filter.RunID]; bucket != nil {
			delete(bucket, id)
			if len(bucket) == 0 {
				delete(h.byRun, filter.RunID)
			}
		}
		h.mu.Unlock()
	}

	return sub.ch, cancel, nil
}

// deliver fans an event out to one bucket, dropping for slow subscribers.
func deliver(bucket map[uint64]*subscriber, event RunEvent) {
	for _, sub := range bucket {
		if sub.types != nil {
			if _, ok := sub.types[event.Event.Type]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			// backpressure: drop event for slow subscriber
		}
	}
}

var _ EventHub = (*MemoryHub)(nil)
