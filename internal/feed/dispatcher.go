package feed

import (
	"context"
	"sync"
)

const defaultStreamBuffer = 16

// Dispatcher fans committed change events out to per-table subscribers.
// Publishing never blocks; a subscriber whose buffer is full misses the event
// and is expected to reload on reconnect.
type Dispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id     int64
	stream chan Event
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		subscribers: make(map[string]map[int64]*subscriber),
		bufferSize:  defaultStreamBuffer,
	}
}

// Subscribe registers a listener for the named table. The returned cleanup is
// idempotent and also runs when ctx is cancelled.
func (d *Dispatcher) Subscribe(ctx context.Context, table string) (<-chan Event, func()) {
	if table == "" {
		ch := make(chan Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     d.nextSequence(),
		stream: make(chan Event, d.bufferSize),
	}
	d.register(table, sub)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregister(table, sub.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// Publish delivers the event to every current subscriber of its table.
func (d *Dispatcher) Publish(event Event) {
	if event.Table == "" || event.Type == "" {
		return
	}
	d.mu.RLock()
	listeners := d.subscribers[event.Table]
	if len(listeners) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*subscriber, 0, len(listeners))
	for _, listener := range listeners {
		copies = append(copies, listener)
	}
	d.mu.RUnlock()
	for _, listener := range copies {
		select {
		case listener.stream <- event:
		default:
		}
	}
}

func (d *Dispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *Dispatcher) register(table string, sub *subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[table]; !ok {
		d.subscribers[table] = make(map[int64]*subscriber)
	}
	d.subscribers[table][sub.id] = sub
}

func (d *Dispatcher) unregister(table string, subscriberID int64) {
	d.mu.Lock()
	listeners := d.subscribers[table]
	if listeners != nil {
		delete(listeners, subscriberID)
		if len(listeners) == 0 {
			delete(d.subscribers, table)
		}
	}
	d.mu.Unlock()
}
