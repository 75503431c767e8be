package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config controls buffering and delivery.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	// DeliveryTimeout bounds one Sink.Emit call. Zero means no bound.
	DeliveryTimeout time.Duration
	// RequestID reads the request id from the emitting context. It fills
	// Event.RequestID when the caller left it empty.
	RequestID func(context.Context) string
	// Now stamps Event.Timestamp. Defaults to time.Now.
	Now func() time.Time
}

// Stats is a point-in-time view of delivery losses.
type Stats struct {
	Dropped       uint64
	DroppedByType map[string]uint64
	SinkPanics    uint64
}

// Dispatcher stamps session lifecycle events and forwards them to a sink
// from a single goroutine. Sinks therefore see events in emit order.
type Dispatcher struct {
	cfg  Config
	sink Sink
	ch   chan Event
	done chan struct{}
	wg   sync.WaitGroup

	dropped    atomic.Uint64
	sinkPanics atomic.Uint64
	dropMu     sync.Mutex
	dropByType map[string]uint64

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewDispatcher starts the delivery goroutine. It returns nil when cfg is
// disabled; a nil Dispatcher ignores every call.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		cfg:        cfg,
		sink:       sink,
		ch:         make(chan Event, cfg.BufferSize),
		done:       make(chan struct{}),
		dropByType: make(map[string]uint64),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.deliver(event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

// deliver hands one event to the sink. A panicking sink loses that event
// only; the goroutine keeps running.
func (d *Dispatcher) deliver(event Event) {
	ctx := context.Background()
	if d.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DeliveryTimeout)
		defer cancel()
	}
	defer func() {
		if recover() != nil {
			d.sinkPanics.Add(1)
		}
	}()
	d.sink.Emit(ctx, event)
}

func (d *Dispatcher) stamp(ctx context.Context, event *Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = d.cfg.Now().UTC()
	}
	if event.RequestID == "" && d.cfg.RequestID != nil {
		event.RequestID = d.cfg.RequestID(ctx)
	}
}

// Emit stamps and queues event. With DropIfFull a full buffer drops the
// event and counts it under its type; otherwise Emit waits for space or
// for ctx.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.stamp(ctx, &event)

	if d.cfg.DropIfFull {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event.EventType)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.done:
	}
}

func (d *Dispatcher) drop(eventType string) {
	d.dropped.Add(1)
	d.dropMu.Lock()
	d.dropByType[eventType]++
	d.dropMu.Unlock()
}

// Close drains queued events and stops delivery. It is safe to call twice.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped is the total number of events lost to a full buffer or an
// expired emit context.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// Stats returns a copy of the loss counters.
func (d *Dispatcher) Stats() Stats {
	if d == nil {
		return Stats{}
	}
	d.dropMu.Lock()
	byType := make(map[string]uint64, len(d.dropByType))
	for k, v := range d.dropByType {
		byType[k] = v
	}
	d.dropMu.Unlock()
	return Stats{
		Dropped:       d.dropped.Load(),
		DroppedByType: byType,
		SinkPanics:    d.sinkPanics.Load(),
	}
}
