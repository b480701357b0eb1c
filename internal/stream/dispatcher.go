package stream

import "sync"

// ConnEvent notifies subscribers of connectivity transitions for one
// connection. Err is set for transient read failures and for the terminal
// give-up signal after retries are exhausted.
type ConnEvent struct {
	Kind    Kind
	State   State
	Attempt int
	Err     error
}

// Dispatcher is a per-session publish/subscribe fanout for connectivity and
// frame events. One instance is created per room session and torn down with
// it; nothing here is process-global.
type Dispatcher struct {
	mu        sync.Mutex
	nextID    int
	connSubs  map[int]func(ConnEvent)
	frameSubs map[int]func(Kind, []byte)
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		connSubs:  make(map[int]func(ConnEvent)),
		frameSubs: make(map[int]func(Kind, []byte)),
	}
}

// OnConn registers a connectivity subscriber and returns its cancel func.
func (d *Dispatcher) OnConn(fn func(ConnEvent)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.connSubs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.connSubs, id)
	}
}

// OnFrame registers a raw-frame subscriber and returns its cancel func.
// Frames are delivered in arrival order on the connection's read goroutine;
// subscribers must not block.
func (d *Dispatcher) OnFrame(fn func(Kind, []byte)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := d.nextID
	d.nextID++
	d.frameSubs[id] = fn

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.frameSubs, id)
	}
}

func (d *Dispatcher) publishConn(event ConnEvent) {
	for _, fn := range d.connSnapshot() {
		fn(event)
	}
}

func (d *Dispatcher) publishFrame(kind Kind, raw []byte) {
	for _, fn := range d.frameSnapshot() {
		fn(kind, raw)
	}
}

func (d *Dispatcher) connSnapshot() []func(ConnEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := make([]func(ConnEvent), 0, len(d.connSubs))
	for _, fn := range d.connSubs {
		subs = append(subs, fn)
	}
	return subs
}

func (d *Dispatcher) frameSnapshot() []func(Kind, []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := make([]func(Kind, []byte), 0, len(d.frameSubs))
	for _, fn := range d.frameSubs {
		subs = append(subs, fn)
	}
	return subs
}
