package websocket

import "sync"

// outbound is one connection's FIFO send queue, drained by its own
// connection goroutine — never by the hub (spec §9: "the connection's task
// owns the socket and pulls from a per-id outbound queue").
type outbound struct {
	mu    sync.Mutex
	queue []Message
	wake  chan struct{}
}

func newOutbound() *outbound {
	return &outbound{wake: make(chan struct{}, 1)}
}

func (o *outbound) push(m Message) {
	o.mu.Lock()
	o.queue = append(o.queue, m)
	o.mu.Unlock()
	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbound) drain() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.queue
	o.queue = nil
	return out
}

// Hub is the separately-owned broadcast registry spec §9 calls for: it
// never holds a *Connection, only the per-id outbound queue, so the hub and
// the connection's serving goroutine never share ownership of the socket.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]*outbound
}

func NewHub() *Hub { return &Hub{subs: make(map[string]*outbound)} }

// Register creates id's outbound queue and returns it; the connection's own
// goroutine is responsible for draining it into SendText/SendBinary calls.
func (h *Hub) Register(id string) *outbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	o := newOutbound()
	h.subs[id] = o
	return o
}

// Deregister removes id's queue when its connection's task terminates (spec
// §9: "on task termination it deregisters").
func (h *Hub) Deregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

// Broadcast enqueues m for every currently registered connection. Delivery
// order across connections is unspecified (spec §5: "observers may see any
// per-connection order"); each connection's own queue stays FIFO.
func (h *Hub) Broadcast(m Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, o := range h.subs {
		o.push(m)
	}
}

// Send enqueues m for exactly one connection id, a no-op if id is not
// currently registered.
func (h *Hub) Send(id string, m Message) {
	h.mu.RLock()
	o, ok := h.subs[id]
	h.mu.RUnlock()
	if ok {
		o.push(m)
	}
}

// Pump sends every message queued for id so far over conn, in FIFO order,
// and returns; it does not block or wait on Wake. Handlers that want hub
// delivery select on Wake from their own goroutine alongside Receive and
// call Pump each time it fires.
func (o *outbound) Pump(conn *Connection) error {
	for _, m := range o.drain() {
		var err error
		if m.Binary {
			err = conn.SendBinary(m.Payload)
		} else {
			err = conn.SendText(string(m.Payload))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Wake exposes the queue's wake channel so a handler's select loop can block
// until Broadcast/Send has new work, without polling.
func (o *outbound) Wake() <-chan struct{} { return o.wake }
