package realtime

import (
	"context"
	"sync"
)

// InProcTransport is a process-local Transport. It backs tests and lets
// a single-node deployment run without a broker: publisher and
// subscribers share one process, so dispatch is a direct call in
// publish order per channel.
type InProcTransport struct {
	mu    sync.Mutex
	chans map[string]*memChannel
}

func NewInProcTransport() *InProcTransport {
	return &InProcTransport{chans: make(map[string]*memChannel)}
}

func (t *InProcTransport) Subscribe(name string) (Channel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.chans[name]; ok {
		return ch, nil
	}
	ch := newMemChannel(name)
	t.chans[name] = ch
	return ch, nil
}

func (t *InProcTransport) Unsubscribe(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chans, name)
}

func (t *InProcTransport) Publish(_ context.Context, channel, event string, payload []byte) error {
	t.mu.Lock()
	ch := t.chans[channel]
	t.mu.Unlock()
	if ch != nil {
		ch.dispatch(event, payload)
	}
	return nil
}

func (t *InProcTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chans = make(map[string]*memChannel)
	return nil
}

// memChannel holds the handler bindings of one in-process channel.
type memChannel struct {
	name     string
	mu       sync.Mutex
	handlers map[string][]Handler
	catchAll []EventHandler
}

func newMemChannel(name string) *memChannel {
	return &memChannel{name: name, handlers: make(map[string][]Handler)}
}

func (c *memChannel) Name() string { return c.name }

func (c *memChannel) Bind(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *memChannel) Unbind(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *memChannel) UnbindAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string][]Handler)
	c.catchAll = nil
}

func (c *memChannel) BindAll(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catchAll = append(c.catchAll, h)
}

// dispatch invokes handlers outside the bindings lock so a handler may
// bind or unbind without deadlocking.
func (c *memChannel) dispatch(event string, payload []byte) {
	c.mu.Lock()
	hs := append([]Handler(nil), c.handlers[event]...)
	all := append([]EventHandler(nil), c.catchAll...)
	c.mu.Unlock()
	for _, h := range hs {
		h(payload)
	}
	for _, h := range all {
		h(event, payload)
	}
}
