package realtime

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// exchangeName is the topic exchange all channel traffic flows through.
// Channel names double as routing keys, so publisher and subscriber
// agree on addressing without any shared registry.
const exchangeName = "chat.events"

// AMQPTransport implements Transport over RabbitMQ. Each subscribed
// channel gets an exclusive auto-delete queue bound to the topic
// exchange with the channel name as routing key; the event name rides in
// the AMQP Type property. A reconnect loop redials the broker with
// backoff and re-establishes every live subscription, so consumers only
// ever observe the Channel contract.
type AMQPTransport struct {
	url string

	mu     sync.Mutex
	conn   *amqp.Connection
	pubCh  *amqp.Channel
	subs   map[string]*amqpChannel
	closed bool
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url string) (*AMQPTransport, error) {
	t := &AMQPTransport{url: url, subs: make(map[string]*amqpChannel)}
	if err := t.connect(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *AMQPTransport) connect() error {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchangeName, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("exchange declare: %w", err)
	}
	t.mu.Lock()
	t.conn = conn
	t.pubCh = ch
	t.mu.Unlock()

	go t.watchClose(conn)
	return nil
}

// watchClose redials after a broker-side disconnect and resubscribes the
// channels that were live when the connection dropped.
func (t *AMQPTransport) watchClose(conn *amqp.Connection) {
	err := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if err == nil {
		return // clean shutdown
	}
	log.Printf("[realtime] amqp connection lost: %v", err)

	backoff := time.Second
	for {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		if cerr := t.connect(); cerr != nil {
			log.Printf("[realtime] amqp reconnect failed: %v; retrying in %s", cerr, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		t.mu.Lock()
		subs := make([]*amqpChannel, 0, len(t.subs))
		for _, s := range t.subs {
			subs = append(subs, s)
		}
		t.mu.Unlock()
		for _, s := range subs {
			if serr := t.startConsumer(s); serr != nil {
				log.Printf("[realtime] resubscribe %s failed: %v", s.name, serr)
			}
		}
		log.Printf("[realtime] amqp reconnected, %d channel(s) restored", len(subs))
		return
	}
}

func (t *AMQPTransport) Subscribe(name string) (Channel, error) {
	t.mu.Lock()
	if sub, ok := t.subs[name]; ok {
		t.mu.Unlock()
		return sub, nil
	}
	sub := newAMQPChannel(name)
	t.subs[name] = sub
	t.mu.Unlock()

	if err := t.startConsumer(sub); err != nil {
		t.mu.Lock()
		delete(t.subs, name)
		t.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// startConsumer declares the subscription queue and launches the
// delivery loop for one channel.
func (t *AMQPTransport) startConsumer(sub *amqpChannel) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("amqp not connected")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("consumer channel: %w", err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, sub.name, exchangeName, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("queue bind: %w", err)
	}
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("consume: %w", err)
	}

	go func() {
		for d := range msgs {
			sub.dispatch(d.Type, d.Body)
		}
		// Delivery channel closes on unsubscribe or connection loss;
		// the reconnect loop restores live subscriptions.
	}()
	sub.setConsumer(ch)
	return nil
}

func (t *AMQPTransport) Unsubscribe(name string) {
	t.mu.Lock()
	sub, ok := t.subs[name]
	if ok {
		delete(t.subs, name)
	}
	t.mu.Unlock()
	if ok {
		sub.closeConsumer()
	}
}

func (t *AMQPTransport) Publish(ctx context.Context, channel, event string, payload []byte) error {
	t.mu.Lock()
	ch := t.pubCh
	t.mu.Unlock()
	if ch == nil {
		return fmt.Errorf("amqp not connected")
	}
	return ch.PublishWithContext(ctx, exchangeName, channel, false, false, amqp.Publishing{
		ContentType: "application/json",
		Type:        event,
		Timestamp:   time.Now().UTC(),
		Body:        payload,
	})
}

func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.pubCh = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// amqpChannel carries the bindings of one subscribed channel. Dispatch
// runs on the consumer goroutine, so per-channel handler order matches
// broker delivery order.
type amqpChannel struct {
	name     string
	mu       sync.Mutex
	handlers map[string][]Handler
	catchAll []EventHandler
	consumer *amqp.Channel
}

func newAMQPChannel(name string) *amqpChannel {
	return &amqpChannel{name: name, handlers: make(map[string][]Handler)}
}

func (c *amqpChannel) Name() string { return c.name }

func (c *amqpChannel) Bind(event string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

func (c *amqpChannel) Unbind(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *amqpChannel) UnbindAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = make(map[string][]Handler)
	c.catchAll = nil
}

func (c *amqpChannel) BindAll(h EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catchAll = append(c.catchAll, h)
}

func (c *amqpChannel) dispatch(event string, payload []byte) {
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

func (c *amqpChannel) setConsumer(ch *amqp.Channel) {
	c.mu.Lock()
	prev := c.consumer
	c.consumer = ch
	c.mu.Unlock()
	if prev != nil {
		prev.Close()
	}
}

func (c *amqpChannel) closeConsumer() {
	c.mu.Lock()
	ch := c.consumer
	c.consumer = nil
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}
