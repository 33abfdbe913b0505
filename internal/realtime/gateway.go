package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ryokun6/chatsync/internal/model"
	"github.com/ryokun6/chatsync/internal/repository"
)

const (
	gwWriteWait      = 10 * time.Second
	gwPongWait       = 90 * time.Second
	gwPingPeriod     = 30 * time.Second
	gwMaxMessageSize = 4096
	gwSendBuffer     = 64
)

// subscribeFrame is what a websocket client sends to manage its
// channel set. Auth carries a channel grant for channels the connection
// does not implicitly own.
type subscribeFrame struct {
	Action  string `json:"action"` // subscribe | unsubscribe
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

// eventFrame is what the gateway writes back to subscribers.
type eventFrame struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// TokenChecker validates the optional identity a connection presents,
// without extending the session (a gateway handshake is a read, not
// user activity).
type TokenChecker interface {
	Exists(ctx context.Context, identity, token string) bool
}

// Gateway bridges the broker-side transport to browsers, which cannot
// speak AMQP. Each connection manages its own channel set; the gateway
// holds one transport subscription per distinct channel and fans events
// out to the connections subscribed to it. Room-channel subscriptions of
// authenticated connections feed the per-room presence sets.
type Gateway struct {
	transport Transport
	rooms     *repository.RoomRepo
	checker   TokenChecker
	secret    string

	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]*gatewaySub
}

type gatewaySub struct {
	ch    Channel
	conns map[*gatewayConn]struct{}
}

type gatewayConn struct {
	sock     *websocket.Conn
	send     chan eventFrame
	username string
	channels map[string]struct{}
}

func NewGateway(t Transport, rooms *repository.RoomRepo, checker TokenChecker, secret string) *Gateway {
	return &Gateway{
		transport: t,
		rooms:     rooms,
		checker:   checker,
		secret:    secret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		subs: make(map[string]*gatewaySub),
	}
}

// Handle upgrades the request and runs the connection until it closes.
// Identity is optional (`username` and `token` query parameters);
// anonymous connections may still subscribe to public channels.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	username := strings.ToLower(r.URL.Query().Get("username"))
	token := r.URL.Query().Get("token")
	if username != "" && !g.checker.Exists(r.Context(), username, token) {
		username = "" // downgrade to anonymous rather than rejecting
	}

	sock, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] upgrade failed: %v", err)
		return
	}
	conn := &gatewayConn{
		sock:     sock,
		send:     make(chan eventFrame, gwSendBuffer),
		username: username,
		channels: make(map[string]struct{}),
	}
	go g.writePump(conn)
	g.readPump(conn)
}

func (g *Gateway) readPump(conn *gatewayConn) {
	defer g.drop(conn)
	conn.sock.SetReadLimit(gwMaxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(gwPongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(gwPongWait))
	})
	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		var frame subscribeFrame
		if json.Unmarshal(raw, &frame) != nil || frame.Channel == "" {
			continue
		}
		switch frame.Action {
		case "subscribe":
			g.subscribe(conn, frame)
		case "unsubscribe":
			g.unsubscribe(conn, frame.Channel)
		}
	}
}

func (g *Gateway) writePump(conn *gatewayConn) {
	ticker := time.NewTicker(gwPingPeriod)
	defer func() {
		ticker.Stop()
		conn.sock.Close()
	}()
	for {
		select {
		case frame, ok := <-conn.send:
			_ = conn.sock.SetWriteDeadline(time.Now().Add(gwWriteWait))
			if !ok {
				_ = conn.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.sock.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.sock.SetWriteDeadline(time.Now().Add(gwWriteWait))
			if err := conn.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// allowed decides whether the connection may join the channel: public
// channels are open, a user's own global channel follows from the
// authenticated identity, everything else needs a valid grant.
func (g *Gateway) allowed(conn *gatewayConn, frame subscribeFrame) bool {
	name := frame.Channel
	if name == PublicGlobalChannel {
		return true
	}
	if conn.username != "" && name == GlobalChannel(conn.username) {
		return true
	}
	if roomID, ok := RoomIDFromChannel(name); ok {
		room, err := g.rooms.Get(context.Background(), roomID)
		if err == nil && room.Type == model.RoomPublic {
			return true
		}
	}
	granted, err := VerifyChannelGrant(g.secret, frame.Auth, name)
	return err == nil && (conn.username == "" || granted == conn.username)
}

func (g *Gateway) subscribe(conn *gatewayConn, frame subscribeFrame) {
	if !g.allowed(conn, frame) {
		return
	}
	name := frame.Channel

	g.mu.Lock()
	if _, dup := conn.channels[name]; dup {
		g.mu.Unlock()
		return
	}
	sub, ok := g.subs[name]
	if !ok {
		ch, err := g.transport.Subscribe(name)
		if err != nil {
			g.mu.Unlock()
			log.Printf("[gateway] transport subscribe %s failed: %v", name, err)
			return
		}
		sub = &gatewaySub{ch: ch, conns: make(map[*gatewayConn]struct{})}
		g.subs[name] = sub
		ch.BindAll(func(event string, payload []byte) { g.fanOut(name, event, payload) })
	}
	sub.conns[conn] = struct{}{}
	conn.channels[name] = struct{}{}
	g.mu.Unlock()

	g.trackPresence(conn, name, true)
}

func (g *Gateway) unsubscribe(conn *gatewayConn, name string) {
	g.mu.Lock()
	if _, ok := conn.channels[name]; !ok {
		g.mu.Unlock()
		return
	}
	delete(conn.channels, name)
	g.releaseLocked(conn, name)
	g.mu.Unlock()

	g.trackPresence(conn, name, false)
}

// releaseLocked detaches the connection from a channel's fan-out and
// drops the transport subscription once nobody listens. Callers hold mu.
func (g *Gateway) releaseLocked(conn *gatewayConn, name string) {
	sub, ok := g.subs[name]
	if !ok {
		return
	}
	delete(sub.conns, conn)
	if len(sub.conns) == 0 {
		sub.ch.UnbindAll()
		g.transport.Unsubscribe(name)
		delete(g.subs, name)
	}
}

// fanOut forwards one delivered event to every connection subscribed to
// the channel. Connections with a full send buffer miss the frame; they
// reconcile on their next fetch rather than stalling the fan-out.
func (g *Gateway) fanOut(name, event string, payload []byte) {
	frame := eventFrame{Channel: name, Event: event, Data: append(json.RawMessage(nil), payload...)}
	g.mu.Lock()
	defer g.mu.Unlock()
	sub := g.subs[name]
	if sub == nil {
		return
	}
	// Non-blocking sends under the lock: conn.send is only closed while
	// the lock is held, and a full buffer drops the frame instead of
	// stalling the fan-out.
	for c := range sub.conns {
		select {
		case c.send <- frame:
		default:
			log.Printf("[gateway] dropping %s for slow subscriber on %s", event, name)
		}
	}
}

// trackPresence maintains the per-room presence set for authenticated
// subscribers of room channels.
func (g *Gateway) trackPresence(conn *gatewayConn, channel string, joined bool) {
	if conn.username == "" {
		return
	}
	roomID, ok := RoomIDFromChannel(channel)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var err error
	if joined {
		err = g.rooms.AddPresence(ctx, roomID, conn.username)
	} else {
		err = g.rooms.RemovePresence(ctx, roomID, conn.username)
	}
	if err != nil {
		log.Printf("[gateway] presence update for %s failed: %v", roomID, err)
	}
}

// drop tears down a closed connection: every channel is released and the
// presence entries are cleared.
func (g *Gateway) drop(conn *gatewayConn) {
	g.mu.Lock()
	channels := make([]string, 0, len(conn.channels))
	for name := range conn.channels {
		channels = append(channels, name)
		g.releaseLocked(conn, name)
	}
	conn.channels = make(map[string]struct{})
	close(conn.send)
	g.mu.Unlock()

	for _, name := range channels {
		g.trackPresence(conn, name, false)
	}
}
