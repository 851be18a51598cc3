// Package wsbridge exposes the commission protocol and the
// property-change event bus to an out-of-process coordinator over
// a websocket connection, for a remote (e.g. browser-hosted) viewer.
//
// Grounded directly on OcupointInc-QC_Software/server.go: the Client
// struct, its buffered send channel and writePump goroutine, and the
// upgrade handler's register/defer-unregister pattern are carried over
// verbatim in shape; only the payload (commission/response/event JSON
// envelopes instead of raw IQ frames) and the broadcast fan-out source
// (PropertyBus instead of a fixed device poll loop) differ. Inbound
// commission payloads are decoded with segmentio/encoding/json, a
// drop-in faster replacement for encoding/json also present in the
// retrieval pack.
package wsbridge

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/segmentio/encoding/json"

	"epicurrents.dev/core/events"
	"epicurrents.dev/core/service"
)

// envelope is the wire shape for every message the bridge sends: a
// commission response or a mirrored property-change event.
type envelope struct {
	Type     string           `json:"type"` // "response" | "event"
	Response *service.Response `json:"response,omitempty"`
	Event    *events.Event     `json:"event,omitempty"`
}

// inbound is the wire shape for a commission sent by a remote client.
type inbound struct {
	Action  string `json:"action"`
	Payload any    `json:"payload"`
}

// Client is one connected remote coordinator.
type Client struct {
	conn *websocket.Conn
	send chan envelope
	log  zerolog.Logger
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// Bridge fans commissions from remote clients into a service.Service and
// mirrors that service's PropertyBus events back out to every client.
type Bridge struct {
	svc      *service.Service
	bus      *events.PropertyBus
	log      zerolog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
}

// New builds a Bridge. It mirrors no bus events until MirrorProperty is
// called for each property to forward.
func New(svc *service.Service, bus *events.PropertyBus, log zerolog.Logger) *Bridge {
	return &Bridge{
		svc:     svc,
		bus:     bus,
		log:     log,
		clients: map[*Client]bool{},
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 65536,
		},
	}
}

// MirrorProperty subscribes the bridge to a property so every change is
// broadcast to connected clients as an "event" envelope.
func (b *Bridge) MirrorProperty(property string) {
	b.bus.Subscribe(property, "wsbridge", func(e events.Event) {
		b.broadcast(envelope{Type: "event", Event: &e})
	})
}

// ServeHTTP upgrades the connection and runs the client's read/write
// pumps until it disconnects.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("wsbridge: upgrade failed")
		return
	}

	client := &Client{conn: conn, send: make(chan envelope, 256), log: b.log}

	b.mu.Lock()
	b.clients[client] = true
	b.mu.Unlock()

	go client.writePump()
	defer func() {
		b.mu.Lock()
		delete(b.clients, client)
		b.mu.Unlock()
		close(client.send)
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			b.log.Warn().Err(err).Msg("wsbridge: malformed commission")
			continue
		}
		go b.handle(client, in)
	}
}

func (b *Bridge) handle(client *Client, in inbound) {
	resp, err := b.svc.Send(context.Background(), in.Action, in.Payload)
	if err != nil {
		resp = service.Response{Action: in.Action, Success: false, Reason: err.Error()}
	}
	select {
	case client.send <- envelope{Type: "response", Response: &resp}:
	default:
		// slow client; drop rather than block the bridge, matching the
		// teacher's own broadcast-with-drop frame loop.
	}
}

// broadcast sends msg to every connected client, dropping it for any
// client whose send buffer is full instead of blocking.
func (b *Bridge) broadcast(msg envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}
