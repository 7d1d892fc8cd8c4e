// SPDX-License-Identifier: MIT
package transport

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"beatline/internal/event"
	applog "beatline/internal/log"
	"beatline/internal/rhythm"
)

const writeTimeout = 5 * time.Second

// envelope frames every hub message so consumers can demux a single
// socket by type.
type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub broadcasts rhythm events to WebSocket subscribers on /events. Slow
// consumers never stall the engine: the broadcast queue drops when full
// and a failed write evicts the client.
type Hub struct {
	addr     string
	upgrader websocket.Upgrader

	mu         sync.Mutex
	clients    map[string]*websocket.Conn
	listenAddr string

	broadcast chan []byte
	done      chan struct{}
	server    *http.Server
	wg        sync.WaitGroup
	stopOnce  sync.Once

	dispose []func()
}

// NewHub builds a hub for addr and subscribes it to the bus. Nothing
// listens until Start.
func NewHub(addr string, bus *event.Bus) *Hub {
	h := &Hub{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:   make(map[string]*websocket.Conn),
		broadcast: make(chan []byte, 256),
		done:      make(chan struct{}),
	}
	h.dispose = append(h.dispose,
		bus.OnBeat(func(ev rhythm.BeatEvent) { h.publish("beat", ev) }),
		bus.OnEnergy(func(p rhythm.EnergyPayload) { h.publish("energy", p) }),
		bus.OnStateChange(func(sc rhythm.StateChange) { h.publish("state", sc) }),
		bus.OnError(func(ev rhythm.ErrorEvent) { h.publish("error", ev) }),
	)
	return h
}

// Start binds the listener and serves /events until Close. Bind failures
// surface here, not in the serve goroutine.
func (h *Hub) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("websocket hub listen %q: %w", h.addr, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", h.handleEvents)
	h.server = &http.Server{Handler: mux}

	h.mu.Lock()
	h.listenAddr = ln.Addr().String()
	h.mu.Unlock()

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		applog.Infof("Transport: websocket hub listening on ws://%s/events", ln.Addr())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			applog.Errorf("Transport: websocket server: %v", err)
		}
	}()
	go h.broadcastLoop()
	return nil
}

// Addr reports the bound address, empty before Start. With a ":0" addr
// this is the only way to learn the port.
func (h *Hub) Addr() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.listenAddr
}

// ClientCount reports connected subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		applog.Errorf("Transport: websocket upgrade: %v", err)
		return
	}

	id := uuid.NewString()
	h.mu.Lock()
	h.clients[id] = conn
	total := len(h.clients)
	h.mu.Unlock()
	applog.Infof("Transport: client %s connected (%d total)", id, total)

	// The hub never reads application data; the read pump only notices
	// the disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		h.mu.Lock()
		if _, ok := h.clients[id]; ok {
			delete(h.clients, id)
			conn.Close()
		}
		total := len(h.clients)
		h.mu.Unlock()
		applog.Infof("Transport: client %s disconnected (%d total)", id, total)
	}()
}

func (h *Hub) broadcastLoop() {
	defer h.wg.Done()
	for {
		select {
		case msg := <-h.broadcast:
			h.mu.Lock()
			for id, conn := range h.clients {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					applog.Warnf("Transport: evicting client %s: %v", id, err)
					conn.Close()
					delete(h.clients, id)
				}
			}
			h.mu.Unlock()
		case <-h.done:
			return
		}
	}
}

// publish frames and queues one event. Queue overflow drops the event so
// the publishing tick never blocks on the network.
func (h *Hub) publish(kind string, data any) {
	msg, err := json.Marshal(envelope{Type: kind, Data: data})
	if err != nil {
		applog.Errorf("Transport: marshal %s event: %v", kind, err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
	}
}

// Close unsubscribes from the bus, drops every client and shuts the
// server down. Safe to call more than once.
func (h *Hub) Close() error {
	var err error
	h.stopOnce.Do(func() {
		for _, d := range h.dispose {
			d()
		}
		close(h.done)

		h.mu.Lock()
		for id, conn := range h.clients {
			conn.Close()
			delete(h.clients, id)
		}
		h.mu.Unlock()

		if h.server != nil {
			err = h.server.Close()
		}
		h.wg.Wait()
		applog.Infof("Transport: websocket hub closed")
	})
	return err
}
