package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go-crash/internal/event"
	"go-crash/internal/lib/logger/sl"
	"golang.org/x/exp/slog"
)

// subscribeRequest is the only message clients may send: a request to join
// a channel. Client payloads are never rebroadcast.
type subscribeRequest struct {
	Channel string `json:"channel"`
}

type Subscription struct {
	Conn    *websocket.Conn
	Channel string
}

// Observer sees every inbound client message with its arrival time. Used
// for connection pattern scoring; observing never rejects a message.
type Observer interface {
	Observe(remoteAddr string, at time.Time)
}

type Hub struct {
	Channels    map[string]map[*websocket.Conn]bool
	Broadcast   chan event.Message
	Subscribe   chan Subscription
	Unsubscribe chan *websocket.Conn
	observer    Observer
	mutex       sync.RWMutex
	log         *slog.Logger
}

func NewHub(log *slog.Logger, observer Observer) *Hub {
	return &Hub{
		Channels:    make(map[string]map[*websocket.Conn]bool),
		Broadcast:   make(chan event.Message, 64),
		Subscribe:   make(chan Subscription),
		Unsubscribe: make(chan *websocket.Conn),
		observer:    observer,
		log:         log,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func (hub *Hub) run() {
	for {
		select {
		case sub := <-hub.Subscribe:
			hub.mutex.Lock()
			if hub.Channels[sub.Channel] == nil {
				hub.Channels[sub.Channel] = make(map[*websocket.Conn]bool)
			}
			hub.Channels[sub.Channel][sub.Conn] = true
			hub.mutex.Unlock()
		case conn := <-hub.Unsubscribe:
			hub.mutex.Lock()
			for _, receivers := range hub.Channels {
				delete(receivers, conn)
			}
			hub.mutex.Unlock()
		case message := <-hub.Broadcast:
			hub.deliver(message)
		}
	}
}

func (hub *Hub) deliver(message event.Message) {
	data, err := json.Marshal(message)
	if err != nil {
		hub.log.Error("failed to marshal message", sl.Err(err))

		return
	}

	hub.mutex.RLock()
	receivers := hub.Channels[message.Channel]
	conns := make([]*websocket.Conn, 0, len(receivers))
	for conn := range receivers {
		conns = append(conns, conn)
	}
	hub.mutex.RUnlock()

	for _, conn := range conns {
		if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
			hub.log.Error("failed to write message", sl.Err(err))
		}
	}
}

// TriggerEvent feeds a message into the broadcast loop, so the hub can sit
// behind the same Notifier interface as the hosted transport.
func (hub *Hub) TriggerEvent(message event.Message) error {
	hub.Broadcast <- message

	return nil
}

func (hub *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.Error("failed to upgrade connection", sl.Err(err))

		return
	}

	defer func() {
		hub.Unsubscribe <- ws

		if err = ws.Close(); err != nil {
			hub.log.Error("failed to close connection", sl.Err(err))
		}
	}()

	for {
		_, p, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				hub.log.Error("failed to read message", sl.Err(err))
			}

			return
		}

		if hub.observer != nil {
			hub.observer.Observe(r.RemoteAddr, time.Now())
		}

		var req subscribeRequest

		if err = json.Unmarshal(p, &req); err != nil {
			hub.log.Warn("ignoring malformed client message", sl.Err(err))

			continue
		}

		if req.Channel == "" {
			continue
		}

		hub.Subscribe <- Subscription{Conn: ws, Channel: req.Channel}
	}
}

func (hub *Hub) RunServer() {
	go hub.run()
}
