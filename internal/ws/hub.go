package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Message types published on the ops feed.
const (
	MessageTurnProcessed  = "TurnProcessed"
	MessageDeliveryStatus = "DeliveryStatus"
)

const broadcastBuffer = 256

// Envelope is the JSON frame sent to feed clients.
type Envelope struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

type broadcastMessage struct {
	topic   string
	payload []byte
}

// Hub fans ops events out to connected clients. Publishing never blocks:
// when the hub is backed up the event is dropped and counted.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMessage
	done       chan struct{}
	dropped    atomic.Int64
	now        func() time.Time
}

// NewHub builds a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMessage, broadcastBuffer),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run starts the hub loop and returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			return
		case client := <-h.register:
			h.clients[client] = true
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				if !client.Wants(message.topic) {
					continue
				}
				select {
				case client.Send <- message.payload:
				default:
					delete(h.clients, client)
					close(client.Send)
				}
			}
		}
	}
}

// Publish wraps data in an Envelope and queues it for every client
// subscribed to messageType.
func (h *Hub) Publish(messageType string, data any) error {
	payload, err := json.Marshal(Envelope{Type: messageType, Timestamp: h.now().UTC(), Data: data})
	if err != nil {
		return err
	}
	h.BroadcastTopic(messageType, payload)
	return nil
}

// BroadcastTopic queues a raw payload for clients subscribed to topic.
func (h *Hub) BroadcastTopic(topic string, payload []byte) {
	select {
	case h.broadcast <- broadcastMessage{topic: topic, payload: payload}:
	default:
		h.dropped.Add(1)
	}
}

// Dropped reports how many events were discarded because the hub was full.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Register adds a client to the hub. It is a no-op once the hub stopped.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Client represents a websocket connection.
type Client struct {
	Conn   *websocket.Conn
	Hub    *Hub
	Send   chan []byte
	mu     sync.RWMutex
	topics map[string]bool
}

// NewClient returns a client ready for registration. A client with no
// subscriptions receives every topic.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Conn:   conn,
		Hub:    hub,
		Send:   make(chan []byte, 256),
		topics: make(map[string]bool),
	}
}

// SubscribeTopic limits the client to the given topics.
func (c *Client) SubscribeTopic(topic string) {
	c.mu.Lock()
	c.topics[topic] = true
	c.mu.Unlock()
}

// UnsubscribeTopic removes a topic.
func (c *Client) UnsubscribeTopic(topic string) {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
}

// Wants reports whether the client should receive topic.
func (c *Client) Wants(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.topics) == 0 || c.topics[topic]
}
