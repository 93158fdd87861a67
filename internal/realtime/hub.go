package realtime

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat, in seconds.
	PingInterval = 30
	PongWait     = 60
)

// Hub maintains topic -> set of connections. Each topic with at least one
// local client holds one broker subscription; every message, including ones
// published by this instance, reaches clients through that subscription.
type Hub struct {
	topics map[string]map[string]*Client
	subs   map[string]func()
	mu     sync.RWMutex
	broker Broker
	logger *zap.Logger
}

// NewHub creates a new WebSocket hub fed by broker.
func NewHub(broker Broker, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		topics: make(map[string]map[string]*Client),
		subs:   make(map[string]func()),
		broker: broker,
		logger: logger,
	}
}

// Register adds a client to each of its topics, subscribing to the broker for
// topics that had no local listener yet.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, topic := range c.Topics {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[string]*Client)
			cancel, err := h.broker.Subscribe(topic, func(msg Message) { h.Broadcast(msg) })
			if err != nil {
				h.logger.Warn("topic subscribe failed", zap.String("topic", topic), zap.Error(err))
			} else {
				h.subs[topic] = cancel
			}
		}
		h.topics[topic][c.ID] = c
	}
	h.logger.Debug("client joined", zap.String("client_id", c.ID), zap.Strings("topics", c.Topics))
}

// Unregister removes a client. The broker subscription of a topic is cancelled
// when its last client leaves.
func (h *Hub) Unregister(c *Client) {
	var cancels []func()
	h.mu.Lock()
	for _, topic := range c.Topics {
		m, ok := h.topics[topic]
		if !ok {
			continue
		}
		delete(m, c.ID)
		if len(m) == 0 {
			delete(h.topics, topic)
			if cancel, ok := h.subs[topic]; ok {
				cancels = append(cancels, cancel)
				delete(h.subs, topic)
			}
		}
	}
	h.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	h.logger.Debug("client left", zap.String("client_id", c.ID))
}

// Broadcast sends msg to local clients of msg.Topic. Slow clients whose
// buffer is full miss the message.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.topics[msg.Topic]))
	for _, c := range h.topics[msg.Topic] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, dropping", zap.String("client_id", c.ID), zap.String("event", msg.Event))
		}
	}
}

// ListenerCount returns the number of local clients on topic.
func (h *Hub) ListenerCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}
