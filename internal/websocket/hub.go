package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/drug-speak/internal/domain"
)

// Message types
const (
	MessageTypeLeaderboardUpdate = "leaderboard_update"
	MessageTypeRecordUpdate      = "record_update"
	MessageTypeSubscribe         = "subscribe"
	MessageTypeUnsubscribe       = "unsubscribe"
	MessageTypeSubscribed        = "subscribed"
	MessageTypeUnsubscribed      = "unsubscribed"
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypeError             = "error"
)

// TopicLeaderboard carries the ranked community leaderboard
const TopicLeaderboard = "leaderboard"

const recordTopicPrefix = "record:"

// RecordTopic returns the topic that carries one user's study record
func RecordTopic(userID string) string {
	return recordTopicPrefix + userID
}

// ValidTopic reports whether clients may subscribe to topic
func ValidTopic(topic string) bool {
	if topic == TopicLeaderboard {
		return true
	}
	id, ok := strings.CutPrefix(topic, recordTopicPrefix)
	return ok && id != ""
}

// Message represents a WebSocket message
type Message struct {
	Type      string    `json:"type"`
	Topic     string    `json:"topic,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeaderboardUpdate is the payload of a leaderboard_update message
type LeaderboardUpdate struct {
	Entries       []domain.LeaderboardEntry `json:"entries"`
	TotalLearners int                       `json:"total_learners"`
}

type subscription struct {
	client *Client
	topic  string
}

// Hub tracks connected clients and fans messages out by topic
type Hub struct {
	topics  map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	mu      sync.RWMutex

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan subscription
	unsubscribe chan subscription

	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		topics:      make(map[string]map[*Client]struct{}),
		clients:     make(map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan subscription, 64),
		unsubscribe: make(chan subscription, 64),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run processes hub events until Stop is called
func (h *Hub) Run() {
	h.logger.Info("websocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("websocket hub stopping")
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.remove(client)

		case sub := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[sub.client]; ok {
				set, ok := h.topics[sub.topic]
				if !ok {
					set = make(map[*Client]struct{})
					h.topics[sub.topic] = set
				}
				set[sub.client] = struct{}{}
			}
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", sub.client.id, "topic", sub.topic)

		case sub := <-h.unsubscribe:
			h.mu.Lock()
			h.dropLocked(sub.client, sub.topic)
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", sub.client.id, "topic", sub.topic)

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// Stop stops the hub and disconnects every client
func (h *Hub) Stop() {
	h.cancel()
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for topic := range h.topics {
		h.dropLocked(client, topic)
	}
	close(client.send)
	h.logger.Debug("client unregistered", "client_id", client.id)
}

// dropLocked removes client from topic. Must be called with mu held.
func (h *Hub) dropLocked(client *Client, topic string) {
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
	}
	clear(h.clients)
	clear(h.topics)
}

// deliver sends a message to the subscribers of its topic, or to every
// client when the topic is empty
func (h *Hub) deliver(message *Message) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	targets := h.clients
	if message.Topic != "" {
		targets = h.topics[message.Topic]
	}
	for client := range targets {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id, "topic", message.Topic)
		}
	}
}

func (h *Hub) publish(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// BroadcastLeaderboard sends the ranked leaderboard to its subscribers
func (h *Hub) BroadcastLeaderboard(entries []domain.LeaderboardEntry, totalLearners int) {
	h.publish(&Message{
		Type:  MessageTypeLeaderboardUpdate,
		Topic: TopicLeaderboard,
		Data: LeaderboardUpdate{
			Entries:       entries,
			TotalLearners: totalLearners,
		},
		Timestamp: time.Now(),
	})
}

// BroadcastRecord sends a user's updated study record to its subscribers
func (h *Hub) BroadcastRecord(record domain.UserStudyRecord) {
	h.publish(&Message{
		Type:      MessageTypeRecordUpdate,
		Topic:     RecordTopic(record.UserID),
		Data:      record,
		Timestamp: time.Now(),
	})
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Subscribe adds a client to a topic
func (h *Hub) Subscribe(client *Client, topic string) {
	select {
	case h.subscribe <- subscription{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// Unsubscribe removes a client from a topic
func (h *Hub) Unsubscribe(client *Client, topic string) {
	select {
	case h.unsubscribe <- subscription{client: client, topic: topic}:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers of a topic
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// ConnectionCount returns the number of connected clients
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stats summarizes the hub for the stats endpoint
type Stats struct {
	Connections            int `json:"connections"`
	LeaderboardSubscribers int `json:"leaderboard_subscribers"`
	Topics                 int `json:"topics"`
}

// Stats returns the current hub statistics
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return Stats{
		Connections:            len(h.clients),
		LeaderboardSubscribers: len(h.topics[TopicLeaderboard]),
		Topics:                 len(h.topics),
	}
}
