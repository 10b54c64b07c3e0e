package http

import (
	"sync"

	"trivia-match-service/internal/domain"
)

// subscriberBuffer bounds how far a slow client may lag before old events are dropped.
const subscriberBuffer = 16

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type matchErrorPayload struct {
	PlayerID     string `json:"playerId"`
	ErrorMessage string `json:"errorMessage"`
}

type subscriber struct {
	user string
	ch   chan outboundMessage[any]
}

// Hub fans match events out to every connection subscribed to a match channel.
// It doubles as the presence directory: a user is online for a match while
// at least one of their connections is subscribed.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*subscriber]struct{})}
}

// Subscribe registers a connection for matchID. The caller must invoke cancel to avoid leaks.
func (h *Hub) Subscribe(matchID, user string) (<-chan outboundMessage[any], func()) {
	sub := &subscriber{user: user, ch: make(chan outboundMessage[any], subscriberBuffer)}

	h.mu.Lock()
	subs, ok := h.channels[matchID]
	if !ok {
		subs = make(map[*subscriber]struct{})
		h.channels[matchID] = subs
	}
	subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			subs := h.channels[matchID]
			delete(subs, sub)
			if len(subs) == 0 {
				delete(h.channels, matchID)
			}
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// PublishMatch sends the public snapshot to the match channel.
func (h *Hub) PublishMatch(matchID string, snapshot domain.MatchSnapshot) {
	h.publish(matchID, outboundMessage[any]{Type: "match", Payload: snapshot})
}

// PublishError sends a match-level error attributed to player to the match channel.
func (h *Hub) PublishError(matchID, player, message string) {
	h.publish(matchID, outboundMessage[any]{
		Type:    "matchError",
		Payload: matchErrorPayload{PlayerID: player, ErrorMessage: message},
	})
}

// Online reports whether user has any live connection subscribed to matchID.
func (h *Hub) Online(matchID, user string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.channels[matchID] {
		if sub.user == user {
			return true
		}
	}
	return false
}

// Subscribers returns the number of connections on matchID.
func (h *Hub) Subscribers(matchID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[matchID])
}

func (h *Hub) publish(matchID string, msg outboundMessage[any]) {
	// Full write lock: the drop-oldest step must not race with another publisher.
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.channels[matchID] {
		select {
		case sub.ch <- msg:
		default:
			// drop the oldest update so a slow client never blocks the match
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- msg
		}
	}
}
