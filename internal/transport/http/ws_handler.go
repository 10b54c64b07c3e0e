package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"trivia-match-service/internal/app"
	"trivia-match-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	// cleanupTimeout bounds disconnect handling after the socket is gone.
	cleanupTimeout = 5 * time.Second
)

// genericFailure is shown to clients for anything that is not a validation error.
const genericFailure = "operation failed"

type WSHandler struct {
	registry *app.Registry
	hub      *Hub
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(registry *app.Registry, hub *Hub, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		registry: registry,
		hub:      hub,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID  string `json:"questionId"`
	AnswerIndex *int   `json:"answerIndex"`
}

// ServeWS upgrades HTTP requests to websockets and binds the connection to one match channel.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("matchId")
	userID := r.URL.Query().Get("userId")
	if matchID == "" || userID == "" {
		http.Error(w, "missing matchId or userId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	initial, err := h.registry.GetOrLoad(ctx, matchID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: clientMessage(err)}})
		return
	}

	log := h.logger.With(zap.String("matchId", matchID), zap.String("userId", userID))
	updates, cancel := h.hub.Subscribe(matchID, userID)
	defer h.handleDisconnect(matchID, userID, log)
	defer cancel()

	send := make(chan outboundMessage[any], subscriberBuffer)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(msg); err != nil {
					log.Debug("ws write failed", zap.Error(err))
					// unblock the reader so the connection winds down
					_ = conn.Close()
					drain(send)
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					drain(send)
					return
				}
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- update:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "match", Payload: initial}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("ws read failed", zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		if reply, ok := h.dispatch(ctx, matchID, userID, inbound, log); ok {
			send <- reply
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

// dispatch runs one client intent. State changes reach the client through the hub;
// the returned message, if any, is addressed to the caller only.
func (h *WSHandler) dispatch(ctx context.Context, matchID, userID string, in inboundMessage, log *zap.Logger) (outboundMessage[any], bool) {
	var err error
	switch in.Type {
	case "join":
		_, err = h.registry.Join(ctx, matchID, userID)
	case "leave":
		_, err = h.registry.Leave(ctx, matchID, userID)
	case "start":
		_, err = h.registry.Start(ctx, matchID)
	case "answer":
		var payload answerPayload
		if jsonErr := json.Unmarshal(in.Payload, &payload); jsonErr != nil || payload.AnswerIndex == nil {
			return errorMessage("invalid answer payload"), true
		}
		move := domain.Move{QuestionID: payload.QuestionID, AnswerIndex: *payload.AnswerIndex}
		if _, err = h.registry.ApplyAnswer(ctx, matchID, userID, move); err != nil {
			log.Debug("answer rejected", zap.Error(err))
			h.hub.PublishError(matchID, userID, clientMessage(err))
		}
		return outboundMessage[any]{}, false
	default:
		return errorMessage("unsupported message type"), true
	}
	if err != nil {
		log.Debug("intent rejected", zap.String("type", in.Type), zap.Error(err))
		return errorMessage(clientMessage(err)), true
	}
	return outboundMessage[any]{}, false
}

// handleDisconnect ends an in-progress match when the last connection of a seated player drops.
func (h *WSHandler) handleDisconnect(matchID, userID string, log *zap.Logger) {
	if h.hub.Online(matchID, userID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	snap, err := h.registry.GetOrLoad(ctx, matchID)
	if err != nil || snap.Status != domain.StatusInProgress || !snap.HasPlayer(userID) {
		return
	}
	var remaining string
	for _, p := range snap.Players {
		if p != userID {
			remaining = p
		}
	}
	log.Info("player disconnected from running match", zap.String("remaining", remaining))
	h.registry.EndByDisconnect(ctx, matchID, userID, remaining)
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

// clientMessage maps err to the text shown to clients. Validation and not-found errors
// are surfaced verbatim; dependency failures are not.
func clientMessage(err error) string {
	if errors.Is(err, domain.ErrMatchNotFound) {
		return domain.ErrMatchNotFound.Error()
	}
	if domain.IsValidation(err) {
		return err.Error()
	}
	return genericFailure
}

func drain(ch <-chan outboundMessage[any]) {
	go func() {
		for range ch {
		}
	}()
}
