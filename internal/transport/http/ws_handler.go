package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/room"
)

// QuestionBank resolves question sets for new rooms and sessions.
type QuestionBank interface {
	QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// WSHandler runs the live-competition websocket protocol. One connection is
// one participant in one room.
type WSHandler struct {
	coordinator *room.Coordinator
	bank        QuestionBank
	window      time.Duration
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler wires the coordinator and question bank into the websocket
// surface. window is the answer window used when the host does not pick one;
// zero falls back to room.DefaultWindow.
func NewWSHandler(coordinator *room.Coordinator, bank QuestionBank, window time.Duration, logger *slog.Logger) *WSHandler {
	if window <= 0 {
		window = room.DefaultWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		coordinator: coordinator,
		bank:        bank,
		window:      window,
		logger:      logger,
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
	Option int `json:"option"`
}

type startPayload struct {
	WindowSeconds int `json:"windowSeconds"`
}

type joinedPayload struct {
	RoomID     string            `json:"roomId"`
	Host       bool              `json:"host"`
	Scoreboard domain.Scoreboard `json:"scoreboard"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the connection into a room. A
// questionSetId query parameter opens a new room with the caller as host;
// roomId joins an existing one.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	setID := r.URL.Query().Get("questionSetId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if userID == "" || displayName == "" || (roomID == "" && setID == "") {
		http.Error(w, "missing userId, name, and one of roomId or questionSetId", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	rm, host, err := h.resolveRoom(r.Context(), roomID, setID, userID, displayName)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	joined, err := rm.Join(userID, displayName)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}

	updates, cancel, err := rm.Subscribe()
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer rm.Leave(userID)

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.logger.Debug("ws write error", "error", err)
				return
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		lastRound := joined.Round
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					select {
					case send <- outboundMessage[any]{Type: "closed", Payload: nil}:
					case <-closeSignals:
					}
					return
				}
				// a new active round means a fresh question is in flight
				if update.Phase == domain.RoomActive && update.Round != lastRound {
					lastRound = update.Round
					if view, err := rm.CurrentQuestion(); err == nil {
						select {
						case send <- outboundMessage[any]{Type: "question", Payload: view}:
						case <-closeSignals:
							return
						}
					}
				}
				select {
				case send <- outboundMessage[any]{Type: "scoreboard", Payload: update}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: joinedPayload{
		RoomID:     rm.ID(),
		Host:       host,
		Scoreboard: joined,
	}}

	h.readLoop(conn, rm, userID, send)

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}

func (h *WSHandler) readLoop(conn *websocket.Conn, rm *room.Room, userID string, send chan outboundMessage[any]) {
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			return
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}}
				continue
			}
			result, err := rm.SubmitAnswer(userID, payload.Option)
			if err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				continue
			}
			send <- outboundMessage[any]{Type: "answer_result", Payload: result}
		case "start":
			var payload startPayload
			if len(inbound.Payload) > 0 {
				if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
					send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid start payload"}}
					continue
				}
			}
			window := h.window
			if payload.WindowSeconds > 0 {
				window = time.Duration(payload.WindowSeconds) * time.Second
			}
			if _, err := rm.StartQuestion(userID, window); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		case "end":
			if err := rm.End(userID); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
			}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}
}

func (h *WSHandler) resolveRoom(ctx context.Context, roomID, setID, userID, displayName string) (*room.Room, bool, error) {
	if roomID != "" {
		rm, err := h.coordinator.Get(roomID)
		if err != nil {
			return nil, false, err
		}
		return rm, rm.HostID() == userID, nil
	}
	set, err := h.bank.QuestionSet(ctx, setID)
	if err != nil {
		return nil, false, err
	}
	rm, err := h.coordinator.Open(ctx, userID, displayName, set)
	if err != nil {
		return nil, false, err
	}
	return rm, true, nil
}
