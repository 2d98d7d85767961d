package http

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"examprep-sync-service/internal/app"
)

// RoomHandler bridges exam-room websocket connections onto the room
// use cases. The connection lifetime doubles as the liveness signal: the
// deferred disconnect resolution registered at join fires when the read
// loop ends, and a successful submission disarms it first.
type RoomHandler struct {
	service  *app.RoomService
	upgrader websocket.Upgrader
}

func NewRoomHandler(service *app.RoomService) *RoomHandler {
	return &RoomHandler{
		service: service,
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

type progressPayload struct {
	CurrentIndex    int    `json:"currentIndex"`
	TimeLeftSeconds int    `json:"timeLeftSeconds"`
	LiveScore       int    `json:"liveScore"`
	Seq             uint64 `json:"seq"`
}

type submitPayload struct {
	Score int `json:"score"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and wires them into an exam room.
func (h *RoomHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("roomId")
	userID := r.URL.Query().Get("userId")
	displayName := r.URL.Query().Get("name")
	if roomID == "" || userID == "" || displayName == "" {
		http.Error(w, "missing roomId, userId, or name", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	joined, err := h.service.Join(r.Context(), roomID, userID, displayName)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	// The deferred disconnect write: executed when the connection ends
	// however it ends; a no-op once submission disarmed it.
	defer h.service.Release(roomID)
	defer h.service.ResolveDisconnect(r.Context(), roomID, userID)

	updates, cancel, err := h.service.Subscribe(r.Context(), roomID)
	if err != nil {
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	// Once the writer dies, outbound messages are dropped instead of queued:
	// a full send channel with no consumer would otherwise block the read
	// loop before it could reach its own read error.
	enqueue := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case update, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "roster", Payload: update}:
				case <-writerDone:
					return
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	enqueue(outboundMessage[any]{Type: "joined", Payload: joined})

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "progress":
			var payload progressPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid progress payload"}})
				continue
			}
			// Fire-and-forget from the client's viewpoint; ordering is
			// enforced by the sequence number inside the room.
			if _, err := h.service.PushProgress(r.Context(), roomID, userID, app.Progress{
				CurrentIndex:    payload.CurrentIndex,
				TimeLeftSeconds: payload.TimeLeftSeconds,
				LiveScore:       payload.LiveScore,
				Seq:             payload.Seq,
			}); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
			}
		case "submit":
			var payload submitPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid submit payload"}})
				continue
			}
			roster, err := h.service.Submit(r.Context(), roomID, userID, payload.Score)
			if err != nil {
				enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}})
				continue
			}
			enqueue(outboundMessage[any]{Type: "submitted", Payload: roster})
		default:
			enqueue(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
