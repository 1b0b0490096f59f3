package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"live-classroom-service/internal/app"
	"live-classroom-service/internal/domain"
)

const writeWait = 10 * time.Second

type WSHandler struct {
	service  *app.LiveService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.LiveService, log zerolog.Logger) *WSHandler {
	return &WSHandler{
		service: service,
		log:     log,
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
	QuestionIndex int `json:"questionIndex"`
	OptionIndex   int `json:"optionIndex"`
}

type welcomePayload struct {
	ParticipantID string `json:"participantId"`
	Code          string `json:"code"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func errorFrame(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}

// ServeWS upgrades a participant connection and bridges it to a ParticipantClient.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	participantID := r.URL.Query().Get("participantId")
	displayName := r.URL.Query().Get("name")
	if code == "" || displayName == "" {
		http.Error(w, "missing code or name", http.StatusBadRequest)
		return
	}
	if participantID == "" {
		participantID = uuid.NewString()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := h.log.With().Str("session", code).Str("participant", participantID).Logger()

	client, err := h.service.Connect(ctx, code, participantID)
	if err != nil {
		_ = conn.WriteJSON(errorFrame(err.Error()))
		return
	}
	defer client.Leave()

	if err := client.Join(ctx, displayName); err != nil {
		_ = conn.WriteJSON(errorFrame(err.Error()))
		return
	}

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	push := func(msg outboundMessage[any]) {
		select {
		case send <- msg:
		case <-writerDone:
		}
	}

	// Only the writer goroutine writes frames.
	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("ws write error")
				return
			}
		}
	}()

	push(outboundMessage[any]{Type: "welcome", Payload: welcomePayload{ParticipantID: participantID, Code: code}})

	go func() {
		defer close(updatesDone)
		updates := client.Updates()
		for {
			select {
			case snap, ok := <-updates:
				if !ok {
					if client.Terminated() {
						push(outboundMessage[any]{Type: "disconnect", Payload: struct{}{}})
						// Unblock the reader; queued frames still drain below.
						_ = conn.SetReadDeadline(time.Now())
					}
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "snapshot", Payload: snap}:
				case <-closeSignals:
					return
				case <-writerDone:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				push(errorFrame("invalid answer payload"))
				continue
			}
			if snap, ok := client.Snapshot(); !ok || snap.QuestionIndex != payload.QuestionIndex {
				push(errorFrame(domain.ErrAnswerWindowClosed.Error()))
				continue
			}
			if err := client.SubmitOption(ctx, payload.OptionIndex); err != nil {
				push(errorFrame(err.Error()))
			}
		case "heartbeat":
			if err := client.Heartbeat(ctx); err != nil {
				push(errorFrame(err.Error()))
			}
		default:
			push(errorFrame("unsupported message type"))
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
