package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
	"exam-prep-service/internal/predict"
)

// WSHandler is the UI boundary: session commands in, engine and prediction
// events out over a single websocket.
type WSHandler struct {
	engine     *app.Engine
	aggregator *predict.Aggregator
	upgrader   websocket.Upgrader
}

func NewWSHandler(engine *app.Engine, aggregator *predict.Aggregator) *WSHandler {
	return &WSHandler{
		engine:     engine,
		aggregator: aggregator,
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

type startPayload struct {
	Subject string `json:"subject"`
}

type answerPayload struct {
	Option int `json:"option"`
}

type bookmarkPayload struct {
	QuestionID string `json:"questionId"`
}

type gotoPayload struct {
	Index int `json:"index"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades the request and wires the connection into the session
// engine and the prediction aggregator.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	sessionEvents, cancelSessions := h.engine.Subscribe()
	defer cancelSessions()
	predictions, cancelPredictions := h.aggregator.Subscribe()
	defer cancelPredictions()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	forwardDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("ws write error: %v", err)
				return
			}
		}
	}()

	go func() {
		defer close(forwardDone)
		for {
			select {
			case ev, ok := <-sessionEvents:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: string(ev.Kind), Payload: ev}:
				case <-closeSignals:
					return
				}
			case p, ok := <-predictions:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "prediction", Payload: p}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	// A reconnecting client needs the current state before any event arrives.
	if snap, ok := h.engine.Snapshot(); ok {
		send <- outboundMessage[any]{Type: "session", Payload: app.SessionEvent{
			Kind: app.EventSession, Op: "attach", TimeLeft: snap.TimeLeft, State: &snap,
		}}
	}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "start":
			var payload startPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.Subject == "" {
				send <- errorMessage("invalid start payload")
				continue
			}
			if err := h.engine.StartSession(r.Context(), payload.Subject); err != nil {
				if errors.Is(err, domain.ErrNoQuestions) {
					send <- errorMessage("no questions available for " + payload.Subject)
				} else {
					send <- errorMessage(err.Error())
				}
			}
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid answer payload")
				continue
			}
			h.engine.SubmitAnswer(payload.Option)
		case "bookmark":
			var payload bookmarkPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.QuestionID == "" {
				send <- errorMessage("invalid bookmark payload")
				continue
			}
			h.engine.ToggleBookmark(payload.QuestionID)
		case "next":
			h.engine.NextQuestion()
		case "prev":
			h.engine.PrevQuestion()
		case "goto":
			var payload gotoPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil {
				send <- errorMessage("invalid goto payload")
				continue
			}
			h.engine.GoToQuestion(payload.Index)
		case "submit":
			if _, err := h.engine.SubmitQuiz(r.Context()); err != nil {
				send <- errorMessage(err.Error())
			}
		case "terminate":
			h.engine.Terminate()
		case "predict":
			// The result arrives on the prediction event stream.
			go func() {
				if _, err := h.aggregator.GetPrediction(r.Context()); err != nil {
					log.Printf("ws prediction request failed: %v", err)
				}
			}()
		default:
			send <- errorMessage("unsupported message type")
		}
	}

	close(closeSignals)
	<-forwardDone
	close(send)
	<-writerDone
}

func errorMessage(msg string) outboundMessage[any] {
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: msg}}
}
