package http

import (
	"context"
	"net/http"

	"exam-attempt-service/internal/app"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler streams leaderboard snapshots for one exam over a websocket.
type WSHandler struct {
	service  *app.AttemptService
	hub      *app.Hub
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.AttemptService, hub *app.Hub, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		hub:     hub,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS handles GET /api/exams/:examId/leaderboard/ws. The requester comes from the
// X-Learner-ID header or the learnerId query parameter, since browsers cannot set
// headers on websocket upgrades.
func (h *WSHandler) ServeWS(c *gin.Context) {
	examID := c.Param("examId")
	requester := c.GetHeader(learnerHeader)
	if requester == "" {
		requester = c.Query("learnerId")
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		failure(c, http.StatusBadRequest, err.Error())
		return
	}

	// Fail before upgrading so unknown exams get a plain 404.
	initial, err := h.service.GetLeaderboard(c.Request.Context(), examID, requester, limit)
	if err != nil {
		failure(c, statusFor(err), err.Error())
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	updates, cancel := h.hub.Subscribe(examID)
	defer cancel()

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()

	send := make(chan outboundMessage[any], 16)
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches conn for writes.
	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				h.log.Debug("ws write error", zap.String("examId", examID), zap.Error(err))
				stop()
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "leaderboard", Payload: initial}

	go func() {
		defer close(updatesDone)
		for {
			select {
			case _, ok := <-updates:
				if !ok {
					return
				}
				lb, err := h.service.GetLeaderboard(ctx, examID, requester, limit)
				var msg outboundMessage[any]
				if err != nil {
					msg = outboundMessage[any]{Type: "error", Payload: errorPayload{Message: err.Error()}}
				} else {
					msg = outboundMessage[any]{Type: "leaderboard", Payload: lb}
				}
				select {
				case send <- msg:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// The stream is one-way; reads only detect the client going away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				stop()
				return
			}
		}
	}()

	<-ctx.Done()
	<-updatesDone
	close(send)
	<-writerDone
}
