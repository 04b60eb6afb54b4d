package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/grading"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
	ws "github.com/stemsi/exstem-engine/internal/websocket"
)

const keepAliveInterval = 15 * time.Second

var errBadCommand = errors.New("bad command")

// EventSubscriber streams the raw events published for a session.
type EventSubscriber interface {
	Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan []byte, func() error)
}

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// StreamHandler serves live session traffic: a WebSocket for commands plus
// published events, and a read-only SSE feed of events.
type StreamHandler struct {
	sessionService *service.ExamSessionService
	events         EventSubscriber
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(sessionService *service.ExamSessionService, events EventSubscriber, log zerolog.Logger, allowedOrigins []string) *StreamHandler {
	return &StreamHandler{
		sessionService: sessionService,
		events:         events,
		log:            logger.Component(log, "stream_handler"),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// SessionWebSocket godoc
// WS /ws/v1/sessions/:id/stream
// Accepts session commands and forwards the session's published events.
func (h *StreamHandler) SessionWebSocket(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	if _, err := h.sessionService.Progress(c.Request.Context(), id); err != nil {
		response.FailError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := logger.Session(h.log, id)
	wsLog.Info().Msg("Taker connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := ws.NewWriter(conn)
	feed, closeFeed := h.events.Subscribe(ctx, id)
	defer closeFeed()

	// A failed forward closes the socket so the read loop below unblocks
	// instead of waiting out readWait.
	go forwardEvents(feed, func(raw []byte) error {
		return out.Send(ws.EventSession, json.RawMessage(raw))
	}, func(err error) {
		wsLog.Debug().Err(err).Msg("Event forward failed")
		cancel()
		_ = conn.Close()
	})

	for {
		var msg ws.RequestPayload
		if err := ws.ReadJSON(conn, &msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		event, data, err := h.dispatch(ctx, id, &msg)
		if err != nil {
			if errors.Is(err, errBadCommand) {
				out.Error(err.Error())
				continue
			}
			status, code := response.FromError(err)
			if status == http.StatusInternalServerError {
				wsLog.Error().Err(err).Str("action", string(msg.Action)).Msg("Command failed")
			}
			out.Error(response.GetMessage(code))
			continue
		}
		if err := out.Send(event, data); err != nil {
			wsLog.Debug().Err(err).Msg("Write failed")
			return
		}
	}
}

// forwardEvents relays feed through send until the feed closes or a send
// fails, in which case fail runs once.
func forwardEvents(feed <-chan []byte, send func([]byte) error, fail func(error)) {
	for raw := range feed {
		if err := send(raw); err != nil {
			fail(err)
			return
		}
	}
}

// dispatch runs one client action against the session.
func (h *StreamHandler) dispatch(ctx context.Context, id uuid.UUID, msg *ws.RequestPayload) (ws.Event, interface{}, error) {
	svc := h.sessionService

	switch msg.Action {
	case ws.ActionAnswer:
		if msg.QuestionID == nil || msg.OptionIndex == nil {
			return "", nil, missing("question_id and option_index")
		}
		p, err := svc.RecordAnswer(ctx, id, *msg.QuestionID, *msg.OptionIndex)
		return ws.EventProgress, p, err

	case ws.ActionClear:
		if msg.QuestionID == nil {
			return "", nil, missing("question_id")
		}
		p, err := svc.ClearAnswer(ctx, id, *msg.QuestionID)
		return ws.EventProgress, p, err

	case ws.ActionFlag:
		if msg.QuestionID == nil {
			return "", nil, missing("question_id")
		}
		flagged, err := svc.ToggleFlag(ctx, id, *msg.QuestionID)
		return ws.EventFlag, ws.FlagData{QuestionID: *msg.QuestionID, Flagged: flagged}, err

	case ws.ActionMove:
		if msg.Index == nil {
			return "", nil, missing("index")
		}
		q, err := svc.MoveTo(ctx, id, *msg.Index)
		return ws.EventQuestion, q, err

	case ws.ActionNext:
		q, err := svc.Next(ctx, id)
		return ws.EventQuestion, q, err

	case ws.ActionPrevious:
		q, err := svc.Previous(ctx, id)
		return ws.EventQuestion, q, err

	case ws.ActionCurrent:
		q, err := svc.CurrentQuestion(ctx, id)
		return ws.EventQuestion, q, err

	case ws.ActionProgress:
		p, err := svc.Progress(ctx, id)
		return ws.EventProgress, p, err

	case ws.ActionSubmit:
		res, err := svc.Submit(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return ws.EventSubmitted, grading.Summarize(res), nil

	case ws.ActionPing:
		return ws.EventPong, nil, nil

	default:
		return "", nil, fmt.Errorf("%w: unknown action %q", errBadCommand, msg.Action)
	}
}

func missing(what string) error {
	return fmt.Errorf("%w: %s required", errBadCommand, what)
}

// SessionEvents godoc
// GET /api/v1/sessions/:id/events
// Streams the session's published events as Server-Sent Events, starting
// with a snapshot of its progress.
func (h *StreamHandler) SessionEvents(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	reqCtx := c.Request.Context()

	progress, err := h.sessionService.Progress(reqCtx, id)
	if err != nil {
		response.FailError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	snapshot, _ := json.Marshal(gin.H{"type": "snapshot", "session": progress})
	writeSSE(c, snapshot)

	feed, closeFeed := h.events.Subscribe(reqCtx, id)
	defer closeFeed()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	pingPayload, _ := json.Marshal(map[string]string{"type": "ping"})

	for {
		select {
		case <-reqCtx.Done():
			return
		case raw, ok := <-feed:
			if !ok {
				return
			}
			// Forward raw JSON directly, no deserialization needed.
			writeSSE(c, raw)
		case <-keepAlive.C:
			writeSSE(c, pingPayload)
		}
	}
}

func writeSSE(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
