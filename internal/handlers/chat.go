package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/yzh317179958/fiido-customer-service/internal/models"
	"github.com/yzh317179958/fiido-customer-service/internal/services"
	"github.com/yzh317179958/fiido-customer-service/internal/storage"
)

// ChatRequest is the user-facing chat payload.
type ChatRequest struct {
	SessionName    string                 `json:"session_name"`
	Message        string                 `json:"message"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Profile        *models.UserProfile    `json:"user_profile,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
}

type ChatHandler struct {
	orchestrator *services.Orchestrator
	store        storage.SessionStore
}

func NewChatHandler(orchestrator *services.Orchestrator, store storage.SessionStore) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator, store: store}
}

// Chat runs one blocking chat turn.
func (h *ChatHandler) Chat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	result, err := h.orchestrator.HandleUserMessage(c.Context(), req.SessionName, req.Message, req.ConversationID, req.Profile, req.Parameters)
	if err != nil {
		if errors.Is(err, services.ErrSessionInManual) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":  "session is in manual handling",
				"status": result.Session.Status,
			})
		}
		return fail(c, err)
	}

	resp := fiber.Map{
		"session_name":    result.Session.SessionName,
		"status":          result.Session.Status,
		"reply":           result.Reply,
		"conversation_id": result.Session.ConversationID,
		"escalated":       result.Escalated,
	}
	if result.Escalation != nil {
		resp["escalation"] = result.Escalation
	}
	return c.JSON(resp)
}

// sseEvent writes one SSE frame and flushes it.
func sseEvent(w *bufio.Writer, event string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return w.Flush()
}

// ChatStream runs one chat turn over SSE. AI deltas arrive as "delta"
// events; if the session escalates mid-stream the connection stays open
// and relays agent activity ("manual_message", "status_change") until the
// session returns to the bot or the client goes away.
func (h *ChatHandler) ChatStream(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.SessionName == "" || req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "session_name and message are required",
		})
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	orch := h.orchestrator
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		closeStream := orch.Relay().OpenStream(req.SessionName)
		defer closeStream()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		result, err := orch.StreamUserMessage(ctx, req.SessionName, req.Message, req.ConversationID, req.Profile, req.Parameters, func(delta string) {
			sseEvent(w, "delta", fiber.Map{"content": delta})
		})

		humanOwned := false
		switch {
		case err == nil:
			sseEvent(w, "reply", fiber.Map{
				"content":         result.Reply,
				"conversation_id": result.Session.ConversationID,
				"escalated":       result.Escalated,
			})
			if result.Escalated {
				sseEvent(w, "status_change", fiber.Map{
					"status":     result.Session.Status,
					"escalation": result.Escalation,
				})
				humanOwned = true
			}
		case errors.Is(err, services.ErrSessionInManual):
			sseEvent(w, "status_change", fiber.Map{
				"status": result.Session.Status,
				"reason": "manual handling in progress",
			})
			humanOwned = true
		default:
			log.Printf("❌ Chat stream for %s failed: %v", req.SessionName, err)
			sseEvent(w, "error", fiber.Map{"error": err.Error()})
			return
		}

		if humanOwned {
			h.relayLoop(w, req.SessionName)
		}
		sseEvent(w, "done", fiber.Map{"session_name": req.SessionName})
	}))
	return nil
}

// relayLoop forwards queued manual events to the open stream, polling the
// session until a human no longer owns it or the client disconnects.
func (h *ChatHandler) relayLoop(w *bufio.Writer, sessionName string) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.Now().Add(30 * time.Minute)
	ticks := 0
	for range ticker.C {
		ticks++
		for _, ev := range h.orchestrator.Relay().Drain(sessionName) {
			var err error
			switch ev.Type {
			case services.RelayManualMessage:
				err = sseEvent(w, "manual_message", ev)
			case services.RelayStatusChange:
				err = sseEvent(w, "status_change", ev)
			}
			if err != nil {
				// Client went away.
				return
			}
		}

		s, err := h.store.Get(sessionName)
		if err != nil {
			return
		}
		if s.Status != models.StatusPendingManual && s.Status != models.StatusManualLive {
			return
		}
		if time.Now().After(deadline) {
			sseEvent(w, "status_change", fiber.Map{
				"status": s.Status,
				"reason": "stream timeout, reconnect to keep listening",
			})
			return
		}
		// Heartbeat so intermediaries keep the connection alive.
		if ticks%15 == 0 {
			if err := sseEvent(w, "ping", fiber.Map{"ts": time.Now().UTC()}); err != nil {
				return
			}
		}
	}
}
