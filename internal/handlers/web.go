package handlers

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/Harryoung/efka-sub000/internal/channels"
	"github.com/Harryoung/efka-sub000/internal/middleware"
	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/Harryoung/efka-sub000/internal/services"
	"github.com/gofiber/fiber/v2"
)

// SessionReader is the read side of services.SessionManager
type SessionReader interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	QuerySessions(ctx context.Context, userID string, role models.Role, limit int) ([]*models.Session, error)
}

// WebHandler serves the web channel API
type WebHandler struct {
	web      *channels.WebAdapter
	router   InboundRouter
	sessions SessionReader
	limiter  *middleware.SenderLimiter
}

// NewWebHandler creates a new web handler
func NewWebHandler(web *channels.WebAdapter, router InboundRouter, sessions SessionReader, limiter *middleware.SenderLimiter) *WebHandler {
	return &WebHandler{web: web, router: router, sessions: sessions, limiter: limiter}
}

// Ask routes a question or reply and returns whatever the engine answered
// POST /api/ask
func (h *WebHandler) Ask(c *fiber.Ctx) error {
	payload := c.Body()
	if !h.web.VerifySignature(payload, c.Get(fiber.HeaderAuthorization)) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or missing token"})
	}

	msg, err := h.web.ParseMessage(payload)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	if !h.limiter.Allow(string(msg.Channel), msg.UserID) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "Too many messages. Please wait before trying again."})
	}

	result, err := h.router.HandleInbound(c.UserContext(), msg)
	if err != nil {
		log.Printf("❌ [WEB] ask from %s failed: %v", msg.UserID, err)
		return errorResponse(c, err)
	}

	resp := fiber.Map{
		"message_id": msg.MessageID,
		"kind":       result.Kind,
		"escalated":  result.Escalated,
		"replies":    h.web.Drain(msg.UserID),
	}
	if result.Session != nil {
		resp["session"] = result.Session
	}
	if result.Feedback != services.FeedbackNone {
		resp["feedback"] = result.Feedback.String()
	}
	return c.JSON(resp)
}

// ListSessions returns the caller's sessions, most recently active first
// GET /api/sessions?role=EMPLOYEE&limit=20
func (h *WebHandler) ListSessions(c *fiber.Ctx) error {
	userID, err := h.web.Subject(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or missing token"})
	}

	role := models.RoleEmployee
	if r := c.Query("role"); r != "" {
		if role, err = models.ParseRole(strings.ToUpper(r)); err != nil {
			return errorResponse(c, err)
		}
	}
	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	sessions, err := h.sessions.QuerySessions(c.UserContext(), userID, role, limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"sessions": sessions, "count": len(sessions)})
}

// GetSession returns one of the caller's sessions
// GET /api/sessions/:id
func (h *WebHandler) GetSession(c *fiber.Ctx) error {
	userID, err := h.web.Subject(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or missing token"})
	}

	s, err := h.sessions.GetSession(c.UserContext(), c.Params("id"))
	if err == nil && s.UserID != userID {
		// do not reveal other users' session ids
		err = models.ErrNotFound
	}
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			log.Printf("❌ [WEB] get session failed: %v", err)
		}
		return errorResponse(c, err)
	}
	return c.JSON(s)
}

// Messages drains replies queued for the caller, e.g. a forwarded expert answer
// GET /api/messages
func (h *WebHandler) Messages(c *fiber.Ctx) error {
	userID, err := h.web.Subject(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or missing token"})
	}
	return c.JSON(fiber.Map{"messages": h.web.Drain(userID)})
}
