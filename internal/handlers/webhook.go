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

// InboundRouter is implemented by services.ChannelRouter
type InboundRouter interface {
	HandleInbound(ctx context.Context, msg *models.InboundMessage) (*services.RouteResult, error)
}

// WebhookHandler receives Telegram and DingTalk callbacks
type WebhookHandler struct {
	registry *channels.Registry
	router   InboundRouter
	limiter  *middleware.SenderLimiter
}

// NewWebhookHandler creates a new webhook handler
func NewWebhookHandler(registry *channels.Registry, router InboundRouter, limiter *middleware.SenderLimiter) *WebhookHandler {
	return &WebhookHandler{registry: registry, router: router, limiter: limiter}
}

// signatureOf joins the adapter's signature headers with "\n"
func signatureOf(c *fiber.Ctx, adapter channels.Adapter) string {
	headers := adapter.SignatureHeaders()
	values := make([]string, 0, len(headers))
	for _, h := range headers {
		values = append(values, c.Get(h))
	}
	return strings.Join(values, "\n")
}

// Handle processes one callback
// POST /webhooks/:channel
//
// Authenticated payloads get 200 unless a store outage or write contention
// left the message unrouted; the 503 lets the vendor redeliver it.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	channel, err := models.ParseChannel(c.Params("channel"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	adapter, ok := h.registry.Get(channel)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "channel not enabled"})
	}

	payload := c.Body()
	if len(payload) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing payload"})
	}

	if !adapter.VerifySignature(payload, signatureOf(c, adapter)) {
		log.Printf("❌ [WEBHOOK] %s signature verification failed from %s", channel, c.IP())
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid signature"})
	}

	msg, err := adapter.ParseMessage(payload)
	switch {
	case errors.Is(err, channels.ErrIgnored):
		return c.JSON(fiber.Map{"received": true, "status": "ignored"})
	case err != nil:
		log.Printf("❌ [WEBHOOK] %s payload rejected: %v", channel, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid payload format"})
	}

	if !h.limiter.Allow(string(channel), msg.UserID) {
		return c.JSON(fiber.Map{"received": true, "status": "rate_limited"})
	}

	result, err := h.router.HandleInbound(c.UserContext(), msg)
	if err != nil {
		log.Printf("❌ [WEBHOOK] %s message %s from %s failed: %v", channel, msg.MessageID, msg.UserID, err)
		if services.Redeliverable(err) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"received": false, "status": "retry"})
		}
		return c.JSON(fiber.Map{"received": true, "status": "error"})
	}

	return c.JSON(fiber.Map{
		"received": true,
		"status":   "ok",
		"kind":     result.Kind,
	})
}
