package handlers

import (
	"time"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/gofiber/fiber/v2"
)

// StoreStatus is implemented by store.FallbackStore
type StoreStatus interface {
	Name() string
	Degraded() bool
}

// HealthHandler handles health check requests
type HealthHandler struct {
	store    StoreStatus
	channels []models.Channel
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store StoreStatus, channels []models.Channel) *HealthHandler {
	return &HealthHandler{store: store, channels: channels}
}

// Handle responds with server health status. A degraded store still serves
// traffic, so the endpoint stays 200.
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"
	if h.store.Degraded() {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":    status,
		"store":     h.store.Name(),
		"degraded":  h.store.Degraded(),
		"channels":  h.channels,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}
