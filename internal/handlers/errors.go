package handlers

import (
	"errors"

	"github.com/Harryoung/efka-sub000/internal/models"
	"github.com/gofiber/fiber/v2"
)

// statusForError maps session engine errors to HTTP status codes
func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidRole):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrVersionConflict),
		errors.Is(err, models.ErrConcurrentUpdateExhausted):
		return fiber.StatusConflict
	case errors.Is(err, models.ErrStoreUnavailable), errors.Is(err, models.ErrStoreTimeout):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorResponse(c *fiber.Ctx, err error) error {
	status := statusForError(err)
	msg := err.Error()
	if status == fiber.StatusInternalServerError {
		msg = "Internal server error"
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}
