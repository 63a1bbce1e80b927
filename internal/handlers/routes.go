package handlers

import "github.com/gofiber/fiber/v2"

// Setup mounts the engine's HTTP surface on app
func Setup(app *fiber.App, health *HealthHandler, webhook *WebhookHandler, web *WebHandler) {
	app.Get("/health", health.Handle)

	app.Post("/webhooks/:channel", webhook.Handle)

	if web != nil {
		api := app.Group("/api")
		api.Post("/ask", web.Ask)
		api.Get("/sessions", web.ListSessions)
		api.Get("/sessions/:id", web.GetSession)
		api.Get("/messages", web.Messages)
	}
}
