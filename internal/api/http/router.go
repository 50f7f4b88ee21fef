package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/MangBao/triage-recovery-hub-be/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health    *handlers.HealthHandler
	Tickets   *handlers.TicketsHandler
	WebSocket *handlers.WebSocketHandler
	// RateLimitPerMinute caps ticket creation per client IP; 0 disables it.
	RateLimitPerMinute int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	tickets := app.Group("/api/tickets")
	if cfg.RateLimitPerMinute > 0 {
		tickets.Post("", rateLimitMiddleware(cfg.RateLimitPerMinute), cfg.Tickets.CreateTicket)
	} else {
		tickets.Post("", cfg.Tickets.CreateTicket)
	}
	tickets.Get("", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Get("/:id/history", cfg.Tickets.GetHistory)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Post("/:id/resolve", cfg.Tickets.ResolveTicket)
	tickets.Post("/:id/retriage", cfg.Tickets.RetriageTicket)

	if cfg.WebSocket != nil {
		app.Get("/ws/tickets", cfg.WebSocket.Upgrade, cfg.WebSocket.Handle())
	}
}
