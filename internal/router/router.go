// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ration-booking/internal/handler"
)

// RegisterRoutes registers the health endpoints.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health)
	e.GET("/readyz", handler.Ready(db))
}

// RegisterPublic registers the unauthenticated reads.  slotCache wraps the
// availability endpoint only.  The verification page is served both
// under /v1 and at the root so that verify URLs built on the server's
// own origin resolve.
func RegisterPublic(e *echo.Echo, p *handler.PublicHandler, slotCache echo.MiddlewareFunc) {
	e.GET("/v1/slots", p.Slots, slotCache)
	e.GET("/v1/verify-booking/:citizenId/:bookingId", p.VerifyBooking)
	e.GET("/verify-booking/:citizenId/:bookingId", p.VerifyBooking)
}
