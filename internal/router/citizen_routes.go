package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ration-booking/internal/handler"
	"github.com/iliyamo/ration-booking/internal/middleware"
)

// RegisterCitizen registers the authenticated citizen endpoints.  Booking
// submission additionally passes the rate limiter, which runs after
// JWTAuth so it can key on the token subject.
func RegisterCitizen(e *echo.Echo, h *handler.CitizenHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", middleware.JWTAuth(jwtSecret))
	g.POST("/bookings", h.CreateBooking, middleware.RequireRole(middleware.RoleCitizen), limiter)
	g.GET("/citizens/:citizenId/entitlement", h.Entitlement,
		middleware.RequireRole(middleware.RoleCitizen, middleware.RoleClerk, middleware.RoleAdmin))
}
