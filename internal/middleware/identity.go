package middleware

import (
	"github.com/labstack/echo/v4"
)

// Context keys set by JWTAuth.
const (
	CtxSubject = "user_id"
	CtxRole    = "role"
)

// Roles carried in the "role" claim.
const (
	RoleCitizen = "CITIZEN"
	RoleClerk   = "CLERK"
	RoleAdmin   = "ADMIN"
)

// Subject returns the authenticated token subject, or "" for anonymous
// requests.  For citizens the subject is the ration card number.
func Subject(c echo.Context) string {
	s, _ := c.Get(CtxSubject).(string)
	return s
}

// Role returns the authenticated role, or "".
func Role(c echo.Context) string {
	r, _ := c.Get(CtxRole).(string)
	return r
}

func subjectOr(c echo.Context, fallback string) string {
	if s := Subject(c); s != "" {
		return s
	}
	return fallback
}
