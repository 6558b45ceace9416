// Package handler exposes the booking service over HTTP.  Every JSON
// response carries a "success" flag; failures add "message" and, for
// business rejections, "reason".
package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/service"
)

// RequestValidator plugs go-playground/validator into echo.Context.Validate.
type RequestValidator struct {
	v *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{v: validator.New(validator.WithRequiredStructEnabled())}
}

func (rv *RequestValidator) Validate(i interface{}) error {
	return rv.v.Struct(i)
}

// describeValidation turns validator errors into one short sentence
// naming the offending fields.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return "invalid fields: " + strings.Join(fields, ", ")
}

func fail(c echo.Context, status int, reason service.Reason, msg string) error {
	body := echo.Map{"success": false, "message": msg}
	if reason != "" {
		body["reason"] = reason
	}
	return c.JSON(status, body)
}

// rejectionStatus is the HTTP status of a business rejection.
func rejectionStatus(r service.Reason) int {
	if r == service.ReasonCitizenNotFound {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}

// writeError maps service errors onto responses.  Anything that is not a
// known business outcome is logged and reported as a server error without
// internal detail.
func writeError(c echo.Context, log *logger.Logger, err error) error {
	if r, ok := service.AsRejection(err); ok {
		body := echo.Map{"success": false, "message": r.Message, "reason": r.Reason}
		if len(r.Details) > 0 {
			body["details"] = r.Details
		}
		return c.JSON(rejectionStatus(r.Reason), body)
	}
	ctx := c.Request().Context()
	switch {
	case errors.Is(err, service.ErrNotFound):
		return fail(c, http.StatusNotFound, "", "booking not found")
	case errors.Is(err, service.ErrOutcomeUnknown):
		log.ErrorContext(ctx, "booking outcome unknown", "err", err)
		return fail(c, http.StatusInternalServerError, "", "the booking could not be confirmed; check your bookings before trying again")
	default:
		log.ErrorContext(ctx, "request failed", "path", c.Path(), "err", err)
		return fail(c, http.StatusInternalServerError, "", "internal error")
	}
}
