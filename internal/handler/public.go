package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/repository"
	"github.com/iliyamo/ration-booking/internal/service"
)

// PublicHandler serves the unauthenticated reads: slot availability for
// the booking form and the clerk-facing verification page.
type PublicHandler struct {
	svc *service.BookingService
	log *logger.Logger
}

func NewPublicHandler(svc *service.BookingService, log *logger.Logger) *PublicHandler {
	if svc == nil {
		panic("nil service passed to NewPublicHandler")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &PublicHandler{svc: svc, log: log}
}

// Slots handles GET /v1/slots.  With both shop and date it returns every
// catalog slot of that day, booked or not.  Otherwise it lists the stored
// counters matching whichever filter was given, up to ?limit.
func (h *PublicHandler) Slots(c echo.Context) error {
	shop := strings.TrimSpace(c.QueryParam("shop"))
	date := strings.TrimSpace(c.QueryParam("date"))
	ctx := c.Request().Context()

	if shop != "" && date != "" {
		slots, err := h.svc.Availability(ctx, shop, date)
		if err != nil {
			return writeError(c, h.log, err)
		}
		return c.JSON(http.StatusOK, slots)
	}

	f := repository.SlotFilter{ShopCode: shop, Date: date}
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return fail(c, http.StatusBadRequest, service.ReasonInvalidInput, "limit must be a positive integer")
		}
		f.Limit = n
	}
	slots, err := h.svc.ListSlots(ctx, f)
	if err != nil {
		return writeError(c, h.log, err)
	}
	if slots == nil {
		return c.JSON(http.StatusOK, []struct{}{})
	}
	return c.JSON(http.StatusOK, slots)
}

// VerifyBooking handles GET /v1/verify-booking/:citizenId/:bookingId, the
// target of the verify URL encoded in a booking's code.
func (h *PublicHandler) VerifyBooking(c echo.Context) error {
	v, err := h.svc.VerifyBooking(c.Request().Context(), c.Param("citizenId"), c.Param("bookingId"))
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"booking": v.Booking,
		"citizen": v.Citizen,
		"payload": v.Payload,
	})
}
