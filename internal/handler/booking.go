package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/middleware"
	"github.com/iliyamo/ration-booking/internal/model"
	"github.com/iliyamo/ration-booking/internal/service"
)

// HeaderIdempotencyKey lets a client resubmit a booking safely.
const HeaderIdempotencyKey = "Idempotency-Key"

// CitizenHandler serves the authenticated citizen endpoints.  JWTAuth
// has already run; citizens may only act on their own card.
type CitizenHandler struct {
	svc *service.BookingService
	log *logger.Logger
}

func NewCitizenHandler(svc *service.BookingService, log *logger.Logger) *CitizenHandler {
	if svc == nil {
		panic("nil service passed to NewCitizenHandler")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CitizenHandler{svc: svc, log: log}
}

// timeSlot accepts either the slot position (2 or "2") or its catalog
// label ("02:00 PM - 03:00 PM").  Unknown labels decode to -1, which the
// service rejects as an invalid slot.
type timeSlot struct {
	index int
	set   bool
}

func (t *timeSlot) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			t.index, t.set = n, true
			return nil
		}
		t.index, t.set = model.SlotIndexOf(s), true
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("timeSlot must be a slot number or label")
	}
	t.index, t.set = n, true
	return nil
}

type bookingItemRequest struct {
	Name     string `json:"name" validate:"required"`
	Quantity int    `json:"quantity"`
	Enabled  *bool  `json:"enabled"`
}

type createBookingRequest struct {
	CitizenID     string               `json:"citizenId" validate:"required"`
	Date          string               `json:"date" validate:"required"`
	TimeSlot      timeSlot             `json:"timeSlot"`
	Items         []bookingItemRequest `json:"items" validate:"required,min=1,dive"`
	PaymentMethod string               `json:"paymentMethod" validate:"required"`
	TotalAmount   *int                 `json:"totalAmount"`
	TransactionID string               `json:"transactionId" validate:"omitempty,max=64"`
}

func (r createBookingRequest) toService(idemKey string) service.BookingRequest {
	items := make([]service.ItemRequest, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, service.ItemRequest{Name: it.Name, Quantity: it.Quantity, Enabled: it.Enabled})
	}
	return service.BookingRequest{
		CitizenID:      strings.TrimSpace(r.CitizenID),
		Date:           strings.TrimSpace(r.Date),
		SlotIndex:      r.TimeSlot.index,
		Items:          items,
		PaymentMethod:  r.PaymentMethod,
		ClientTotal:    r.TotalAmount,
		IdempotencyKey: strings.TrimSpace(idemKey),
		TransactionID:  strings.TrimSpace(r.TransactionID),
	}
}

// CreateBooking handles POST /v1/bookings.  201 with the booking and its
// verify URL on success; 200 when an Idempotency-Key replays an earlier
// booking.
func (h *CitizenHandler) CreateBooking(c echo.Context) error {
	var body createBookingRequest
	if err := c.Bind(&body); err != nil {
		return fail(c, http.StatusBadRequest, service.ReasonInvalidInput, "invalid request body")
	}
	if err := c.Validate(&body); err != nil {
		return fail(c, http.StatusBadRequest, service.ReasonInvalidInput, describeValidation(err))
	}
	if !body.TimeSlot.set {
		return fail(c, http.StatusBadRequest, service.ReasonInvalidInput, "timeSlot is required")
	}
	if middleware.Subject(c) != strings.TrimSpace(body.CitizenID) {
		return fail(c, http.StatusForbidden, "", "you can only book for your own card")
	}

	conf, err := h.svc.CreateBooking(c.Request().Context(), body.toService(c.Request().Header.Get(HeaderIdempotencyKey)))
	if err != nil {
		return writeError(c, h.log, err)
	}
	status := http.StatusCreated
	if conf.Replayed {
		status = http.StatusOK
	}
	return c.JSON(status, echo.Map{
		"success":   true,
		"verifyUrl": conf.VerifyURL,
		"booking":   conf.Booking,
		"replayed":  conf.Replayed,
	})
}

// Entitlement handles GET /v1/citizens/:citizenId/entitlement.
func (h *CitizenHandler) Entitlement(c echo.Context) error {
	citizenID := c.Param("citizenId")
	if !h.mayActFor(c, citizenID) {
		return fail(c, http.StatusForbidden, "", "you can only view your own card")
	}
	view, err := h.svc.Entitlement(c.Request().Context(), citizenID)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "entitlement": view})
}

// mayActFor lets citizens read their own card and staff any card.
func (h *CitizenHandler) mayActFor(c echo.Context, citizenID string) bool {
	switch middleware.Role(c) {
	case middleware.RoleClerk, middleware.RoleAdmin:
		return true
	}
	return middleware.Subject(c) == strings.TrimSpace(citizenID)
}
