package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/ration-booking/internal/model"
	"github.com/iliyamo/ration-booking/internal/repository"
)

// Availability lists every catalog slot of a shop on date with its
// advisory reserved count.  Slots never booked report zero against the
// default capacity.
func (s *BookingService) Availability(ctx context.Context, shopCode, date string) ([]model.SlotCounter, error) {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return nil, reject(ReasonInvalidDate, "date %q is not in YYYY-MM-DD form", date)
	}
	keys := make([]model.SlotKey, 0, len(model.TimeSlots))
	for i := range model.TimeSlots {
		k, err := model.NewSlotKey(shopCode, date, i)
		if err != nil {
			return nil, reject(ReasonInvalidInput, "invalid shop code %q", shopCode)
		}
		keys = append(keys, k)
	}

	stored, err := s.slots.GetCounters(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load counters: %w", err)
	}
	byKey := make(map[string]model.SlotCounter, len(stored))
	for _, c := range stored {
		byKey[c.Key] = c
	}
	out := make([]model.SlotCounter, 0, len(keys))
	for _, k := range keys {
		c, ok := byKey[k.String()]
		if !ok {
			c = model.SlotCounter{
				Key:       k.String(),
				ShopCode:  k.ShopCode,
				Date:      k.Date,
				SlotIndex: k.Index,
				TimeSlot:  k.Label(),
				Capacity:  s.opts.SlotCapacity,
			}
		}
		out = append(out, c)
	}
	return out, nil
}

// ListSlots returns stored counters matching f.
func (s *BookingService) ListSlots(ctx context.Context, f repository.SlotFilter) ([]model.SlotCounter, error) {
	if f.Date != "" {
		if _, err := time.Parse(model.DateLayout, f.Date); err != nil {
			return nil, reject(ReasonInvalidDate, "date %q is not in YYYY-MM-DD form", f.Date)
		}
	}
	counters, err := s.slots.ListCounters(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	return counters, nil
}

// EntitlementLine is one row of the booking form.
type EntitlementLine struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
	UnitPrice int    `json:"unitPrice"`
}

// EntitlementView is what the booking form renders: the normalized
// entitlement with prices and the slot catalog.
type EntitlementView struct {
	CitizenID string            `json:"citizenId"`
	ShopCode  string            `json:"shopCode"`
	Items     []EntitlementLine `json:"items"`
	TimeSlots []string          `json:"timeSlots"`
}

// Entitlement returns the normalized entitlement of a citizen.  It uses
// the same Normalize as CreateBooking so the form and the validation
// agree on the rice split.
func (s *BookingService) Entitlement(ctx context.Context, citizenID string) (*EntitlementView, error) {
	if strings.TrimSpace(citizenID) == "" {
		return nil, reject(ReasonInvalidInput, "citizenId is required")
	}
	c, err := s.citizens.GetCitizen(ctx, citizenID)
	if errors.Is(err, repository.ErrCitizenNotFound) {
		return nil, reject(ReasonCitizenNotFound, "no citizen with card %s", citizenID)
	}
	if err != nil {
		return nil, fmt.Errorf("load citizen: %w", err)
	}
	ent := c.Entitlement.Normalize()
	view := &EntitlementView{
		CitizenID: c.ID,
		ShopCode:  c.ShopCode,
		Items:     make([]EntitlementLine, 0, len(ent)),
		TimeSlots: model.TimeSlots,
	}
	for _, name := range ent.Names() {
		a := ent[name]
		view.Items = append(view.Items, EntitlementLine{Name: name, Quantity: a.Quantity, Unit: a.Unit, UnitPrice: model.PriceOf(name)})
	}
	return view, nil
}

// Verification is what a shop clerk sees after scanning a booking code.
type Verification struct {
	Booking *model.Booking             `json:"booking"`
	Citizen *model.Citizen             `json:"citizen"`
	Payload *model.VerificationPayload `json:"payload,omitempty"`
}

// VerifyBooking loads a booking together with a fresh read of its
// citizen.  Malformed ids are rejected with ReasonInvalidInput; a missing
// booking or citizen yields ErrNotFound.
func (s *BookingService) VerifyBooking(ctx context.Context, citizenID, bookingID string) (*Verification, error) {
	citizenID = strings.TrimSpace(citizenID)
	if citizenID == "" {
		return nil, reject(ReasonInvalidInput, "citizen id is required")
	}
	if _, err := uuid.Parse(bookingID); err != nil {
		return nil, reject(ReasonInvalidInput, "malformed booking id")
	}

	b, err := s.bookings.GetForCitizen(ctx, citizenID, bookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	c, err := s.profiles.GetCitizen(ctx, citizenID)
	if errors.Is(err, repository.ErrCitizenNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load citizen: %w", err)
	}
	// the clerk sees the profile, not the allotment
	c.Entitlement = nil

	v := &Verification{Booking: b, Citizen: c}
	if p, err := model.DecodePayload(b.VerificationPayload); err == nil {
		v.Payload = &p
	} else {
		s.log.WarnContext(ctx, "stored payload does not decode", "booking_id", b.ID, "err", err)
	}
	return v, nil
}
