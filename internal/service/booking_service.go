// Package service implements slot booking on top of the repositories.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iliyamo/ration-booking/internal/database"
	"github.com/iliyamo/ration-booking/internal/logger"
	"github.com/iliyamo/ration-booking/internal/model"
	"github.com/iliyamo/ration-booking/internal/queue"
	"github.com/iliyamo/ration-booking/internal/repository"
)

// EventPublisher receives an event for every committed booking.
// queue.Publisher implements it.
type EventPublisher interface {
	PublishBookingCreated(ctx context.Context, ev queue.BookingCreatedEvent) error
}

// Options tunes a BookingService.  Zero values get defaults.
type Options struct {
	BaseURL      string         // prefix of verify URLs
	SlotCapacity int            // capacity of newly created slot counters
	MaxAttempts  int            // transaction attempts per request, including the first
	RetryBase    time.Duration  // first backoff between attempts
	Location     *time.Location // calendar for past-date checks
	Now          func() time.Time

	// Profiles serves the verification lookup.  It must not be cached.
	// Defaults to the booking directory.
	Profiles CitizenDirectory
	Events   EventPublisher // optional
	Logger   *logger.Logger
}

// BookingService turns a citizen's item and slot selection into a
// booking.  It keeps no shared mutable state: every coordination point is
// a database transaction, so any number of instances may run side by
// side.
type BookingService struct {
	slots    *repository.SlotRepo
	bookings *repository.BookingRepo
	citizens CitizenDirectory
	profiles CitizenDirectory
	events   EventPublisher
	log      *logger.Logger
	tracer   trace.Tracer
	opts     Options
	newID    func() string
}

// NewBookingService wires the service.  slots, bookings and citizens are
// required.
func NewBookingService(slots *repository.SlotRepo, bookings *repository.BookingRepo, citizens CitizenDirectory, opts Options) *BookingService {
	if slots == nil || bookings == nil || citizens == nil {
		panic("nil dependency passed to NewBookingService")
	}
	if opts.SlotCapacity < 1 {
		opts.SlotCapacity = model.DefaultSlotCapacity
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 50 * time.Millisecond
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Profiles == nil {
		opts.Profiles = citizens
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &BookingService{
		slots:    slots,
		bookings: bookings,
		citizens: citizens,
		profiles: opts.Profiles,
		events:   opts.Events,
		log:      opts.Logger,
		tracer:   otel.Tracer("github.com/iliyamo/ration-booking/internal/service"),
		opts:     opts,
		newID:    uuid.NewString,
	}
}

// ItemRequest is one line of the booking form.  Enabled defaults to true.
type ItemRequest struct {
	Name     string
	Quantity int
	Enabled  *bool
}

// IsEnabled reports whether the line takes part in the booking.
func (i ItemRequest) IsEnabled() bool { return i.Enabled == nil || *i.Enabled }

// BookingRequest is the input of CreateBooking.
type BookingRequest struct {
	CitizenID      string
	Date           string // YYYY-MM-DD
	SlotIndex      int    // position in model.TimeSlots
	Items          []ItemRequest
	PaymentMethod  string
	ClientTotal    *int   // total shown by the client; informational only
	IdempotencyKey string // optional, scoped to the citizen
	TransactionID  string // optional payment reference
}

// Confirmation is a successful CreateBooking outcome.  Replayed is set
// when an earlier booking with the same idempotency key was returned;
// ReservedCount and Capacity are then zero.
type Confirmation struct {
	Booking       *model.Booking
	VerifyURL     string
	Replayed      bool
	ReservedCount int
	Capacity      int
}

const (
	maxIdempotencyKeyLen = 64
	maxTransactionIDLen  = 64
)

// CreateBooking validates req, reserves a place in the slot and stores
// the booking in one transaction.
//
// Business failures come back as *Rejection.  Any other error is a
// storage failure; transactions that are known to have rolled back are
// retried up to Options.MaxAttempts with exponential backoff first.
// ErrOutcomeUnknown means COMMIT itself failed and is never retried.
func (s *BookingService) CreateBooking(ctx context.Context, req BookingRequest) (*Confirmation, error) {
	ctx, span := s.tracer.Start(ctx, "BookingService.CreateBooking", trace.WithAttributes(
		attribute.String("citizen.id", req.CitizenID),
		attribute.String("booking.date", req.Date),
		attribute.Int("booking.slot_index", req.SlotIndex),
	))
	defer span.End()
	log := s.log.With("citizen_id", req.CitizenID, "date", req.Date, "slot_index", req.SlotIndex)

	conf, err := s.createBooking(ctx, log, req)
	if err != nil {
		if r, ok := AsRejection(err); ok {
			span.SetAttributes(attribute.String("booking.rejection", string(r.Reason)))
			log.InfoContext(ctx, "booking rejected", "reason", r.Reason, "message", r.Message)
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, "booking failed")
			log.ErrorContext(ctx, "booking failed", "err", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("booking.id", conf.Booking.ID), attribute.Bool("booking.replayed", conf.Replayed))
	if conf.Replayed {
		log.InfoContext(ctx, "booking replayed", "booking_id", conf.Booking.ID)
		return conf, nil
	}
	log.InfoContext(ctx, "booking created",
		"booking_id", conf.Booking.ID,
		"slot_key", conf.Booking.SlotKey,
		"reserved", conf.ReservedCount,
		"capacity", conf.Capacity,
		"total", conf.Booking.TotalAmount,
	)
	s.publish(ctx, log, conf)
	return conf, nil
}

func (s *BookingService) createBooking(ctx context.Context, log *logger.Logger, req BookingRequest) (*Confirmation, error) {
	if err := s.checkRequest(req); err != nil {
		return nil, err
	}

	// read-only data, outside the transaction
	citizen, err := s.citizens.GetCitizen(ctx, req.CitizenID)
	if errors.Is(err, repository.ErrCitizenNotFound) {
		return nil, reject(ReasonCitizenNotFound, "no citizen with card %s", req.CitizenID)
	}
	if err != nil {
		return nil, fmt.Errorf("load citizen: %w", err)
	}

	items, err := s.selectItems(ctx, log, citizen.Entitlement.Normalize(), req.Items)
	if err != nil {
		return nil, err
	}
	total := model.TotalOf(items)
	if req.ClientTotal != nil && *req.ClientTotal != total {
		log.Anomaly(ctx, "client total differs from computed total", "client_total", *req.ClientTotal, "total", total)
	}

	key, err := model.NewSlotKey(citizen.ShopCode, req.Date, req.SlotIndex)
	if err != nil {
		// date and index were checked, so the directory holds a bad shop code
		return nil, fmt.Errorf("slot key for citizen %s: %w", citizen.ID, err)
	}

	var (
		conf    *Confirmation
		attempt int
	)
	backoff := retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), retry.NewExponential(s.opts.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		c, err := s.reserveAndStore(ctx, req, citizen, key, items, total)
		if err != nil && !errors.Is(err, ErrOutcomeUnknown) && repository.IsRetryable(err) {
			log.WarnContext(ctx, "booking transaction rolled back, retrying", "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		}
		conf = c
		return err
	})
	if errors.Is(err, repository.ErrConflict) && req.IdempotencyKey != "" {
		// a concurrent request with the same key won
		prev, ferr := s.bookings.FindByIdempotencyKey(ctx, req.CitizenID, req.IdempotencyKey)
		if ferr != nil {
			return nil, fmt.Errorf("load idempotent booking: %w", ferr)
		}
		if !sameBooking(prev, key, items, req.PaymentMethod) {
			return nil, keyReused(req.IdempotencyKey, prev)
		}
		return &Confirmation{Booking: prev, VerifyURL: prev.VerifyURL, Replayed: true}, nil
	}
	if err != nil {
		if _, ok := AsRejection(err); ok {
			return nil, err
		}
		return nil, fmt.Errorf("create booking after %d attempt(s): %w", attempt, err)
	}
	return conf, nil
}

// reserveAndStore runs one transactional attempt: idempotency lookup,
// slot reservation, booking insert.  Every error rolls the whole attempt
// back, so a counter increment is never visible without its booking.
func (s *BookingService) reserveAndStore(ctx context.Context, req BookingRequest, citizen *model.Citizen, key model.SlotKey, items []model.BookingItem, total int) (*Confirmation, error) {
	var conf *Confirmation
	err := database.WithTx(ctx, s.slots.DB(), nil, func(ctx context.Context, tx *sql.Tx) error {
		if req.IdempotencyKey != "" {
			prev, err := s.bookings.FindByIdempotencyKeyTx(ctx, tx, req.CitizenID, req.IdempotencyKey)
			if err == nil {
				if !sameBooking(prev, key, items, req.PaymentMethod) {
					return keyReused(req.IdempotencyKey, prev)
				}
				conf = &Confirmation{Booking: prev, VerifyURL: prev.VerifyURL, Replayed: true}
				return nil
			}
			if !errors.Is(err, repository.ErrNotFound) {
				return fmt.Errorf("idempotency lookup: %w", err)
			}
		}

		res, err := s.slots.TryReserveTx(ctx, tx, key, s.opts.SlotCapacity)
		if err != nil {
			return err
		}
		if !res.OK {
			return reject(ReasonSlotFull, "the %s slot on %s is fully booked", key.Label(), key.Date).
				with("reservedCount", res.ReservedCount).
				with("capacity", res.Capacity)
		}

		b, err := s.newBooking(req, citizen, key, items, total)
		if err != nil {
			return err
		}
		if err := s.bookings.CreateTx(ctx, tx, b, req.IdempotencyKey); err != nil {
			return err
		}
		if err := s.bookings.CreateItemsBulkTx(ctx, tx, b.ID, b.Items); err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		conf = &Confirmation{Booking: b, VerifyURL: b.VerifyURL, ReservedCount: res.ReservedCount, Capacity: res.Capacity}
		return nil
	})
	if errors.Is(err, database.ErrCommit) {
		return nil, fmt.Errorf("%w: %w", ErrOutcomeUnknown, err)
	}
	if err != nil {
		return nil, err
	}
	return conf, nil
}

// sameBooking reports whether prev was made for the same slot, items and
// payment method.  Item order does not matter.
func sameBooking(prev *model.Booking, key model.SlotKey, items []model.BookingItem, method string) bool {
	if prev.SlotKey != key.String() || !strings.EqualFold(prev.PaymentMethod, method) || len(prev.Items) != len(items) {
		return false
	}
	want := make(map[string]int, len(items))
	for _, it := range items {
		want[it.Name] = it.Quantity
	}
	for _, it := range prev.Items {
		if q, ok := want[it.Name]; !ok || q != it.Quantity {
			return false
		}
	}
	return true
}

func keyReused(key string, prev *model.Booking) *Rejection {
	return reject(ReasonInvalidInput, "idempotency key %q was used for a different booking", key).
		with("bookingId", prev.ID).
		with("slotKey", prev.SlotKey)
}

func (s *BookingService) newBooking(req BookingRequest, citizen *model.Citizen, key model.SlotKey, items []model.BookingItem, total int) (*model.Booking, error) {
	method := strings.ToLower(req.PaymentMethod)
	b := &model.Booking{
		ID:            s.newID(),
		CitizenID:     citizen.ID,
		ShopCode:      key.ShopCode,
		SlotKey:       key.String(),
		Date:          key.Date,
		SlotIndex:     key.Index,
		TimeSlot:      key.Label(),
		Items:         items,
		PaymentMethod: method,
		PaymentStatus: model.PaymentStatusFor(method),
		TotalAmount:   total,
		Status:        model.StatusBooked,
		// DATETIME keeps whole seconds
		CreatedAt: s.opts.Now().UTC().Truncate(time.Second),
	}
	if ref := strings.TrimSpace(req.TransactionID); ref != "" {
		b.TransactionID = &ref
	}
	b.VerifyURL = model.VerifyURL(s.opts.BaseURL, b.CitizenID, b.ID)
	payload, err := model.PayloadFor(b).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	b.VerificationPayload = payload
	return b, nil
}

func (s *BookingService) checkRequest(req BookingRequest) error {
	if strings.TrimSpace(req.CitizenID) == "" {
		return reject(ReasonInvalidInput, "citizenId is required")
	}
	if req.Date == "" {
		return reject(ReasonInvalidInput, "date is required")
	}
	if err := s.checkDate(req.Date); err != nil {
		return err
	}
	if !model.ValidSlotIndex(req.SlotIndex) {
		return reject(ReasonInvalidSlot, "time slot %d is not offered", req.SlotIndex).
			with("slots", len(model.TimeSlots))
	}
	if req.PaymentMethod == "" {
		return reject(ReasonInvalidInput, "paymentMethod is required")
	}
	if !model.ValidPaymentMethod(req.PaymentMethod) {
		return reject(ReasonInvalidInput, "unsupported payment method %q", req.PaymentMethod)
	}
	if len(req.IdempotencyKey) > maxIdempotencyKeyLen {
		return reject(ReasonInvalidInput, "idempotency key longer than %d characters", maxIdempotencyKeyLen)
	}
	if len(req.TransactionID) > maxTransactionIDLen {
		return reject(ReasonInvalidInput, "transactionId longer than %d characters", maxTransactionIDLen)
	}
	return nil
}

// checkDate accepts YYYY-MM-DD dates from today onwards in the
// configured location.
func (s *BookingService) checkDate(date string) error {
	d, err := time.ParseInLocation(model.DateLayout, date, s.opts.Location)
	if err != nil {
		return reject(ReasonInvalidDate, "date %q is not in YYYY-MM-DD form", date)
	}
	now := s.opts.Now().In(s.opts.Location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.opts.Location)
	if d.Before(today) {
		return reject(ReasonInvalidDate, "date %s is in the past", date)
	}
	return nil
}

// selectItems keeps the enabled lines and checks each against the
// normalized entitlement.  Items outside the entitlement have an
// allotment of zero.
func (s *BookingService) selectItems(ctx context.Context, log *logger.Logger, ent model.Entitlement, reqs []ItemRequest) ([]model.BookingItem, error) {
	items := make([]model.BookingItem, 0, len(reqs))
	seen := make(map[string]bool, len(reqs))
	for _, r := range reqs {
		if !r.IsEnabled() {
			continue
		}
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, reject(ReasonInvalidInput, "item name is required")
		}
		if seen[name] {
			return nil, reject(ReasonInvalidInput, "item %s listed twice", name)
		}
		seen[name] = true
		if r.Quantity <= 0 {
			return nil, reject(ReasonInvalidInput, "quantity for %s must be positive", name)
		}
		a := ent.Allotted(name)
		if r.Quantity > a.Quantity {
			log.Anomaly(ctx, "requested quantity above entitlement", "item", name, "requested", r.Quantity, "allotted", a.Quantity)
			return nil, reject(ReasonOverAllocation, "%s: requested %d, allotted %d", name, r.Quantity, a.Quantity).
				with("item", name).
				with("requested", r.Quantity).
				with("allotted", a.Quantity)
		}
		items = append(items, model.BookingItem{
			Name:      name,
			Quantity:  r.Quantity,
			Unit:      a.Unit,
			UnitPrice: model.PriceOf(name),
		})
	}
	if len(items) == 0 {
		return nil, reject(ReasonInvalidInput, "select at least one item")
	}
	return items, nil
}

func (s *BookingService) publish(ctx context.Context, log *logger.Logger, conf *Confirmation) {
	if s.events == nil {
		return
	}
	b := conf.Booking
	items := make([]string, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, fmt.Sprintf("%s:%d%s", it.Name, it.Quantity, it.Unit))
	}
	ev := queue.BookingCreatedEvent{
		BookingID:     b.ID,
		CitizenID:     b.CitizenID,
		ShopCode:      b.ShopCode,
		SlotKey:       b.SlotKey,
		Date:          b.Date,
		TimeSlot:      b.TimeSlot,
		Items:         items,
		TotalAmount:   b.TotalAmount,
		PaymentMethod: b.PaymentMethod,
		PaymentStatus: b.PaymentStatus,
		ReservedCount: conf.ReservedCount,
		Capacity:      conf.Capacity,
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
	}
	// the booking is committed; a slow broker must not hold the response
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.events.PublishBookingCreated(pctx, ev); err != nil {
		log.WarnContext(ctx, "publish booking event failed", "booking_id", b.ID, "err", err)
	}
}
