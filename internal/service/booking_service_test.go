package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ration-booking/internal/database/dbtest"
	"github.com/iliyamo/ration-booking/internal/model"
	"github.com/iliyamo/ration-booking/internal/queue"
	"github.com/iliyamo/ration-booking/internal/repository"
)

const testBaseURL = "https://ration.example"

// 2025-03-01, before every booking date used below
var testNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []queue.BookingCreatedEvent
	err    error
}

func (p *recordingPublisher) PublishBookingCreated(_ context.Context, ev queue.BookingCreatedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func newFixture(t *testing.T, opts Options, citizens ...model.Citizen) (*BookingService, *recordingPublisher, *dbState) {
	t.Helper()
	db := dbtest.Open(t)
	for _, c := range citizens {
		dbtest.SeedCitizen(t, db, c)
	}
	events := &recordingPublisher{}
	if opts.BaseURL == "" {
		opts.BaseURL = testBaseURL
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testNow }
	}
	opts.Events = events
	opts.RetryBase = time.Millisecond
	svc := NewBookingService(repository.NewSlotRepo(db), repository.NewBookingRepo(db), repository.NewCitizenRepo(db), opts)
	return svc, events, &dbState{t: t, db: db}
}

type dbState struct {
	t  *testing.T
	db *sql.DB
}

func (s *dbState) seedCounter(key model.SlotKey, reserved, capacity int) {
	dbtest.SeedCounter(s.t, s.db, key, reserved, capacity)
}

func (s *dbState) reserved(key model.SlotKey) int { return dbtest.ReservedCount(s.t, s.db, key) }

func (s *dbState) bookings(key model.SlotKey) int { return dbtest.CountBookings(s.t, s.db, key) }

func wheatSugarCitizen(id string) model.Citizen {
	return model.Citizen{
		ID:       id,
		Name:     "Citizen " + id,
		ShopCode: "FPS1",
		District: "Madurai",
		CardType: "PHH",
		Entitlement: model.Entitlement{
			model.ItemWheat: mustAllocation("5 Kg"),
			model.ItemSugar: mustAllocation("2 Kg"),
		},
	}
}

func mustAllocation(s string) model.Allotment {
	a, ok := model.ParseAllocation(s)
	if !ok {
		panic("bad allocation " + s)
	}
	return a
}

func wheatSugarRequest(citizenID string) BookingRequest {
	return BookingRequest{
		CitizenID:     citizenID,
		Date:          "2025-03-10",
		SlotIndex:     2,
		PaymentMethod: "upi",
		Items: []ItemRequest{
			{Name: model.ItemWheat, Quantity: 5},
			{Name: model.ItemSugar, Quantity: 2},
		},
	}
}

func slotKey(t *testing.T, idx int) model.SlotKey {
	t.Helper()
	k, err := model.NewSlotKey("FPS1", "2025-03-10", idx)
	require.NoError(t, err)
	return k
}

func requireRejection(t *testing.T, err error, reason Reason) *Rejection {
	t.Helper()
	require.Error(t, err)
	r, ok := AsRejection(err)
	require.True(t, ok, "expected rejection, got %v", err)
	require.Equal(t, reason, r.Reason, r.Message)
	return r
}

func TestCreateBooking_HappyPath(t *testing.T) {
	svc, events, st := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	key := slotKey(t, 2)
	st.seedCounter(key, 3, 16)

	conf, err := svc.CreateBooking(context.Background(), wheatSugarRequest("1001"))
	require.NoError(t, err)

	b := conf.Booking
	assert.Equal(t, 60, b.TotalAmount)
	assert.Equal(t, model.StatusBooked, b.Status)
	assert.Equal(t, model.PaymentCompleted, b.PaymentStatus)
	assert.Equal(t, key.String(), b.SlotKey)
	assert.Equal(t, "11:00 AM - 12:00 PM", b.TimeSlot)
	assert.Equal(t, testBaseURL+"/verify-booking/1001/"+b.ID, conf.VerifyURL)
	assert.Equal(t, 4, conf.ReservedCount)
	assert.Equal(t, 16, conf.Capacity)
	assert.Equal(t, 4, st.reserved(key))
	assert.Equal(t, 1, st.bookings(key))
	assert.Equal(t, 1, events.count())
	assert.Equal(t, b.ID, events.events[0].BookingID)
	assert.Equal(t, []string{"wheat:5Kg", "sugar:2Kg"}, events.events[0].Items)
}

func TestCreateBooking_FullSlot(t *testing.T) {
	svc, events, st := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	key := slotKey(t, 2)
	st.seedCounter(key, 16, 16)

	_, err := svc.CreateBooking(context.Background(), wheatSugarRequest("1001"))
	r := requireRejection(t, err, ReasonSlotFull)
	assert.Equal(t, 16, r.Details["reservedCount"])

	assert.Equal(t, 16, st.reserved(key))
	assert.Zero(t, st.bookings(key))
	assert.Zero(t, events.count())
}

func TestCreateBooking_OverAllocationBeforeRegistry(t *testing.T) {
	c := wheatSugarCitizen("1001")
	c.Entitlement = model.Entitlement{model.ItemWheat: mustAllocation("5 Kg")}
	svc, _, st := newFixture(t, Options{}, c)

	req := wheatSugarRequest("1001")
	req.Items = []ItemRequest{{Name: model.ItemWheat, Quantity: 8}}
	_, err := svc.CreateBooking(context.Background(), req)
	r := requireRejection(t, err, ReasonOverAllocation)
	assert.Equal(t, 5, r.Details["allotted"])

	// no counter row was ever created
	counters, err := svc.ListSlots(context.Background(), repository.SlotFilter{})
	require.NoError(t, err)
	assert.Empty(t, counters)
	assert.Zero(t, st.bookings(slotKey(t, 2)))
}

func TestCreateBooking_ItemOutsideEntitlement(t *testing.T) {
	svc, _, _ := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	req := wheatSugarRequest("1001")
	req.Items = append(req.Items, ItemRequest{Name: model.ItemToorDal, Quantity: 1})
	_, err := svc.CreateBooking(context.Background(), req)
	requireRejection(t, err, ReasonOverAllocation)
}

func TestCreateBooking_DisabledItemsIgnored(t *testing.T) {
	svc, _, _ := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	off := false
	req := wheatSugarRequest("1001")
	req.Items = []ItemRequest{
		{Name: model.ItemWheat, Quantity: 5},
		{Name: model.ItemSugar, Quantity: 99, Enabled: &off},
	}
	conf, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 10, conf.Booking.TotalAmount)
	require.Len(t, conf.Booking.Items, 1)

	req.Items = []ItemRequest{{Name: model.ItemWheat, Quantity: 5, Enabled: &off}}
	_, err = svc.CreateBooking(context.Background(), req)
	requireRejection(t, err, ReasonInvalidInput)
}

func TestCreateBooking_RiceSplit(t *testing.T) {
	c := wheatSugarCitizen("1001")
	c.Entitlement = model.Entitlement{model.ItemRice: {Quantity: 7, Unit: "Kg"}}
	svc, _, _ := newFixture(t, Options{}, c)

	req := wheatSugarRequest("1001")
	req.PaymentMethod = "cash"
	req.Items = []ItemRequest{
		{Name: model.ItemRawRice, Quantity: 3},
		{Name: model.ItemBoiledRice, Quantity: 4},
	}
	conf, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Zero(t, conf.Booking.TotalAmount)
	assert.Equal(t, model.PaymentPending, conf.Booking.PaymentStatus)

	req.Items = []ItemRequest{{Name: model.ItemRawRice, Quantity: 4}}
	_, err = svc.CreateBooking(context.Background(), req)
	requireRejection(t, err, ReasonOverAllocation)
}

func TestCreateBooking_InputRejections(t *testing.T) {
	svc, _, _ := newFixture(t, Options{}, wheatSugarCitizen("1001"))

	cases := []struct {
		name   string
		mutate func(*BookingRequest)
		reason Reason
	}{
		{"slot out of catalog", func(r *BookingRequest) { r.SlotIndex = len(model.TimeSlots) }, ReasonInvalidSlot},
		{"negative slot", func(r *BookingRequest) { r.SlotIndex = -1 }, ReasonInvalidSlot},
		{"past date", func(r *BookingRequest) { r.Date = "2025-02-28" }, ReasonInvalidDate},
		{"bad date", func(r *BookingRequest) { r.Date = "10/03/2025" }, ReasonInvalidDate},
		{"missing date", func(r *BookingRequest) { r.Date = "" }, ReasonInvalidInput},
		{"missing citizen", func(r *BookingRequest) { r.CitizenID = " " }, ReasonInvalidInput},
		{"missing payment", func(r *BookingRequest) { r.PaymentMethod = "" }, ReasonInvalidInput},
		{"unknown payment", func(r *BookingRequest) { r.PaymentMethod = "cheque" }, ReasonInvalidInput},
		{"zero quantity", func(r *BookingRequest) { r.Items[0].Quantity = 0 }, ReasonInvalidInput},
		{"duplicate item", func(r *BookingRequest) { r.Items[1].Name = model.ItemWheat }, ReasonInvalidInput},
		{"unknown citizen", func(r *BookingRequest) { r.CitizenID = "9999" }, ReasonCitizenNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := wheatSugarRequest("1001")
			tc.mutate(&req)
			_, err := svc.CreateBooking(context.Background(), req)
			requireRejection(t, err, tc.reason)
		})
	}
}

func TestCreateBooking_TodayAllowed(t *testing.T) {
	svc, _, _ := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	req := wheatSugarRequest("1001")
	req.Date = testNow.Format(model.DateLayout)
	_, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
}

// Checks the service outcome under contention.  SQLite serializes whole
// transactions; the atomic reservation itself is pinned by the sqlmock
// tests in the repository package.
func TestCreateBooking_LastPlaceGoesToOne(t *testing.T) {
	a, b := wheatSugarCitizen("1001"), wheatSugarCitizen("1002")
	svc, _, st := newFixture(t, Options{SlotCapacity: 1}, a, b)
	key := slotKey(t, 2)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i, id := range []string{"1001", "1002"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = svc.CreateBooking(context.Background(), wheatSugarRequest(id))
		}(i, id)
	}
	wg.Wait()

	var ok, full int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		if r, isRej := AsRejection(err); isRej && r.Reason == ReasonSlotFull {
			full++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, full)
	assert.Equal(t, 1, st.reserved(key))
	assert.Equal(t, 1, st.bookings(key))
}

func TestCreateBooking_ConcurrentNeverOverbooks(t *testing.T) {
	const citizens, capacity = 12, 5
	var seeded []model.Citizen
	for i := 0; i < citizens; i++ {
		seeded = append(seeded, wheatSugarCitizen(string(rune('A'+i))+"100"))
	}
	svc, events, st := newFixture(t, Options{SlotCapacity: capacity}, seeded...)
	key := slotKey(t, 2)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for _, c := range seeded {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := svc.CreateBooking(context.Background(), wheatSugarRequest(id)); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(c.ID)
	}
	wg.Wait()

	assert.Equal(t, capacity, ok)
	assert.Equal(t, capacity, st.reserved(key))
	assert.Equal(t, capacity, st.bookings(key))
	assert.Equal(t, capacity, events.count())
}

func TestCreateBooking_IdempotencyKeyReplays(t *testing.T) {
	svc, events, st := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	key := slotKey(t, 2)

	req := wheatSugarRequest("1001")
	req.IdempotencyKey = "form-42"
	first, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Equal(t, first.VerifyURL, second.VerifyURL)

	assert.Equal(t, 1, st.reserved(key))
	assert.Equal(t, 1, st.bookings(key))
	assert.Equal(t, 1, events.count())
}

func TestCreateBooking_PublishFailureKeepsBooking(t *testing.T) {
	svc, events, st := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	events.err = errors.New("broker down")

	conf, err := svc.CreateBooking(context.Background(), wheatSugarRequest("1001"))
	require.NoError(t, err)
	assert.NotEmpty(t, conf.Booking.ID)
	assert.Equal(t, 1, st.bookings(slotKey(t, 2)))
}

func TestVerifyBooking(t *testing.T) {
	svc, _, _ := newFixture(t, Options{}, wheatSugarCitizen("1001"), wheatSugarCitizen("1002"))
	conf, err := svc.CreateBooking(context.Background(), wheatSugarRequest("1001"))
	require.NoError(t, err)

	v, err := svc.VerifyBooking(context.Background(), "1001", conf.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, conf.Booking.ID, v.Booking.ID)
	assert.Equal(t, "Madurai", v.Citizen.District)
	assert.Nil(t, v.Citizen.Entitlement)
	require.NotNil(t, v.Payload)
	assert.Equal(t, "1001", v.Payload.CardID)
	assert.Equal(t, 60, v.Payload.Total)

	// payload bytes survive storage and repeat reads unchanged
	again, err := svc.VerifyBooking(context.Background(), "1001", conf.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, conf.Booking.VerificationPayload, v.Booking.VerificationPayload)
	assert.Equal(t, v.Booking.VerificationPayload, again.Booking.VerificationPayload)

	_, err = svc.VerifyBooking(context.Background(), "1002", conf.Booking.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.VerifyBooking(context.Background(), "1001", "3f2504e0-4f89-41d3-9a0c-0305e82c3301")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.VerifyBooking(context.Background(), "1001", "not-a-uuid")
	requireRejection(t, err, ReasonInvalidInput)
}

func TestAvailability(t *testing.T) {
	svc, _, st := newFixture(t, Options{}, wheatSugarCitizen("1001"))
	st.seedCounter(slotKey(t, 0), 16, 16)
	_, err := svc.CreateBooking(context.Background(), wheatSugarRequest("1001"))
	require.NoError(t, err)

	slots, err := svc.Availability(context.Background(), "FPS1", "2025-03-10")
	require.NoError(t, err)
	require.Len(t, slots, len(model.TimeSlots))
	assert.Equal(t, 16, slots[0].ReservedCount)
	assert.Equal(t, 0, slots[1].ReservedCount)
	assert.Equal(t, 16, slots[1].Capacity)
	assert.Equal(t, 1, slots[2].ReservedCount)
	assert.Equal(t, "FPS1_2025-03-10_slot4", slots[4].Key)

	_, err = svc.Availability(context.Background(), "FPS1", "March 10")
	requireRejection(t, err, ReasonInvalidDate)
	_, err = svc.Availability(context.Background(), "FPS_1", "2025-03-10")
	requireRejection(t, err, ReasonInvalidInput)
}

func TestEntitlementView(t *testing.T) {
	c := wheatSugarCitizen("1001")
	c.Entitlement[model.ItemRice] = model.Allotment{Quantity: 20, Unit: "Kg"}
	svc, _, _ := newFixture(t, Options{}, c)

	v, err := svc.Entitlement(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "FPS1", v.ShopCode)
	assert.Equal(t, []EntitlementLine{
		{Name: model.ItemBoiledRice, Quantity: 10, Unit: "Kg", UnitPrice: 0},
		{Name: model.ItemRawRice, Quantity: 10, Unit: "Kg", UnitPrice: 0},
		{Name: model.ItemSugar, Quantity: 2, Unit: "Kg", UnitPrice: 25},
		{Name: model.ItemWheat, Quantity: 5, Unit: "Kg", UnitPrice: 2},
	}, v.Items)

	_, err = svc.Entitlement(context.Background(), "nobody")
	requireRejection(t, err, ReasonCitizenNotFound)
}
