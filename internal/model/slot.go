package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultSlotCapacity is the number of bookings a slot accepts when the
// counter is created without an explicit capacity.
const DefaultSlotCapacity = 16

// DateLayout is the only accepted booking date format.
const DateLayout = "2006-01-02"

// TimeSlots is the fixed, ordered catalog of collection windows.  A slot
// index refers to a position in this list.
var TimeSlots = []string{
	"09:00 AM - 10:00 AM",
	"10:00 AM - 11:00 AM",
	"11:00 AM - 12:00 PM",
	"02:00 PM - 03:00 PM",
	"03:00 PM - 04:00 PM",
}

// ValidSlotIndex reports whether i is inside the catalog.
func ValidSlotIndex(i int) bool { return i >= 0 && i < len(TimeSlots) }

// SlotLabel returns the catalog label for i or "" when out of range.
func SlotLabel(i int) string {
	if !ValidSlotIndex(i) {
		return ""
	}
	return TimeSlots[i]
}

// SlotIndexOf returns the catalog index of label, -1 when unknown.
func SlotIndexOf(label string) int {
	label = strings.TrimSpace(label)
	for i, l := range TimeSlots {
		if strings.EqualFold(l, label) {
			return i
		}
	}
	return -1
}

var ErrInvalidSlotKey = errors.New("invalid slot key")

// SlotKey identifies one bookable (shop, date, time window) resource.
type SlotKey struct {
	ShopCode string
	Date     string
	Index    int
}

// NewSlotKey validates its parts.  Shop codes may not contain '_' so
// that the string form stays unambiguous.
func NewSlotKey(shopCode, date string, index int) (SlotKey, error) {
	shopCode = strings.TrimSpace(shopCode)
	if shopCode == "" || strings.Contains(shopCode, "_") {
		return SlotKey{}, fmt.Errorf("%w: shop code %q", ErrInvalidSlotKey, shopCode)
	}
	if _, err := time.Parse(DateLayout, date); err != nil {
		return SlotKey{}, fmt.Errorf("%w: date %q", ErrInvalidSlotKey, date)
	}
	if !ValidSlotIndex(index) {
		return SlotKey{}, fmt.Errorf("%w: slot index %d", ErrInvalidSlotKey, index)
	}
	return SlotKey{ShopCode: shopCode, Date: date, Index: index}, nil
}

// String renders {shopCode}_{date}_slot{index}.
func (k SlotKey) String() string {
	return k.ShopCode + "_" + k.Date + "_slot" + strconv.Itoa(k.Index)
}

// Label is the catalog label of the key's window.
func (k SlotKey) Label() string { return SlotLabel(k.Index) }

// ParseSlotKey is the inverse of SlotKey.String.
func ParseSlotKey(s string) (SlotKey, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 3 || !strings.HasPrefix(parts[2], "slot") {
		return SlotKey{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, s)
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(parts[2], "slot"))
	if err != nil {
		return SlotKey{}, fmt.Errorf("%w: %q", ErrInvalidSlotKey, s)
	}
	return NewSlotKey(parts[0], parts[1], idx)
}

// SlotCounter is the persisted reservation count for one SlotKey.
type SlotCounter struct {
	Key           string    `json:"id"`
	ShopCode      string    `json:"shopCode"`
	Date          string    `json:"date"`
	SlotIndex     int       `json:"slotIndex"`
	TimeSlot      string    `json:"timeSlot"`
	ReservedCount int       `json:"reservedCount"`
	Capacity      int       `json:"capacity"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Remaining is capacity minus reserved, never negative.
func (c SlotCounter) Remaining() int {
	if c.ReservedCount >= c.Capacity {
		return 0
	}
	return c.Capacity - c.ReservedCount
}

// MarshalJSON adds the derived remaining count for the booking form.
func (c SlotCounter) MarshalJSON() ([]byte, error) {
	type plain SlotCounter
	return json.Marshal(struct {
		plain
		Remaining int `json:"remaining"`
	}{plain(c), c.Remaining()})
}
