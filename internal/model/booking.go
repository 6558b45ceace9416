package model

import (
	"strings"
	"time"
)

// StatusBooked is the only status this service writes.  Later
// transitions belong to the collection desk.
const StatusBooked = "Booked"

// Payment methods accepted at booking time and the resulting payment
// status.  UPI is settled instantly by the citizen's app; cash is paid at
// the counter.
const (
	PaymentCash = "cash"
	PaymentUPI  = "upi"

	PaymentCompleted = "Completed"
	PaymentPending   = "Pending"
)

// ValidPaymentMethod reports whether m is a known method.
func ValidPaymentMethod(m string) bool {
	switch strings.ToLower(m) {
	case PaymentCash, PaymentUPI:
		return true
	}
	return false
}

// PaymentStatusFor derives the payment status from the method.
func PaymentStatusFor(method string) string {
	if strings.EqualFold(method, PaymentUPI) {
		return PaymentCompleted
	}
	return PaymentPending
}

// Prices holds the per-unit price in rupees of each item.  Subsidised
// staples are free.
var Prices = map[string]int{
	ItemRawRice:    0,
	ItemBoiledRice: 0,
	ItemWheat:      2,
	ItemSugar:      25,
	ItemPalmOil:    25,
	ItemToorDal:    30,
}

// PriceOf returns the unit price for name, zero when not listed.
func PriceOf(name string) int { return Prices[name] }

// BookingItem is one line of a booking.
type BookingItem struct {
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Unit      string `json:"unit"`
	UnitPrice int    `json:"unitPrice"`
}

// Booking is created once by the booking service and never rewritten by
// it.  VerificationPayload holds the exact bytes encoded into the QR
// symbol.
type Booking struct {
	ID                  string        `json:"id"`
	CitizenID           string        `json:"citizenId"`
	ShopCode            string        `json:"shopCode"`
	SlotKey             string        `json:"slotKey"`
	Date                string        `json:"date"`
	SlotIndex           int           `json:"slotIndex"`
	TimeSlot            string        `json:"timeSlot"`
	Items               []BookingItem `json:"items"`
	PaymentMethod       string        `json:"paymentMethod"`
	PaymentStatus       string        `json:"paymentStatus"`
	TotalAmount         int           `json:"totalAmount"`
	Status              string        `json:"status"`
	VerificationPayload string        `json:"qrData"`
	VerifyURL           string        `json:"verifyUrl"`
	TransactionID       *string       `json:"transactionId"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// TotalOf sums unit price times quantity over items.
func TotalOf(items []BookingItem) int {
	total := 0
	for _, it := range items {
		total += it.UnitPrice * it.Quantity
	}
	return total
}
