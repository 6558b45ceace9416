// Package queue carries booking events over RabbitMQ: the publisher used
// by the booking service and the consumer that keeps the booking log.
package queue

// BookingQueue is the durable queue booking events are published to.
const BookingQueue = "booking.created"

// BookingCreatedEvent is published after a booking commits.  It carries
// enough for downstream consumers to log or audit without reading the
// database.
type BookingCreatedEvent struct {
	BookingID     string   `json:"booking_id"`
	CitizenID     string   `json:"citizen_id"`
	ShopCode      string   `json:"shop_code"`
	SlotKey       string   `json:"slot_key"`
	Date          string   `json:"date"`
	TimeSlot      string   `json:"time_slot"`
	Items         []string `json:"items"`
	TotalAmount   int      `json:"total_amount"`
	PaymentMethod string   `json:"payment_method"`
	PaymentStatus string   `json:"payment_status"`
	ReservedCount int      `json:"reserved_count"`
	Capacity      int      `json:"capacity"`
	CreatedAt     string   `json:"created_at"`
}
