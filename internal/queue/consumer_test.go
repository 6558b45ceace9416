package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/ration-booking/internal/logger"
)

func sampleEvent(id string) BookingCreatedEvent {
	return BookingCreatedEvent{
		BookingID:     id,
		CitizenID:     "1001",
		ShopCode:      "FPS1",
		SlotKey:       "FPS1_2025-03-10_slot2",
		Date:          "2025-03-10",
		TimeSlot:      "11:00 AM - 12:00 PM",
		Items:         []string{"wheat:5Kg", "sugar:2Kg"},
		TotalAmount:   60,
		PaymentMethod: "upi",
		PaymentStatus: "Completed",
		ReservedCount: 4,
		Capacity:      16,
		CreatedAt:     "2025-03-01T09:00:00Z",
	}
}

func TestHandleMessage_AppendsLines(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	c := &Consumer{LogDir: dir, Log: logger.Nop()}

	for _, id := range []string{"b1", "b2"} {
		body, err := json.Marshal(sampleEvent(id))
		require.NoError(t, err)
		require.NoError(t, c.HandleMessage(body))
	}

	bs, err := os.ReadFile(filepath.Join(dir, BookingLogFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(bs)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "booking_id=b1")
	assert.Contains(t, lines[1], "booking_id=b2")
	assert.Contains(t, lines[0], `slot="11:00 AM - 12:00 PM"`)
	assert.Contains(t, lines[0], "items=[wheat:5Kg,sugar:2Kg]")
	assert.Contains(t, lines[0], "slot_fill=4/16")
}

func TestHandleMessage_Rejects(t *testing.T) {
	c := &Consumer{LogDir: t.TempDir(), Log: logger.Nop()}
	assert.Error(t, c.HandleMessage([]byte("{not json")))
	assert.Error(t, c.HandleMessage([]byte(`{"citizen_id":"1001"}`)))
}
