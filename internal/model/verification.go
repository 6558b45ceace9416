package model

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// PayloadVersion is written as the first field of every payload.  Bump
// it when the field list changes; readers switch on it.
const PayloadVersion = 1

// PayloadItem is the item shape inside a verification payload.
type PayloadItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit"`
}

// VerificationPayload is the QR content for a booking.  Field order in
// this struct is the serialized order.
type VerificationPayload struct {
	Version int           `json:"v"`
	CardID  string        `json:"cardId"`
	Date    string        `json:"date"`
	Slot    string        `json:"slot"`
	Items   []PayloadItem `json:"items"`
	Total   int           `json:"total"`
	Payment string        `json:"payment"`
}

// PayloadFor snapshots b.  Items keep the booking's order.
func PayloadFor(b *Booking) VerificationPayload {
	items := make([]PayloadItem, 0, len(b.Items))
	for _, it := range b.Items {
		items = append(items, PayloadItem{Name: it.Name, Quantity: it.Quantity, Unit: it.Unit})
	}
	return VerificationPayload{
		Version: PayloadVersion,
		CardID:  b.CitizenID,
		Date:    b.Date,
		Slot:    b.TimeSlot,
		Items:   items,
		Total:   b.TotalAmount,
		Payment: b.PaymentMethod,
	}
}

// Encode serializes p.  encoding/json writes struct fields in declaration
// order, so equal payloads always produce equal bytes.
func (p VerificationPayload) Encode() (string, error) {
	bs, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(bs), nil
}

// DecodePayload parses a stored payload and rejects unknown versions.
func DecodePayload(s string) (VerificationPayload, error) {
	var p VerificationPayload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return VerificationPayload{}, err
	}
	if p.Version != PayloadVersion {
		return VerificationPayload{}, fmt.Errorf("unsupported payload version %d", p.Version)
	}
	return p, nil
}

// VerifyURL builds {base}/verify-booking/{citizenID}/{bookingID}.
func VerifyURL(base, citizenID, bookingID string) string {
	return strings.TrimRight(base, "/") + "/verify-booking/" +
		url.PathEscape(citizenID) + "/" + url.PathEscape(bookingID)
}
