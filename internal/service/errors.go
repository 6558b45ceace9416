package service

import (
	"errors"
	"fmt"
)

// Reason classifies an expected, user-visible booking failure.
type Reason string

const (
	ReasonSlotFull        Reason = "SLOT_FULL"
	ReasonOverAllocation  Reason = "OVER_ALLOCATION"
	ReasonInvalidSlot     Reason = "INVALID_SLOT"
	ReasonInvalidDate     Reason = "INVALID_DATE"
	ReasonInvalidInput    Reason = "INVALID_INPUT"
	ReasonCitizenNotFound Reason = "CITIZEN_NOT_FOUND"
)

// Rejection is a business-rule failure.  It is returned as an error value
// so callers branch on Reason with errors.As instead of parsing Message.
// A rejected request changed nothing in storage.
type Rejection struct {
	Reason  Reason
	Message string
	Details map[string]any
}

func (r *Rejection) Error() string { return string(r.Reason) + ": " + r.Message }

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func (r *Rejection) with(key string, v any) *Rejection {
	if r.Details == nil {
		r.Details = map[string]any{}
	}
	r.Details[key] = v
	return r
}

// AsRejection unwraps err into a *Rejection when it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// ErrOutcomeUnknown is returned when COMMIT failed.  The booking may or
// may not exist; the request must not be resubmitted blindly.  Clients
// that sent an idempotency key can resubmit with the same key.
var ErrOutcomeUnknown = errors.New("booking outcome unknown")

// ErrNotFound is returned by VerifyBooking when either the booking or
// its citizen is missing.
var ErrNotFound = errors.New("booking not found")
