package domain

import (
	"fmt"
	"strings"
	"time"
)

// ReceiptStatus represents the lifecycle state of a delivery receipt.
type ReceiptStatus string

const (
	ReceiptStatusPending   ReceiptStatus = "PENDING"
	ReceiptStatusDelivered ReceiptStatus = "DELIVERED"
	ReceiptStatusError     ReceiptStatus = "ERROR"
)

func (s ReceiptStatus) String() string { return string(s) }

func (s ReceiptStatus) IsValid() bool {
	switch s {
	case ReceiptStatusPending, ReceiptStatusDelivered, ReceiptStatusError:
		return true
	}
	return false
}

// IsTerminal reports whether the record can no longer transition.
func (s ReceiptStatus) IsTerminal() bool {
	return s == ReceiptStatusDelivered || s == ReceiptStatusError
}

func ParseReceiptStatusFromString(s string) (ReceiptStatus, error) {
	st := ReceiptStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid receipt status %q", ErrValidation, s)
	}
	return st, nil
}

// ReceiptRecord is the durable ledger entry for one delivery ticket.
// Exactly one record exists per ticket id; only the reconciler mutates it
// after insert. The recipient token is kept so a not-registered receipt can
// be traced back to the owning user.
type ReceiptRecord struct {
	ID               string
	TicketID         string
	Token            DeviceToken
	NotificationType string
	Status           ReceiptStatus
	ErrorMessage     *string
	ErrorDetails     *string
	RetryCount       int
	CheckAfter       time.Time
	DeliveredAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
