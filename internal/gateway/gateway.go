package gateway

import (
	"context"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// Provider-defined batch ceilings. One oversized request is split into
// multiple calls and the results concatenated in call order.
const (
	SendBatchLimit    = 100
	ReceiptBatchLimit = 1000
)

// Well-known statuses shared by tickets and receipts.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message is one per-recipient push payload forwarded to the gateway.
type Message struct {
	To        domain.DeviceToken `json:"to"`
	Title     string             `json:"title,omitempty"`
	Body      string             `json:"body,omitempty"`
	Data      map[string]string  `json:"data,omitempty"`
	Sound     string             `json:"sound,omitempty"`
	Priority  string             `json:"priority,omitempty"`
	ChannelID string             `json:"channelId,omitempty"`
	TTL       int                `json:"ttl,omitempty"`
}

// Ticket is the synchronous per-recipient outcome of a send call: either an
// opaque ticket id or an immediate error.
type Ticket struct {
	ID      string         `json:"id,omitempty"`
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (t Ticket) OK() bool { return t.Status == StatusOK }

// Receipt is the gateway's final answer for a previously issued ticket.
type Receipt struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

func (r Receipt) Delivered() bool { return r.Status == StatusOK }

// Client is the outbound push gateway port.
type Client interface {
	// SendBatch forwards messages to the gateway, chunking to SendBatchLimit.
	// On a mid-batch failure the tickets issued so far are returned together
	// with the error so the caller can requeue only the uncovered remainder.
	SendBatch(ctx context.Context, messages []Message) ([]Ticket, error)

	// QueryReceipts resolves delivery receipts for ticket ids, chunking to
	// ReceiptBatchLimit. Ids the gateway has no receipt for yet are absent
	// from the result map.
	QueryReceipts(ctx context.Context, ticketIDs []string) (map[string]Receipt, error)
}
