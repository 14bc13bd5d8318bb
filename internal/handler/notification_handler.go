package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/observability"
)

type NotificationDispatcher interface {
	EnqueueNotification(
		ctx context.Context,
		tokens []string,
		title string,
		body string,
		data map[string]string,
		options domain.TaskOptions,
		notificationType string,
	) (int, error)
}

type TokenRegistrar interface {
	RegisterToken(ctx context.Context, userID string, rawToken string) error
}

type ReceiptReader interface {
	GetByTicketID(ctx context.Context, ticketID string) (*domain.ReceiptRecord, error)
}

type NotificationHandler struct {
	dispatcher NotificationDispatcher
	tokens     TokenRegistrar
	receipts   ReceiptReader
}

func NewNotificationHandler(dispatcher NotificationDispatcher, tokens TokenRegistrar, receipts ReceiptReader) (*NotificationHandler, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("notification dispatcher is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token registrar is required")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt reader is required")
	}
	return &NotificationHandler{dispatcher: dispatcher, tokens: tokens, receipts: receipts}, nil
}

func RegisterNotificationRoutes(router fiber.Router, dispatcher NotificationDispatcher, tokens TokenRegistrar, receipts ReceiptReader) error {
	h, err := NewNotificationHandler(dispatcher, tokens, receipts)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/notifications", h.SendNotification)
	v1.Put("/users/:id/push-token", h.RegisterPushToken)
	v1.Get("/receipts/:ticketId", h.GetReceipt)

	return nil
}

type sendNotificationRequest struct {
	Recipients []string          `json:"recipients"`
	Title      string            `json:"title"`
	Body       string            `json:"body"`
	Data       map[string]string `json:"data,omitempty"`
	Type       string            `json:"type"`
	Sound      string            `json:"sound,omitempty"`
	Priority   string            `json:"priority,omitempty"`
	ChannelID  string            `json:"channelId,omitempty"`
	TTLSeconds int               `json:"ttlSeconds,omitempty"`
}

type sendNotificationResponse struct {
	QueuedRecipients  int `json:"queuedRecipients"`
	DroppedRecipients int `json:"droppedRecipients"`
}

type registerPushTokenRequest struct {
	Token string `json:"token"`
}

type receiptResponse struct {
	TicketID     string     `json:"ticketId"`
	Status       string     `json:"status"`
	ErrorMessage *string    `json:"errorMessage,omitempty"`
	RetryCount   int        `json:"retryCount"`
	CheckAfter   time.Time  `json:"checkAfter"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// SendNotification accepts a push submission and returns as soon as the task
// is buffered. Delivery outcome is observable only via the receipt ledger.
func (h *NotificationHandler) SendNotification(c *fiber.Ctx) error {
	var req sendNotificationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if len(req.Recipients) == 0 {
		return toHTTPError(fmt.Errorf("%w: recipients is required", domain.ErrValidation))
	}

	options := domain.TaskOptions{
		Sound:     strings.TrimSpace(req.Sound),
		Priority:  domain.TaskPriority(strings.TrimSpace(req.Priority)),
		ChannelID: strings.TrimSpace(req.ChannelID),
	}
	if req.TTLSeconds > 0 {
		options.TimeToLive = time.Duration(req.TTLSeconds) * time.Second
	}

	var ctx context.Context = c.Context()
	if correlationID := requestCorrelationID(c); correlationID != "" {
		ctx = observability.WithCorrelationID(ctx, correlationID)
	}

	queued, err := h.dispatcher.EnqueueNotification(
		ctx,
		req.Recipients,
		strings.TrimSpace(req.Title),
		strings.TrimSpace(req.Body),
		req.Data,
		options,
		strings.TrimSpace(req.Type),
	)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(sendNotificationResponse{
		QueuedRecipients:  queued,
		DroppedRecipients: len(req.Recipients) - queued,
	})
}

func (h *NotificationHandler) RegisterPushToken(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("id"))

	var req registerPushTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.tokens.RegisterToken(c.Context(), userID, req.Token); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"userId": userID,
		"status": "registered",
	})
}

// GetReceipt reports the ledger state of one delivery ticket. This is the
// only delivery-outcome surface a submitter has.
func (h *NotificationHandler) GetReceipt(c *fiber.Ctx) error {
	ticketID := strings.TrimSpace(c.Params("ticketId"))

	record, err := h.receipts.GetByTicketID(c.Context(), ticketID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(receiptResponse{
		TicketID:     record.TicketID,
		Status:       record.Status.String(),
		ErrorMessage: record.ErrorMessage,
		RetryCount:   record.RetryCount,
		CheckAfter:   record.CheckAfter,
		DeliveredAt:  record.DeliveredAt,
		CreatedAt:    record.CreatedAt,
	})
}

func requestCorrelationID(c *fiber.Ctx) string {
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return value
	}
	if value, ok := c.Locals("requestid").(string); ok {
		return strings.TrimSpace(value)
	}
	return ""
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidTokenFormat),
		errors.Is(err, domain.ErrNoValidTokens):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	default:
		return err
	}
}
