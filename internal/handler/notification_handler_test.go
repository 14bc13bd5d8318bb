package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/push-relay/internal/domain"
)

type stubDispatcher struct {
	enqueueFn func(ctx context.Context, tokens []string, title, body string, data map[string]string, options domain.TaskOptions, notificationType string) (int, error)
}

func (s *stubDispatcher) EnqueueNotification(
	ctx context.Context,
	tokens []string,
	title string,
	body string,
	data map[string]string,
	options domain.TaskOptions,
	notificationType string,
) (int, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, tokens, title, body, data, options, notificationType)
	}
	return len(tokens), nil
}

type stubRegistrar struct {
	registerFn func(ctx context.Context, userID string, rawToken string) error
}

func (s *stubRegistrar) RegisterToken(ctx context.Context, userID string, rawToken string) error {
	if s.registerFn != nil {
		return s.registerFn(ctx, userID, rawToken)
	}
	return nil
}

type stubReceipts struct {
	getFn func(ctx context.Context, ticketID string) (*domain.ReceiptRecord, error)
}

func (s *stubReceipts) GetByTicketID(ctx context.Context, ticketID string) (*domain.ReceiptRecord, error) {
	if s.getFn != nil {
		return s.getFn(ctx, ticketID)
	}
	return nil, domain.ErrNotFound
}

func newNotificationTestApp(t *testing.T, dispatcher NotificationDispatcher, tokens TokenRegistrar, receipts ReceiptReader) *fiber.App {
	t.Helper()

	app := fiber.New()
	if err := RegisterNotificationRoutes(app, dispatcher, tokens, receipts); err != nil {
		t.Fatalf("RegisterNotificationRoutes() error = %v", err)
	}
	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, target string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body error = %v", err)
	}
	return resp, raw
}

func TestSendNotificationAccepted(t *testing.T) {
	t.Parallel()

	dispatcher := &stubDispatcher{
		enqueueFn: func(_ context.Context, tokens []string, title, _ string, _ map[string]string, options domain.TaskOptions, notificationType string) (int, error) {
			if title != "New post" {
				t.Errorf("title = %q, want New post", title)
			}
			if notificationType != "NEW_POST" {
				t.Errorf("type = %q, want NEW_POST", notificationType)
			}
			if options.Priority != domain.TaskPriorityHigh {
				t.Errorf("priority = %q, want high", options.Priority)
			}
			// One of the two submitted tokens is malformed.
			return len(tokens) - 1, nil
		},
	}
	app := newNotificationTestApp(t, dispatcher, &stubRegistrar{}, &stubReceipts{})

	body := `{"recipients":["ExponentPushToken[aaa]","garbage"],"title":"New post","body":"check it out","type":"NEW_POST","priority":"high"}`
	resp, raw := performRequest(t, app, http.MethodPost, "/v1/notifications", body)
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("status = %d, want 202, body=%s", resp.StatusCode, string(raw))
	}

	var parsed sendNotificationResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.QueuedRecipients != 1 || parsed.DroppedRecipients != 1 {
		t.Fatalf("response = %+v, want 1 queued / 1 dropped", parsed)
	}
}

func TestSendNotificationValidationErrors(t *testing.T) {
	t.Parallel()

	dispatcher := &stubDispatcher{
		enqueueFn: func(_ context.Context, tokens []string, _, _ string, _ map[string]string, _ domain.TaskOptions, _ string) (int, error) {
			return 0, domain.ErrNoValidTokens
		},
	}
	app := newNotificationTestApp(t, dispatcher, &stubRegistrar{}, &stubReceipts{})

	tests := []struct {
		name string
		body string
	}{
		{name: "missing recipients", body: `{"title":"hi","body":"there"}`},
		{name: "all tokens malformed", body: `{"recipients":["garbage"],"title":"hi"}`},
		{name: "malformed json", body: `{"recipients":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, raw := performRequest(t, app, http.MethodPost, "/v1/notifications", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(raw))
			}
		})
	}
}

func TestRegisterPushToken(t *testing.T) {
	t.Parallel()

	registrar := &stubRegistrar{
		registerFn: func(_ context.Context, userID string, rawToken string) error {
			if userID != "user-42" {
				t.Errorf("userID = %q, want user-42", userID)
			}
			if rawToken != "ExponentPushToken[bbb]" {
				t.Errorf("token = %q", rawToken)
			}
			return nil
		},
	}
	app := newNotificationTestApp(t, &stubDispatcher{}, registrar, &stubReceipts{})

	resp, raw := performRequest(t, app, http.MethodPut, "/v1/users/user-42/push-token", `{"token":"ExponentPushToken[bbb]"}`)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}
}

func TestGetReceipt(t *testing.T) {
	t.Parallel()

	checkAfter := time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC)
	receipts := &stubReceipts{
		getFn: func(_ context.Context, ticketID string) (*domain.ReceiptRecord, error) {
			if ticketID != "ticket-a" {
				t.Errorf("ticketID = %q, want ticket-a", ticketID)
			}
			return &domain.ReceiptRecord{
				TicketID:   "ticket-a",
				Token:      "ExponentPushToken[aaa]",
				Status:     domain.ReceiptStatusPending,
				RetryCount: 1,
				CheckAfter: checkAfter,
			}, nil
		},
	}
	app := newNotificationTestApp(t, &stubDispatcher{}, &stubRegistrar{}, receipts)

	resp, raw := performRequest(t, app, http.MethodGet, "/v1/receipts/ticket-a", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(raw))
	}

	var parsed receiptResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if parsed.TicketID != "ticket-a" || parsed.Status != domain.ReceiptStatusPending.String() {
		t.Fatalf("response = %+v, want pending ticket-a", parsed)
	}
	if parsed.RetryCount != 1 || !parsed.CheckAfter.Equal(checkAfter) {
		t.Fatalf("response = %+v, want retryCount 1 and checkAfter %v", parsed, checkAfter)
	}
}

func TestGetReceiptNotFound(t *testing.T) {
	t.Parallel()

	app := newNotificationTestApp(t, &stubDispatcher{}, &stubRegistrar{}, &stubReceipts{})

	resp, _ := performRequest(t, app, http.MethodGet, "/v1/receipts/unknown", "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRegisterPushTokenErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "malformed token",
			err:        fmt.Errorf("%w: %q", domain.ErrInvalidTokenFormat, "apns:abc"),
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "unknown user",
			err:        fmt.Errorf("lookup failed: %w", domain.ErrUserNotFound),
			wantStatus: fiber.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			registrar := &stubRegistrar{
				registerFn: func(_ context.Context, _ string, _ string) error {
					return tt.err
				},
			}
			app := newNotificationTestApp(t, &stubDispatcher{}, registrar, &stubReceipts{})

			resp, _ := performRequest(t, app, http.MethodPut, "/v1/users/user-1/push-token", `{"token":"whatever"}`)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
		})
	}
}
