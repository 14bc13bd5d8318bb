package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	defaultExpoTimeout = 10 * time.Second
	sendPath           = "/--/api/v2/push/send"
	getReceiptsPath    = "/--/api/v2/push/getReceipts"
)

type expoSendResponse struct {
	Data   []Ticket       `json:"data"`
	Errors []expoAPIError `json:"errors"`
}

type expoReceiptRequest struct {
	IDs []string `json:"ids"`
}

type expoReceiptResponse struct {
	Data   map[string]Receipt `json:"data"`
	Errors []expoAPIError     `json:"errors"`
}

type expoAPIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExpoClient talks to the Expo push HTTP API.
type ExpoClient struct {
	client  *resty.Client
	baseURL string
}

var _ Client = (*ExpoClient)(nil)

func NewExpoClient(baseURL string) (*ExpoClient, error) {
	client := resty.New()
	client.SetTimeout(defaultExpoTimeout)
	client.SetRetryCount(0)

	return NewExpoClientWithClient(baseURL, client)
}

func NewExpoClientWithClient(baseURL string, client *resty.Client) (*ExpoClient, error) {
	trimmedURL := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmedURL == "" {
		return nil, fmt.Errorf("expo base url is required")
	}
	if _, err := url.ParseRequestURI(trimmedURL); err != nil {
		return nil, fmt.Errorf("invalid expo base url: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultExpoTimeout)
	}
	client.SetRetryCount(0)

	return &ExpoClient{
		client:  client,
		baseURL: trimmedURL,
	}, nil
}

func (c *ExpoClient) SendBatch(ctx context.Context, messages []Message) ([]Ticket, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("gateway client is not initialized")
	}
	if len(messages) == 0 {
		return nil, nil
	}

	tickets := make([]Ticket, 0, len(messages))
	for start := 0; start < len(messages); start += SendBatchLimit {
		end := min(start+SendBatchLimit, len(messages))

		var parsed expoSendResponse
		if err := c.post(ctx, sendPath, messages[start:end], &parsed); err != nil {
			return tickets, err
		}

		if len(parsed.Data) != end-start {
			return tickets, &GatewayError{
				Message:   fmt.Sprintf("ticket count mismatch: sent %d messages, got %d tickets", end-start, len(parsed.Data)),
				Transient: true,
			}
		}

		tickets = append(tickets, parsed.Data...)
	}

	return tickets, nil
}

func (c *ExpoClient) QueryReceipts(ctx context.Context, ticketIDs []string) (map[string]Receipt, error) {
	if c == nil || c.client == nil {
		return nil, fmt.Errorf("gateway client is not initialized")
	}
	if len(ticketIDs) == 0 {
		return map[string]Receipt{}, nil
	}

	receipts := make(map[string]Receipt, len(ticketIDs))
	for start := 0; start < len(ticketIDs); start += ReceiptBatchLimit {
		end := min(start+ReceiptBatchLimit, len(ticketIDs))

		var parsed expoReceiptResponse
		if err := c.post(ctx, getReceiptsPath, expoReceiptRequest{IDs: ticketIDs[start:end]}, &parsed); err != nil {
			return receipts, err
		}

		for id, receipt := range parsed.Data {
			receipts[id] = receipt
		}
	}

	return receipts, nil
}

func (c *ExpoClient) post(ctx context.Context, path string, body any, result any) error {
	response, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(body).
		SetResult(result).
		Post(c.baseURL + path)
	if err != nil {
		return &GatewayError{
			Message:   "gateway request failed",
			Transient: !errors.Is(err, context.Canceled),
			Cause:     err,
		}
	}
	if response == nil {
		return &GatewayError{
			Message:   "gateway returned empty response",
			Transient: true,
		}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		return &GatewayError{
			StatusCode: statusCode,
			Message:    gatewayErrorMessage(statusCode, strings.TrimSpace(response.String())),
			Transient:  isTransientHTTPStatus(statusCode),
		}
	}

	return nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func gatewayErrorMessage(statusCode int, body string) string {
	base := fmt.Sprintf("gateway returned status %d", statusCode)
	if body == "" {
		return base
	}
	return fmt.Sprintf("%s: %s", base, body)
}
