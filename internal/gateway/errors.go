package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Per-ticket error codes reported by the gateway in receipt/ticket details.
const (
	ErrCodeDeviceNotRegistered = "DeviceNotRegistered"
	ErrCodeMessageTooBig       = "MessageTooBig"
)

// GatewayError classifies whole-call gateway failures as transient/permanent.
type GatewayError struct {
	StatusCode int
	Message    string
	Transient  bool
	Cause      error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "gateway error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *GatewayError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether a gateway call failure should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var gatewayErr *GatewayError
	if errors.As(err, &gatewayErr) {
		return gatewayErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}

	return false
}

// ErrorCode extracts the provider error code from ticket/receipt details.
func ErrorCode(details map[string]any) string {
	if details == nil {
		return ""
	}
	code, _ := details["error"].(string)
	return code
}

// IsDeviceNotRegistered reports whether the details mark the target device
// as permanently unreachable, which must trigger token cleanup.
func IsDeviceNotRegistered(details map[string]any) bool {
	return ErrorCode(details) == ErrCodeDeviceNotRegistered
}
