package domain

import (
	"fmt"
	"time"
)

// Content limits enforced before enqueue (in characters).
const (
	MaxTitleContent = 120
	MaxBodyContent  = 240
)

// TaskPriority is the delivery priority hint forwarded to the gateway.
type TaskPriority string

const (
	TaskPriorityDefault TaskPriority = "default"
	TaskPriorityNormal  TaskPriority = "normal"
	TaskPriorityHigh    TaskPriority = "high"
)

func (p TaskPriority) IsValid() bool {
	switch p {
	case TaskPriorityDefault, TaskPriorityNormal, TaskPriorityHigh:
		return true
	}
	return false
}

// TaskOptions carries per-notification delivery options.
type TaskOptions struct {
	Sound      string
	Priority   TaskPriority
	ChannelID  string
	TimeToLive time.Duration
}

// NotificationTask is one pending push submission. Tasks live only in
// process memory: the dispatch queue consumes and discards them after
// forwarding to the gateway.
type NotificationTask struct {
	Recipients    []DeviceToken
	Title         string
	Body          string
	Data          map[string]string
	Options       TaskOptions
	Type          string
	CorrelationID string
	RetryCount    int
	EnqueuedAt    time.Time
	// NotBefore defers a requeued task until its backoff delay elapses.
	NotBefore time.Time
}

func (t *NotificationTask) Validate() error {
	if len(t.Recipients) == 0 {
		return fmt.Errorf("%w: at least one recipient is required", ErrValidation)
	}
	if t.Title == "" && t.Body == "" {
		return fmt.Errorf("%w: title or body is required", ErrValidation)
	}
	if titleLen := len([]rune(t.Title)); titleLen > MaxTitleContent {
		return fmt.Errorf("%w: title exceeds %d characters (got %d)", ErrValidation, MaxTitleContent, titleLen)
	}
	if bodyLen := len([]rune(t.Body)); bodyLen > MaxBodyContent {
		return fmt.Errorf("%w: body exceeds %d characters (got %d)", ErrValidation, MaxBodyContent, bodyLen)
	}
	if t.Options.Priority != "" && !t.Options.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, t.Options.Priority)
	}
	return nil
}
