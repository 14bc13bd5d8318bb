package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestParseReceiptStatusFromString(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input   string
		want    ReceiptStatus
		wantErr bool
	}{
		{input: "pending", want: ReceiptStatusPending},
		{input: " DELIVERED ", want: ReceiptStatusDelivered},
		{input: "Error", want: ReceiptStatusError},
		{input: "unknown", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(strings.TrimSpace(tc.input)+"_case", func(t *testing.T) {
			t.Parallel()

			got, err := ParseReceiptStatusFromString(tc.input)
			if tc.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("error = %v, want ErrValidation", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("status = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestReceiptStatusIsTerminal(t *testing.T) {
	t.Parallel()

	if ReceiptStatusPending.IsTerminal() {
		t.Fatal("pending must not be terminal")
	}
	if !ReceiptStatusDelivered.IsTerminal() {
		t.Fatal("delivered must be terminal")
	}
	if !ReceiptStatusError.IsTerminal() {
		t.Fatal("error must be terminal")
	}
}

func TestNotificationTaskValidate(t *testing.T) {
	t.Parallel()

	valid := &NotificationTask{
		Recipients: []DeviceToken{"ExponentPushToken[a]"},
		Title:      "hello",
		Body:       "world",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	testCases := []struct {
		name string
		task NotificationTask
	}{
		{name: "no recipients", task: NotificationTask{Title: "t"}},
		{
			name: "no content",
			task: NotificationTask{Recipients: []DeviceToken{"ExponentPushToken[a]"}},
		},
		{
			name: "body too long",
			task: NotificationTask{
				Recipients: []DeviceToken{"ExponentPushToken[a]"},
				Body:       strings.Repeat("x", MaxBodyContent+1),
			},
		},
		{
			name: "invalid priority",
			task: NotificationTask{
				Recipients: []DeviceToken{"ExponentPushToken[a]"},
				Body:       "b",
				Options:    TaskOptions{Priority: "urgent"},
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if err := tc.task.Validate(); !errors.Is(err, ErrValidation) {
				t.Fatalf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}
