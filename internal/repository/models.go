package repository

import (
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
)

// ReceiptModel is the persistence model for the receipts table.
type ReceiptModel struct {
	ID               string               `gorm:"type:uuid;primaryKey"`
	TicketID         string               `gorm:"type:varchar(255);not null;uniqueIndex:idx_receipts_ticket_id"`
	Token            string               `gorm:"type:varchar(255);not null"`
	NotificationType string               `gorm:"type:varchar(50);not null"`
	Status           domain.ReceiptStatus `gorm:"type:varchar(20);not null"`
	ErrorMessage     *string              `gorm:"type:text"`
	ErrorDetails     *string              `gorm:"type:text"`
	RetryCount       int                  `gorm:"not null;default:0"`
	CheckAfter       time.Time            `gorm:"type:timestamptz;not null"`
	DeliveredAt      *time.Time           `gorm:"type:timestamptz"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (ReceiptModel) TableName() string {
	return "receipts"
}

func receiptModelFromDomain(r *domain.ReceiptRecord) *ReceiptModel {
	if r == nil {
		return nil
	}

	return &ReceiptModel{
		ID:               r.ID,
		TicketID:         r.TicketID,
		Token:            r.Token.String(),
		NotificationType: r.NotificationType,
		Status:           r.Status,
		ErrorMessage:     r.ErrorMessage,
		ErrorDetails:     r.ErrorDetails,
		RetryCount:       r.RetryCount,
		CheckAfter:       r.CheckAfter,
		DeliveredAt:      r.DeliveredAt,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func receiptModelToDomain(m *ReceiptModel) *domain.ReceiptRecord {
	if m == nil {
		return nil
	}

	return &domain.ReceiptRecord{
		ID:               m.ID,
		TicketID:         m.TicketID,
		Token:            domain.DeviceToken(m.Token),
		NotificationType: m.NotificationType,
		Status:           m.Status,
		ErrorMessage:     m.ErrorMessage,
		ErrorDetails:     m.ErrorDetails,
		RetryCount:       m.RetryCount,
		CheckAfter:       m.CheckAfter,
		DeliveredAt:      m.DeliveredAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}
