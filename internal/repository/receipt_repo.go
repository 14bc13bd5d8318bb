package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReceiptRepository is the durable delivery-receipt ledger.
type ReceiptRepository interface {
	// Insert stores a new pending record. It is a no-op when a record with
	// the same ticket id already exists.
	Insert(ctx context.Context, r *domain.ReceiptRecord) error
	GetByTicketID(ctx context.Context, ticketID string) (*domain.ReceiptRecord, error)
	// GetDue returns pending records whose check deadline has passed and
	// whose retry budget is not exhausted, oldest first.
	GetDue(ctx context.Context, now time.Time, maxRetries int, limit int) ([]domain.ReceiptRecord, error)
	MarkDelivered(ctx context.Context, ticketID string, deliveredAt time.Time) error
	MarkError(ctx context.Context, ticketID string, message string, details *string) error
	// Reschedule pushes pending records forward after a failed receipt
	// query: retry count + 1, check deadline = now + 2^(retryCount+1) minutes.
	Reschedule(ctx context.Context, ticketIDs []string, now time.Time) error
	// PurgeOlderThan deletes records created before the cutoff regardless of
	// status, returning how many were removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type GormReceiptRepo struct {
	db *gorm.DB
}

var _ ReceiptRepository = (*GormReceiptRepo)(nil)

func NewGormReceiptRepo(db *gorm.DB) *GormReceiptRepo {
	return &GormReceiptRepo{db: db}
}

func (r *GormReceiptRepo) Insert(ctx context.Context, record *domain.ReceiptRecord) error {
	model := receiptModelFromDomain(record)
	if model == nil {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ticket_id"}},
			DoNothing: true,
		}).
		Create(model).Error
	if err != nil {
		return err
	}

	*record = *receiptModelToDomain(model)
	return nil
}

func (r *GormReceiptRepo) GetByTicketID(ctx context.Context, ticketID string) (*domain.ReceiptRecord, error) {
	var model ReceiptModel
	err := r.db.WithContext(ctx).First(&model, "ticket_id = ?", ticketID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return receiptModelToDomain(&model), nil
}

func (r *GormReceiptRepo) GetDue(ctx context.Context, now time.Time, maxRetries int, limit int) ([]domain.ReceiptRecord, error) {
	var models []ReceiptModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND check_after <= ? AND retry_count < ?", domain.ReceiptStatusPending, now, maxRetries).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	records := make([]domain.ReceiptRecord, 0, len(models))
	for i := range models {
		records = append(records, *receiptModelToDomain(&models[i]))
	}

	return records, nil
}

func (r *GormReceiptRepo) MarkDelivered(ctx context.Context, ticketID string, deliveredAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&ReceiptModel{}).
		Where("ticket_id = ? AND status = ?", ticketID, domain.ReceiptStatusPending).
		Updates(map[string]any{
			"status":       domain.ReceiptStatusDelivered,
			"delivered_at": deliveredAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormReceiptRepo) MarkError(ctx context.Context, ticketID string, message string, details *string) error {
	result := r.db.WithContext(ctx).
		Model(&ReceiptModel{}).
		Where("ticket_id = ? AND status = ?", ticketID, domain.ReceiptStatusPending).
		Updates(map[string]any{
			"status":        domain.ReceiptStatusError,
			"error_message": message,
			"error_details": details,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormReceiptRepo) Reschedule(ctx context.Context, ticketIDs []string, now time.Time) error {
	if len(ticketIDs) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&ReceiptModel{}).
		Where("ticket_id IN ? AND status = ?", ticketIDs, domain.ReceiptStatusPending).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"check_after": gorm.Expr("? + (interval '1 minute' * power(2, retry_count + 1))", now),
		}).Error
}

func (r *GormReceiptRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ReceiptModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
