package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kursadbilgin/push-relay/internal/directory"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/gateway"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval = 30 * time.Minute
	defaultMaxReceiptRetries = 3
	defaultReceiptRetention  = 24 * time.Hour
	defaultReceiptScanLimit  = gateway.ReceiptBatchLimit
)

// Reconciler periodically confirms final delivery status for pending ledger
// records against the push gateway and repairs state on failure. A cycle is
// never re-entered: overlapping triggers are skipped.
type Reconciler struct {
	receipts  repository.ReceiptRepository
	gateway   gateway.Client
	directory directory.UserDirectory
	logger    *zap.Logger
	metrics   *observability.Metrics

	interval   time.Duration
	maxRetries int
	retention  time.Duration
	scanLimit  int

	now     func() time.Time
	cycle   sync.Mutex
	running atomic.Bool
}

func NewReconciler(
	receipts repository.ReceiptRepository,
	gatewayClient gateway.Client,
	userDirectory directory.UserDirectory,
	interval time.Duration,
	maxRetries int,
	retention time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if receipts == nil {
		return nil, fmt.Errorf("receipt repository is required")
	}
	if gatewayClient == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if userDirectory == nil {
		return nil, fmt.Errorf("user directory is required")
	}
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxReceiptRetries
	}
	if retention <= 0 {
		retention = defaultReceiptRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		receipts:   receipts,
		gateway:    gatewayClient,
		directory:  userDirectory,
		logger:     logger,
		interval:   interval,
		maxRetries: maxRetries,
		retention:  retention,
		scanLimit:  defaultReceiptScanLimit,
		now:        time.Now,
	}, nil
}

func (r *Reconciler) SetMetrics(metrics *observability.Metrics) {
	if r == nil {
		return
	}
	r.metrics = metrics
}

// Start runs the reconciliation timer until context cancellation. It is
// idempotent: a second call while the loop is running returns immediately.
func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	defer r.running.Store(false)

	r.logger.Info("receipt reconciler started",
		zap.Duration("interval", r.interval),
		zap.Int("maxRetries", r.maxRetries),
		zap.Duration("retention", r.retention),
	)

	if err := r.reconcile(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial reconciliation failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconciliation failed", zap.Error(err))
			}
		}
	}
}

// reconcile runs one pass: query receipts for due records, close them out,
// and clear tokens the gateway reported as no longer registered. When no
// records are due it runs the retention cleanup instead.
func (r *Reconciler) reconcile(ctx context.Context) error {
	if !r.cycle.TryLock() {
		return nil
	}
	defer r.cycle.Unlock()

	now := r.now()
	due, err := r.receipts.GetDue(ctx, now, r.maxRetries, r.scanLimit)
	if err != nil {
		return fmt.Errorf("failed to fetch due receipt records: %w", err)
	}

	if len(due) == 0 {
		return r.cleanup(ctx, now)
	}

	staleTokens := make(map[domain.DeviceToken]struct{})
	for start := 0; start < len(due); start += gateway.ReceiptBatchLimit {
		end := min(start+gateway.ReceiptBatchLimit, len(due))
		r.reconcileChunk(ctx, due[start:end], now, staleTokens)
	}

	r.invalidateTokens(ctx, staleTokens)
	return nil
}

func (r *Reconciler) reconcileChunk(
	ctx context.Context,
	chunk []domain.ReceiptRecord,
	now time.Time,
	staleTokens map[domain.DeviceToken]struct{},
) {
	ids := make([]string, 0, len(chunk))
	for i := range chunk {
		ids = append(ids, chunk[i].TicketID)
	}

	results, err := r.gateway.QueryReceipts(ctx, ids)
	if err != nil {
		// A failed query is not a failed delivery: keep every record in the
		// chunk pending and push its check deadline out.
		r.metrics.IncReceiptQueryFailure()
		r.logger.Warn("receipt query failed, rescheduling chunk",
			zap.Int("records", len(ids)),
			zap.Error(err),
		)
		if rescheduleErr := r.receipts.Reschedule(ctx, ids, now); rescheduleErr != nil {
			r.logger.Error("failed to reschedule receipt chunk", zap.Error(rescheduleErr))
		}
		return
	}

	for i := range chunk {
		record := chunk[i]
		receipt, ok := results[record.TicketID]
		if !ok {
			// No receipt yet; the record stays due and is retried next pass.
			continue
		}

		switch {
		case receipt.Delivered():
			if err := r.receipts.MarkDelivered(ctx, record.TicketID, now); err != nil {
				r.logger.Error("failed to mark receipt delivered",
					zap.String("ticketId", record.TicketID),
					zap.Error(err),
				)
				continue
			}
			r.metrics.IncReceiptResolved("delivered")

		case receipt.Status == gateway.StatusError:
			details := encodeReceiptDetails(receipt.Details)
			if err := r.receipts.MarkError(ctx, record.TicketID, receipt.Message, details); err != nil {
				r.logger.Error("failed to mark receipt error",
					zap.String("ticketId", record.TicketID),
					zap.Error(err),
				)
				continue
			}
			r.metrics.IncReceiptResolved("error")
			r.logger.Warn("gateway reported delivery error",
				zap.String("ticketId", record.TicketID),
				zap.String("code", gateway.ErrorCode(receipt.Details)),
				zap.String("message", receipt.Message),
			)
			if gateway.IsDeviceNotRegistered(receipt.Details) {
				staleTokens[record.Token] = struct{}{}
			}

		default:
			r.logger.Warn("gateway returned unknown receipt status",
				zap.String("ticketId", record.TicketID),
				zap.String("status", receipt.Status),
			)
		}
	}
}

// cleanup deletes records older than the retention window regardless of
// status. Records still inside the window are never touched.
func (r *Reconciler) cleanup(ctx context.Context, now time.Time) error {
	purged, err := r.receipts.PurgeOlderThan(ctx, now.Add(-r.retention))
	if err != nil {
		return fmt.Errorf("receipt cleanup failed: %w", err)
	}
	if purged > 0 {
		r.metrics.AddReceiptsPurged(purged)
		r.logger.Info("purged expired receipt records", zap.Int64("count", purged))
	}
	return nil
}

// invalidateTokens clears tokens the gateway reported as not registered from
// every user the directory associates with them.
func (r *Reconciler) invalidateTokens(ctx context.Context, staleTokens map[domain.DeviceToken]struct{}) {
	for token := range staleTokens {
		users, err := r.directory.FindByToken(ctx, token)
		if err != nil {
			r.logger.Error("failed to resolve users for stale token", zap.Error(err))
			continue
		}

		cleared := 0
		for _, user := range users {
			if err := r.directory.UpdateUser(ctx, user.ID, directory.ClearTokenPatch()); err != nil {
				r.logger.Error("failed to clear stale device token",
					zap.String("userId", user.ID),
					zap.Error(err),
				)
				continue
			}
			cleared++
		}

		if cleared > 0 {
			r.metrics.AddTokensInvalidated(cleared)
			r.logger.Info("cleared stale device token",
				zap.String("token", token.String()),
				zap.Int("users", cleared),
			)
		}
	}
}

func encodeReceiptDetails(details map[string]any) *string {
	if len(details) == 0 {
		return nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	encoded := string(raw)
	return &encoded
}
