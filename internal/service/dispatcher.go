package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/push-relay/internal/domain"
	"github.com/kursadbilgin/push-relay/internal/gateway"
	"github.com/kursadbilgin/push-relay/internal/observability"
	"github.com/kursadbilgin/push-relay/internal/queue"
	"github.com/kursadbilgin/push-relay/internal/ratelimit"
	"github.com/kursadbilgin/push-relay/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultMaxPerSecond   = 600
	defaultMaxTaskRetries = 5
	defaultReceiptDelay   = 15 * time.Minute

	flushWindow   = time.Second
	baseTaskDelay = time.Second
	maxTaskDelay  = 60 * time.Second
	budgetScope   = "push"

	// idleWait bounds how long the drain loop parks when the buffer is empty
	// and no deferred task has a known eligibility deadline.
	idleWait = 5 * time.Second
)

// Dispatcher owns the dispatch queue: it accepts tasks from request-handling
// contexts and drains them to the push gateway under the per-second ceiling.
// Only one drain cycle is ever in flight.
type Dispatcher struct {
	buffer   *queue.Buffer
	gateway  gateway.Client
	receipts repository.ReceiptRepository
	limiter  ratelimit.Limiter
	logger   *zap.Logger
	metrics  *observability.Metrics

	maxPerSecond   int
	maxTaskRetries int
	receiptDelay   time.Duration

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	newID   func() string
	running atomic.Bool

	lastFlush time.Time
}

func NewDispatcher(
	buffer *queue.Buffer,
	gatewayClient gateway.Client,
	receipts repository.ReceiptRepository,
	limiter ratelimit.Limiter,
	maxPerSecond int,
	maxTaskRetries int,
	receiptDelay time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if buffer == nil {
		return nil, fmt.Errorf("dispatch buffer is required")
	}
	if gatewayClient == nil {
		return nil, fmt.Errorf("gateway client is required")
	}
	if receipts == nil {
		return nil, fmt.Errorf("receipt repository is required")
	}
	if maxPerSecond <= 0 {
		maxPerSecond = defaultMaxPerSecond
	}
	if maxTaskRetries <= 0 {
		maxTaskRetries = defaultMaxTaskRetries
	}
	if receiptDelay <= 0 {
		receiptDelay = defaultReceiptDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		buffer:         buffer,
		gateway:        gatewayClient,
		receipts:       receipts,
		limiter:        limiter,
		logger:         logger,
		maxPerSecond:   maxPerSecond,
		maxTaskRetries: maxTaskRetries,
		receiptDelay:   receiptDelay,
		now:            time.Now,
		sleep:          sleepWithContext,
		newID:          uuid.NewString,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// EnqueueNotification validates the recipient list, buffers a task, and
// returns how many recipients were queued. It never blocks on network I/O;
// delivery failures surface only through ledger state and logs.
func (d *Dispatcher) EnqueueNotification(
	ctx context.Context,
	tokens []string,
	title string,
	body string,
	data map[string]string,
	options domain.TaskOptions,
	notificationType string,
) (int, error) {
	recipients := domain.ValidTokens(tokens)
	if len(recipients) == 0 {
		return 0, domain.ErrNoValidTokens
	}
	if dropped := len(tokens) - len(recipients); dropped > 0 {
		observability.WithContextLogger(d.logger, ctx).Debug("dropped malformed recipient tokens",
			zap.Int("dropped", dropped),
			zap.Int("queued", len(recipients)),
		)
	}

	task := &domain.NotificationTask{
		Recipients: recipients,
		Title:      title,
		Body:       body,
		Data:       data,
		Options:    options,
		Type:       notificationType,
		EnqueuedAt: d.now(),
	}
	if correlationID, ok := observability.CorrelationIDFromContext(ctx); ok {
		task.CorrelationID = correlationID
	}

	if err := task.Validate(); err != nil {
		return 0, err
	}

	d.buffer.Enqueue(task)
	d.metrics.IncTaskEnqueued(notificationType)
	d.metrics.SetQueueDepth(d.buffer.Len())

	return len(recipients), nil
}

// Start runs the drain loop until context cancellation. It is idempotent:
// a second call while the loop is running returns immediately.
func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	defer d.running.Store(false)

	d.logger.Info("dispatcher started",
		zap.Int("maxPerSecond", d.maxPerSecond),
		zap.Int("maxTaskRetries", d.maxTaskRetries),
	)

	for {
		if ctx.Err() != nil {
			return nil
		}

		flushed, err := d.flush(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Error("dispatch flush failed", zap.Error(err))
		}
		if flushed {
			continue
		}

		wait := idleWait
		if eligibleIn, ok := d.buffer.NextEligibleIn(d.now()); ok && eligibleIn < wait {
			wait = max(eligibleIn, 10*time.Millisecond)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-d.buffer.Wakeup():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// flush performs one drain cycle: wait out the remainder of the one-second
// window, reserve recipient budget, forward one batch, and persist tickets.
// It reports whether any work was attempted.
func (d *Dispatcher) flush(ctx context.Context) (bool, error) {
	now := d.now()
	if d.buffer.PendingRecipients(now) == 0 {
		return false, nil
	}

	if since := now.Sub(d.lastFlush); since >= 0 && since < flushWindow {
		if err := d.sleep(ctx, flushWindow-since); err != nil {
			return false, err
		}
		now = d.now()
	}

	want := min(d.buffer.PendingRecipients(now), d.maxPerSecond)
	if want == 0 {
		return false, nil
	}

	granted := want
	if d.limiter != nil {
		reserved, err := d.limiter.ReserveN(ctx, budgetScope, want)
		if err != nil {
			// A broken limiter must not stall delivery; fall back to the
			// local per-flush budget.
			d.logger.Warn("budget reservation failed, using local budget", zap.Error(err))
		} else {
			granted = reserved
		}
	}
	if granted == 0 {
		// Another replica exhausted this window; try again in the next one.
		if err := d.sleep(ctx, flushWindow); err != nil {
			return false, err
		}
		return true, nil
	}

	slices := d.buffer.Take(now, granted)
	if len(slices) == 0 {
		return false, nil
	}

	messages, recipients := buildMessages(slices)

	sendStart := d.now()
	tickets, sendErr := d.gateway.SendBatch(ctx, messages)
	d.lastFlush = d.now()
	d.metrics.ObserveFlushDuration(d.now().Sub(sendStart))
	d.metrics.SetQueueDepth(d.buffer.Len())

	d.recordTickets(ctx, recipients, tickets)

	if sendErr != nil {
		d.requeueUncovered(slices, len(tickets), sendErr)
		return true, fmt.Errorf("gateway send failed: %w", sendErr)
	}

	d.metrics.AddRecipientsDispatched(len(messages))
	return true, nil
}

// flushRecipient pairs one forwarded message with the task it came from.
type flushRecipient struct {
	token domain.DeviceToken
	task  *domain.NotificationTask
}

func buildMessages(slices []queue.TaskSlice) ([]gateway.Message, []flushRecipient) {
	total := 0
	for _, slice := range slices {
		total += len(slice.Tokens)
	}

	messages := make([]gateway.Message, 0, total)
	recipients := make([]flushRecipient, 0, total)
	for _, slice := range slices {
		task := slice.Task
		for _, token := range slice.Tokens {
			messages = append(messages, gateway.Message{
				To:        token,
				Title:     task.Title,
				Body:      task.Body,
				Data:      task.Data,
				Sound:     task.Options.Sound,
				Priority:  string(task.Options.Priority),
				ChannelID: task.Options.ChannelID,
				TTL:       int(task.Options.TimeToLive.Seconds()),
			})
			recipients = append(recipients, flushRecipient{token: token, task: task})
		}
	}

	return messages, recipients
}

// recordTickets writes one pending ledger record per ok ticket. Immediate
// per-recipient errors are logged and discarded; they are never retried.
func (d *Dispatcher) recordTickets(ctx context.Context, recipients []flushRecipient, tickets []gateway.Ticket) {
	now := d.now()
	for i, ticket := range tickets {
		if i >= len(recipients) {
			break
		}
		recipient := recipients[i]

		if !ticket.OK() || ticket.ID == "" {
			code := gateway.ErrorCode(ticket.Details)
			d.metrics.IncTicketError(code)
			d.logger.Warn("gateway rejected recipient",
				zap.String("token", recipient.token.String()),
				zap.String("code", code),
				zap.String("message", ticket.Message),
			)
			continue
		}

		record := &domain.ReceiptRecord{
			ID:               d.newID(),
			TicketID:         ticket.ID,
			Token:            recipient.token,
			NotificationType: recipient.task.Type,
			Status:           domain.ReceiptStatusPending,
			CheckAfter:       now.Add(d.receiptDelay),
			CreatedAt:        now,
		}
		if err := d.receipts.Insert(ctx, record); err != nil {
			d.logger.Error("failed to persist receipt record",
				zap.String("ticketId", ticket.ID),
				zap.Error(err),
			)
		}
	}
}

// requeueUncovered re-admits recipients the failed send never covered.
// Tickets are issued in call order, so the first `covered` recipients of the
// flush are already accounted for.
func (d *Dispatcher) requeueUncovered(slices []queue.TaskSlice, covered int, sendErr error) {
	transient := gateway.IsTransient(sendErr)
	now := d.now()

	skip := covered
	for _, slice := range slices {
		if skip >= len(slice.Tokens) {
			skip -= len(slice.Tokens)
			continue
		}
		uncovered := slice.Tokens[skip:]
		skip = 0

		task := slice.Task
		retryCount := task.RetryCount + 1
		if !transient {
			d.metrics.IncDispatchDropped("permanent_error")
			d.logger.Error("dropping task after permanent gateway error",
				zap.Int("recipients", len(uncovered)),
				zap.String("correlationId", task.CorrelationID),
				zap.Error(sendErr),
			)
			continue
		}
		if retryCount > d.maxTaskRetries {
			d.metrics.IncDispatchDropped("retry_exhausted")
			d.logger.Error("dropping task after retry budget exhausted",
				zap.Int("recipients", len(uncovered)),
				zap.Int("retryCount", task.RetryCount),
				zap.String("correlationId", task.CorrelationID),
				zap.Error(sendErr),
			)
			continue
		}

		retry := *task
		retry.Recipients = uncovered
		retry.RetryCount = retryCount
		retry.NotBefore = now.Add(taskRetryDelay(retryCount))
		d.buffer.Requeue(&retry)
	}

	d.metrics.SetQueueDepth(d.buffer.Len())
}

// taskRetryDelay computes 2^retryCount * base, capped at maxTaskDelay.
func taskRetryDelay(retryCount int) time.Duration {
	delay := baseTaskDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= maxTaskDelay {
			return maxTaskDelay
		}
	}
	return delay
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
