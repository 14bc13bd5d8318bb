package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/push-relay/internal/domain"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlRecorder captures every statement gorm generates so dry-run tests can
// assert on the SQL that carries the ledger invariants.
type sqlRecorder struct {
	mu         sync.Mutex
	statements []string
}

func (r *sqlRecorder) LogMode(logger.LogLevel) logger.Interface { return r }

func (r *sqlRecorder) Info(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Warn(context.Context, string, ...interface{})  {}
func (r *sqlRecorder) Error(context.Context, string, ...interface{}) {}

func (r *sqlRecorder) Trace(_ context.Context, _ time.Time, fc func() (string, int64), _ error) {
	sql, _ := fc()
	r.mu.Lock()
	r.statements = append(r.statements, sql)
	r.mu.Unlock()
}

func (r *sqlRecorder) last(t *testing.T) string {
	t.Helper()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.statements) == 0 {
		t.Fatal("no SQL statement recorded")
	}
	return r.statements[len(r.statements)-1]
}

func (r *sqlRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.statements)
}

// newDryRunRepo builds the repo on a dry-run session: statements are
// generated through the real postgres dialector but never sent anywhere.
func newDryRunRepo(t *testing.T) (*GormReceiptRepo, *sqlRecorder) {
	t.Helper()

	recorder := &sqlRecorder{}
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=push_relay dbname=push_relay",
	}), &gorm.Config{
		DryRun:                 true,
		DisableAutomaticPing:   true,
		SkipDefaultTransaction: true,
		Logger:                 recorder,
	})
	if err != nil {
		t.Fatalf("gorm.Open() error = %v", err)
	}

	return NewGormReceiptRepo(db), recorder
}

func assertSQLContains(t *testing.T, sql string, wants ...string) {
	t.Helper()

	for _, want := range wants {
		if !strings.Contains(sql, want) {
			t.Fatalf("generated SQL missing %q:\n%s", want, sql)
		}
	}
}

func TestGormReceiptRepoInsertIgnoresDuplicateTicketID(t *testing.T) {
	t.Parallel()

	repo, recorder := newDryRunRepo(t)

	record := &domain.ReceiptRecord{
		ID:         "5d1c3f2e-6f1a-4a7e-9c3b-2f8d4e6a1b0c",
		TicketID:   "ticket-a",
		Token:      "ExponentPushToken[aaa]",
		Status:     domain.ReceiptStatusPending,
		CheckAfter: time.Date(2026, 3, 14, 10, 15, 0, 0, time.UTC),
	}

	// A second insert for the same ticket id must be a silent no-op, never a
	// second row and never an error.
	for i := 0; i < 2; i++ {
		if err := repo.Insert(context.Background(), record); err != nil {
			t.Fatalf("Insert %d error = %v", i, err)
		}
		assertSQLContains(t, recorder.last(t),
			`INSERT INTO "receipts"`,
			`ON CONFLICT ("ticket_id") DO NOTHING`,
		)
	}
}

func TestGormReceiptRepoRescheduleAdvancesRetryState(t *testing.T) {
	t.Parallel()

	repo, recorder := newDryRunRepo(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if err := repo.Reschedule(context.Background(), []string{"ticket-a", "ticket-b"}, now); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}

	// One failed receipt query bumps the retry count and pushes the check
	// deadline out by 2^retryCount minutes, using the incremented count.
	assertSQLContains(t, recorder.last(t),
		`UPDATE "receipts"`,
		`retry_count + 1`,
		`interval '1 minute' * power(2, retry_count + 1)`,
		`ticket_id IN ('ticket-a','ticket-b')`,
		`'PENDING'`,
	)
}

func TestGormReceiptRepoRescheduleSkipsEmptyBatch(t *testing.T) {
	t.Parallel()

	repo, recorder := newDryRunRepo(t)

	if err := repo.Reschedule(context.Background(), nil, time.Now()); err != nil {
		t.Fatalf("Reschedule() error = %v", err)
	}
	if recorder.count() != 0 {
		t.Fatalf("statements = %d, want 0 for an empty batch", recorder.count())
	}
}

func TestGormReceiptRepoGetDueScansOldestFirstWithinBudget(t *testing.T) {
	t.Parallel()

	repo, recorder := newDryRunRepo(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	if _, err := repo.GetDue(context.Background(), now, 3, 500); err != nil {
		t.Fatalf("GetDue() error = %v", err)
	}

	assertSQLContains(t, recorder.last(t),
		`status = 'PENDING'`,
		`check_after <=`,
		`retry_count < 3`,
		`ORDER BY created_at ASC`,
		`LIMIT 500`,
	)
}

func TestGormReceiptRepoFinalizeGuardsPendingStatus(t *testing.T) {
	t.Parallel()

	repo, recorder := newDryRunRepo(t)
	now := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	// Dry-run updates match zero rows, which must surface as not-found: a
	// record already in a terminal state is never transitioned again.
	if err := repo.MarkDelivered(context.Background(), "ticket-a", now); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkDelivered() error = %v, want ErrNotFound", err)
	}
	assertSQLContains(t, recorder.last(t),
		`'DELIVERED'`,
		`ticket_id = 'ticket-a'`,
		`status = 'PENDING'`,
	)

	details := `{"error":"MessageTooBig"}`
	if err := repo.MarkError(context.Background(), "ticket-b", "message too big", &details); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("MarkError() error = %v, want ErrNotFound", err)
	}
	assertSQLContains(t, recorder.last(t),
		`'ERROR'`,
		`ticket_id = 'ticket-b'`,
		`status = 'PENDING'`,
	)
}
