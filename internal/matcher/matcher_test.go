package matcher_test

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrsonukr/instaguruv2-sub000/internal/database"
	"github.com/mrsonukr/instaguruv2-sub000/internal/events"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/matcher"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
	"github.com/mrsonukr/instaguruv2-sub000/internal/paygate"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migration failed: %v", err)
	}
	return db
}

// stubPull simulates the live aggregator feed.
type stubPull struct {
	txn *models.Transaction
	err error
}

func (p *stubPull) FindPayment(_ context.Context, _ int64, _ time.Duration) (*models.Transaction, error) {
	return p.txn, p.err
}

// captureHandler records delivered events.
type captureHandler struct {
	got chan events.Event
}

func (h *captureHandler) Handle(_ context.Context, ev events.Event) {
	h.got <- ev
}

func TestMatchWebhookOnlyFunded(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	err := ldg.UpsertIfAbsent(ctx, &models.Transaction{
		UTR: "U1", AmountMinor: 4500, ReceivedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := matcher.New(ldg, nil, events.NewEmitter(nil, nil), time.Hour)
	res, err := m.Match(ctx, 4500)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Status != matcher.Funded || res.Txn.UTR != "U1" {
		t.Fatalf("expected funded via ledger, got %+v", res)
	}
}

func TestMatchWaiting(t *testing.T) {
	db := newTestDB(t)
	m := matcher.New(ledger.New(db), nil, events.NewEmitter(nil, nil), time.Hour)

	res, err := m.Match(context.Background(), 4500)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Status != matcher.Waiting {
		t.Fatalf("expected waiting, got %+v", res)
	}
}

func TestMatchPullResultIsPersisted(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	pull := &stubPull{txn: &models.Transaction{
		UTR: "LIVE1", AmountMinor: 4500, ReceivedAt: time.Now().UnixMilli(),
	}}
	m := matcher.New(ldg, pull, events.NewEmitter(nil, nil), time.Hour)

	res, err := m.Match(ctx, 4500)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Status != matcher.Funded || res.Txn.UTR != "LIVE1" {
		t.Fatalf("expected funded from live feed, got %+v", res)
	}

	// The live match must be durable before it is reported.
	stored, err := ldg.GetByUTR(ctx, "LIVE1")
	if err != nil {
		t.Fatalf("live match not persisted: %v", err)
	}
	if stored.Consumed {
		t.Fatal("fresh live match must be unconsumed")
	}
}

func TestMatchFallsBackToLedgerOnUpstreamError(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	err := ldg.UpsertIfAbsent(ctx, &models.Transaction{
		UTR: "OLD1", AmountMinor: 4500, ReceivedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	pull := &stubPull{err: paygate.ErrUpstreamUnavailable}
	m := matcher.New(ldg, pull, events.NewEmitter(nil, nil), time.Hour)

	res, err := m.Match(ctx, 4500)
	if err != nil {
		t.Fatalf("match must degrade, not fail: %v", err)
	}
	if res.Status != matcher.Funded || res.Txn.UTR != "OLD1" {
		t.Fatalf("expected ledger fallback to OLD1, got %+v", res)
	}
}

func TestMatchFallsBackWhenLiveFeedEmpty(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	// Payment arrived earlier via webhook; the live poll no longer
	// surfaces it.
	err := ldg.UpsertIfAbsent(ctx, &models.Transaction{
		UTR: "HOOKED", AmountMinor: 4500, ReceivedAt: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	m := matcher.New(ldg, &stubPull{}, events.NewEmitter(nil, nil), time.Hour)
	res, err := m.Match(ctx, 4500)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Status != matcher.Funded || res.Txn.UTR != "HOOKED" {
		t.Fatalf("expected webhook-recorded payment, got %+v", res)
	}
}

func TestMatchEmitsAuthExpired(t *testing.T) {
	db := newTestDB(t)
	handler := &captureHandler{got: make(chan events.Event, 1)}
	emitter := events.NewEmitter(nil, handler)

	m := matcher.New(ledger.New(db), &stubPull{err: paygate.ErrUpstreamAuth}, emitter, time.Hour)
	res, err := m.Match(context.Background(), 4500)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if res.Status != matcher.Waiting {
		t.Fatalf("expected waiting after degraded auth failure, got %+v", res)
	}

	select {
	case ev := <-handler.got:
		if ev.Kind != events.AuthExpired {
			t.Fatalf("expected auth_expired event, got %s", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("auth_expired event never delivered")
	}
}
