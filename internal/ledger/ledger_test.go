package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrsonukr/instaguruv2-sub000/internal/database"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
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

func seed(t *testing.T, ldg *ledger.Ledger, utr string, amountMinor, receivedAt int64) {
	t.Helper()
	err := ldg.UpsertIfAbsent(context.Background(), &models.Transaction{
		UTR:         utr,
		AmountMinor: amountMinor,
		ReceivedAt:  receivedAt,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", utr, err)
	}
}

func TestUpsertIfAbsentIdempotent(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U1", 4500, 1000)

	// Retried delivery with a different payload must not alter the row.
	err := ldg.UpsertIfAbsent(ctx, &models.Transaction{
		UTR:         "U1",
		AmountMinor: 9900,
		PayerName:   "someone-else",
		ReceivedAt:  2000,
	})
	if err != nil {
		t.Fatalf("duplicate upsert: %v", err)
	}

	var count int64
	if err := db.Model(&models.Transaction{}).Where("utr = ?", "U1").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row for U1, got %d", count)
	}

	stored, err := ldg.GetByUTR(ctx, "U1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.AmountMinor != 4500 {
		t.Fatalf("amount changed on duplicate insert: got %d", stored.AmountMinor)
	}
	if stored.Consumed {
		t.Fatal("fresh transaction must be unconsumed")
	}
}

func TestFindOldestUnconsumedFIFO(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U3", 4500, 3000)
	seed(t, ldg, "U1", 4500, 1000)
	seed(t, ldg, "U2", 4500, 2000)
	seed(t, ldg, "X1", 9900, 500)

	txn, err := ldg.FindOldestUnconsumed(ctx, 4500, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if txn == nil || txn.UTR != "U1" {
		t.Fatalf("expected oldest match U1, got %+v", txn)
	}

	if err := ldg.MarkConsumed(ctx, "U1", "O1"); err != nil {
		t.Fatalf("consume U1: %v", err)
	}

	txn, err = ldg.FindOldestUnconsumed(ctx, 4500, 0)
	if err != nil {
		t.Fatalf("find after consume: %v", err)
	}
	if txn == nil || txn.UTR != "U2" {
		t.Fatalf("expected next-oldest U2, got %+v", txn)
	}
}

func TestFindOldestUnconsumedWindow(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "OLD", 4500, 1000)

	txn, err := ldg.FindOldestUnconsumed(ctx, 4500, 5000)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if txn != nil {
		t.Fatalf("expected no match outside window, got %+v", txn)
	}
}

func TestMarkConsumedAtMostOnce(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U1", 4500, 1000)

	if err := ldg.MarkConsumed(ctx, "U1", "O1"); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	err := ldg.MarkConsumed(ctx, "U1", "O2")
	if !errors.Is(err, ledger.ErrAlreadyConsumed) {
		t.Fatalf("expected ErrAlreadyConsumed, got %v", err)
	}

	stored, err := ldg.GetByUTR(ctx, "U1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.BoundOrderID == nil || *stored.BoundOrderID != "O1" {
		t.Fatalf("winner's order id must stick, got %v", stored.BoundOrderID)
	}
}

func TestMarkConsumedConcurrent(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U1", 4500, time.Now().UnixMilli())

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = ldg.MarkConsumed(ctx, "U1", "order")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ledger.ErrAlreadyConsumed):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
}

func TestFindRecentlyConsumed(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U1", 4500, 1000)
	if err := ldg.MarkConsumed(ctx, "U1", "O1"); err != nil {
		t.Fatalf("consume: %v", err)
	}

	txn, err := ldg.FindRecentlyConsumed(ctx, 4500, 0)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if txn == nil || txn.BoundOrderID == nil || *txn.BoundOrderID != "O1" {
		t.Fatalf("expected consumed U1 bound to O1, got %+v", txn)
	}

	if txn, _ := ldg.FindRecentlyConsumed(ctx, 9900, 0); txn != nil {
		t.Fatalf("unexpected match for other amount: %+v", txn)
	}
}

func TestHasRecent(t *testing.T) {
	db := newTestDB(t)
	ldg := ledger.New(db)
	ctx := context.Background()

	seed(t, ldg, "U1", 4500, 2000)

	tests := []struct {
		name      string
		utr       string
		notBefore int64
		want      bool
	}{
		{"inside window", "U1", 1000, true},
		{"outside window", "U1", 3000, false},
		{"unknown utr", "NOPE", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ldg.HasRecent(ctx, tt.utr, tt.notBefore)
			if err != nil {
				t.Fatalf("HasRecent: %v", err)
			}
			if got != tt.want {
				t.Fatalf("HasRecent = %v, want %v", got, tt.want)
			}
		})
	}
}
