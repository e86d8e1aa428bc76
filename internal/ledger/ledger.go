package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
)

// ErrAlreadyConsumed is returned by MarkConsumed when the transaction
// has already been claimed by another order.
var ErrAlreadyConsumed = errors.New("transaction already consumed")

// Ledger is the durable store of payment records. Every cross-request
// coordination point in the system goes through this table; nothing is
// cached in memory.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// WithTx returns a Ledger bound to an open transaction, so callers can
// combine ledger writes with their own rows atomically.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	return &Ledger{db: tx}
}

// UpsertIfAbsent inserts the transaction unless a row with the same UTR
// already exists. Duplicate webhook deliveries and repeated poll
// observations of the same payment are absorbed silently; the original
// amount and payer are never altered.
func (l *Ledger) UpsertIfAbsent(ctx context.Context, txn *models.Transaction) error {
	return l.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "utr"}},
			DoNothing: true,
		}).
		Create(txn).Error
}

// GetByUTR returns the transaction with the given UTR, or
// gorm.ErrRecordNotFound.
func (l *Ledger) GetByUTR(ctx context.Context, utr string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := l.db.WithContext(ctx).
		Where("utr = ?", utr).
		First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

// FindOldestUnconsumed returns the unconsumed transaction matching the
// amount with received_at >= notBefore, oldest first. FIFO: the payment
// that arrived first is claimed first.
func (l *Ledger) FindOldestUnconsumed(ctx context.Context, amountMinor int64, notBefore int64) (*models.Transaction, error) {
	var txn models.Transaction
	err := l.db.WithContext(ctx).
		Where("amount_minor = ? AND consumed = ? AND received_at >= ?", amountMinor, false, notBefore).
		Order("received_at asc").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// FindRecentlyConsumed returns the newest consumed transaction of the
// given amount inside the window, used by the amount poll to report an
// already-placed order back to the client.
func (l *Ledger) FindRecentlyConsumed(ctx context.Context, amountMinor int64, notBefore int64) (*models.Transaction, error) {
	var txn models.Transaction
	err := l.db.WithContext(ctx).
		Where("amount_minor = ? AND consumed = ? AND received_at >= ?", amountMinor, true, notBefore).
		Order("received_at desc").
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// HasRecent reports whether the UTR is already ledgered with a
// received_at inside the freshness window. The pull adapter uses this
// to prefer discovering genuinely new payments.
func (l *Ledger) HasRecent(ctx context.Context, utr string, notBefore int64) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("utr = ? AND received_at >= ?", utr, notBefore).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkConsumed atomically claims the transaction for the given order.
// The conditional UPDATE is the only synchronization between concurrent
// order submissions: exactly one caller observes a row change, every
// other caller gets ErrAlreadyConsumed.
func (l *Ledger) MarkConsumed(ctx context.Context, utr, orderID string) error {
	res := l.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("utr = ? AND consumed = ?", utr, false).
		Updates(map[string]any{
			"consumed":       true,
			"bound_order_id": orderID,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrAlreadyConsumed
	}
	return nil
}
