package matcher

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/mrsonukr/instaguruv2-sub000/internal/events"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
	"github.com/mrsonukr/instaguruv2-sub000/internal/paygate"
)

// Status of an amount match.
type Status int

const (
	Waiting Status = iota
	Funded
)

// Result is the outcome of one amount check.
type Result struct {
	Status Status
	Txn    *models.Transaction
}

// PullAdapter is the live-feed side of the matcher. Nil is valid and
// means webhook-only operation.
type PullAdapter interface {
	FindPayment(ctx context.Context, amountMinor int64, lookback time.Duration) (*models.Transaction, error)
}

// Matcher resolves a target amount to an unconsumed ledger transaction.
// The live pull runs first so fresh payments are discovered promptly;
// any pull failure degrades to a ledger-only lookup instead of failing
// the request.
type Matcher struct {
	ledger   *ledger.Ledger
	pull     PullAdapter
	emitter  *events.Emitter
	lookback time.Duration
}

func New(ldg *ledger.Ledger, pull PullAdapter, emitter *events.Emitter, lookback time.Duration) *Matcher {
	return &Matcher{ledger: ldg, pull: pull, emitter: emitter, lookback: lookback}
}

// Lookback exposes the configured freshness window.
func (m *Matcher) Lookback() time.Duration {
	return m.lookback
}

// Match finds the transaction funding the given amount. All comparisons
// are in integer paise.
func (m *Matcher) Match(ctx context.Context, amountMinor int64) (Result, error) {
	if m.pull != nil {
		txn, err := m.pull.FindPayment(ctx, amountMinor, m.lookback)
		switch {
		case errors.Is(err, paygate.ErrUpstreamAuth):
			m.emitter.Emit(ctx, events.Event{Kind: events.AuthExpired})
			log.Printf("[Matcher] Aggregator auth failed, falling back to ledger")
		case err != nil:
			log.Printf("[Matcher] Live fetch failed, falling back to ledger: %v", err)
		case txn != nil:
			if err := m.ledger.UpsertIfAbsent(ctx, txn); err != nil {
				return Result{}, err
			}
			// Re-read so a payment consumed between poll and upsert is
			// never handed out twice.
			stored, err := m.ledger.GetByUTR(ctx, txn.UTR)
			if err != nil {
				return Result{}, err
			}
			if !stored.Consumed {
				return Result{Status: Funded, Txn: stored}, nil
			}
		}
	}

	notBefore := time.Now().Add(-m.lookback).UnixMilli()
	txn, err := m.ledger.FindOldestUnconsumed(ctx, amountMinor, notBefore)
	if err != nil {
		return Result{}, err
	}
	if txn == nil {
		return Result{Status: Waiting}, nil
	}
	return Result{Status: Funded, Txn: txn}, nil
}
