package register

import (
	"context"
	"errors"
	"log"

	"gorm.io/gorm"

	"github.com/mrsonukr/instaguruv2-sub000/internal/dispatch"
	"github.com/mrsonukr/instaguruv2-sub000/internal/events"
	"github.com/mrsonukr/instaguruv2-sub000/internal/ledger"
	"github.com/mrsonukr/instaguruv2-sub000/internal/matcher"
	"github.com/mrsonukr/instaguruv2-sub000/internal/models"
)

var (
	// ErrDuplicateOrder means the client-supplied order id already exists.
	ErrDuplicateOrder = errors.New("order id already exists")
	// ErrNoFunding means no unconsumed transaction matches the requested
	// amount. Retryable: the payment may simply not have landed yet.
	ErrNoFunding = errors.New("no funding transaction")
	// ErrRaceLost means a concurrent submit claimed the transaction
	// first. The caller should retry; a different payment may match.
	ErrRaceLost = errors.New("funding transaction claimed concurrently")
)

// Matcher resolves an amount to a funding transaction.
type Matcher interface {
	Match(ctx context.Context, amountMinor int64) (matcher.Result, error)
}

// Dispatcher places a funded order upstream.
type Dispatcher interface {
	Dispatch(ctx context.Context, order *models.Order) dispatch.Outcome
}

// SubmitRequest is a validated order submission.
type SubmitRequest struct {
	OrderID     string
	AmountMinor int64
	Link        string
	Service     string
	Quantity    int
}

// Register owns the order table and the funded-order lifecycle.
type Register struct {
	db         *gorm.DB
	ledger     *ledger.Ledger
	matcher    Matcher
	dispatcher Dispatcher
	emitter    *events.Emitter
}

func New(db *gorm.DB, ldg *ledger.Ledger, m Matcher, d Dispatcher, emitter *events.Emitter) *Register {
	return &Register{db: db, ledger: ldg, matcher: m, dispatcher: d, emitter: emitter}
}

// Submit binds an order to a funding transaction and places it
// upstream. The order insert and the transaction claim commit
// atomically; the upstream dispatch happens after and its failure never
// unwinds a funded order.
func (r *Register) Submit(ctx context.Context, req SubmitRequest) (*models.Order, error) {
	var existing int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ?", req.OrderID).
		Count(&existing).Error; err != nil {
		return nil, err
	}
	if existing > 0 {
		return nil, ErrDuplicateOrder
	}

	res, err := r.matcher.Match(ctx, req.AmountMinor)
	if err != nil {
		return nil, err
	}
	if res.Status != matcher.Funded {
		return nil, ErrNoFunding
	}

	order := &models.Order{
		OrderID:              req.OrderID,
		RequestedAmountMinor: req.AmountMinor,
		Link:                 req.Link,
		ServiceDescriptor:    req.Service,
		Quantity:             req.Quantity,
		UTR:                  res.Txn.UTR,
		Status:               models.StatusFunded,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(order).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateOrder
			}
			return err
		}
		return r.ledger.WithTx(tx).MarkConsumed(ctx, res.Txn.UTR, req.OrderID)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrAlreadyConsumed) {
			return nil, ErrRaceLost
		}
		return nil, err
	}

	r.emitter.Emit(ctx, events.Event{
		Kind:        events.OrderFunded,
		OrderID:     order.OrderID,
		UTR:         order.UTR,
		AmountMinor: order.RequestedAmountMinor,
	})

	r.finishDispatch(ctx, order)
	return order, nil
}

// finishDispatch runs the upstream call and records its outcome on the
// already-committed order row.
func (r *Register) finishDispatch(ctx context.Context, order *models.Order) {
	outcome := r.dispatcher.Dispatch(ctx, order)

	next := models.StatusDispatched
	if !outcome.OK {
		next = models.StatusFailed
	}
	status, err := order.Status.Transition(next)
	if err != nil {
		log.Printf("[Register] Order %s: %v", order.OrderID, err)
		return
	}

	order.Status = status
	order.Provider = string(outcome.Provider)
	order.ProviderOrderID = outcome.ProviderOrderID
	order.FailureReason = outcome.Reason
	if outcome.Quantity > 0 {
		order.Quantity = outcome.Quantity
	}

	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ?", order.OrderID).
		Updates(map[string]any{
			"status":            order.Status,
			"provider":          order.Provider,
			"provider_order_id": order.ProviderOrderID,
			"failure_reason":    order.FailureReason,
			"quantity":          order.Quantity,
		}).Error; err != nil {
		log.Printf("[Register] Failed to record dispatch outcome for %s: %v", order.OrderID, err)
	}

	ev := events.Event{
		Kind:            events.OrderDispatched,
		OrderID:         order.OrderID,
		UTR:             order.UTR,
		AmountMinor:     order.RequestedAmountMinor,
		Provider:        order.Provider,
		ProviderOrderID: order.ProviderOrderID,
	}
	if !outcome.OK {
		ev.Kind = events.DispatchFailed
		ev.Reason = outcome.Reason
	}
	r.emitter.Emit(ctx, ev)
}
