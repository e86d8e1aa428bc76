package events

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Channel is the Redis pub/sub channel domain events are published on.
const Channel = "payment-events"

// Kind enumerates the domain events the reconciliation core emits.
type Kind string

const (
	OrderFunded     Kind = "order_funded"
	OrderDispatched Kind = "order_dispatched"
	DispatchFailed  Kind = "dispatch_failed"
	AuthExpired     Kind = "auth_expired"
)

// Event carries everything a notification consumer needs; unknown
// fields stay empty per kind.
type Event struct {
	Kind            Kind   `json:"kind"`
	OrderID         string `json:"order_id,omitempty"`
	UTR             string `json:"utr,omitempty"`
	AmountMinor     int64  `json:"amount_minor,omitempty"`
	Provider        string `json:"provider,omitempty"`
	ProviderOrderID string `json:"provider_order_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// Handler consumes delivered events. Implementations must tolerate
// duplicate delivery and never panic.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// Emitter decouples the reconciliation core from notification
// delivery. With Redis configured, events go through pub/sub and a
// separate consumer drives the handler; without it, delivery happens
// inline on a goroutine. Either way Emit never blocks or fails the
// caller.
type Emitter struct {
	rdb     *redis.Client
	handler Handler
}

func NewEmitter(rdb *redis.Client, handler Handler) *Emitter {
	return &Emitter{rdb: rdb, handler: handler}
}

// Emit publishes the event. Failures are logged only.
func (e *Emitter) Emit(ctx context.Context, ev Event) {
	if e == nil {
		return
	}
	if e.rdb != nil {
		data, err := json.Marshal(ev)
		if err != nil {
			log.Printf("[Events] marshal %s failed: %v", ev.Kind, err)
			return
		}
		err = e.rdb.Publish(context.WithoutCancel(ctx), Channel, data).Err()
		if err == nil {
			return
		}
		log.Printf("[Events] publish %s failed, delivering inline: %v", ev.Kind, err)
	}
	if e.handler != nil {
		go e.handler.Handle(context.WithoutCancel(ctx), ev)
	}
}

// Consume subscribes to the event channel and drives the handler until
// ctx is cancelled. No-op without Redis (inline delivery already
// happened in Emit).
func (e *Emitter) Consume(ctx context.Context) {
	if e == nil || e.rdb == nil || e.handler == nil {
		return
	}
	sub := e.rdb.Subscribe(ctx, Channel)
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("[Events] bad payload on %s: %v", Channel, err)
				continue
			}
			e.handler.Handle(ctx, ev)
		}
	}
}
