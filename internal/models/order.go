package models

import "fmt"

// OrderStatus is the explicit order lifecycle state. An order row is
// only ever created once its funding transaction has been claimed, so
// the initial persisted state is StatusFunded.
type OrderStatus string

const (
	StatusFunded     OrderStatus = "funded"
	StatusDispatched OrderStatus = "dispatched"
	StatusFailed     OrderStatus = "failed"
)

// Transition validates a state change. Dispatch outcomes are terminal.
func (s OrderStatus) Transition(next OrderStatus) (OrderStatus, error) {
	if s == StatusFunded && (next == StatusDispatched || next == StatusFailed) {
		return next, nil
	}
	return s, fmt.Errorf("invalid order transition %s -> %s", s, next)
}

// Order records a storefront order and its binding to the transaction
// that funded it.
type Order struct {
	BaseModel
	OrderID              string      `gorm:"column:order_id;uniqueIndex" json:"order_id"`
	RequestedAmountMinor int64       `gorm:"column:requested_amount_minor" json:"requested_amount_minor"`
	Link                 string      `json:"link"`
	ServiceDescriptor    string      `gorm:"column:service_descriptor" json:"service"`
	Quantity             int         `json:"quantity"`
	UTR                  string      `gorm:"column:utr;index" json:"utr"`
	Status               OrderStatus `gorm:"index" json:"status"`
	Provider             string      `json:"provider"`
	ProviderOrderID      string      `gorm:"column:provider_order_id;index" json:"provider_order_id"`
	FailureReason        string      `json:"failure_reason,omitempty"`
}
