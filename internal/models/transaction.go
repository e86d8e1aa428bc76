package models

// Transaction is one ledger row per settled UPI payment, keyed by the
// payment network's UTR. Rows are append-only; the only mutation ever
// applied is the consumed/bound_order_id pair when an order claims the
// payment.
type Transaction struct {
	BaseModel
	UTR          string  `gorm:"column:utr;uniqueIndex" json:"utr"`
	AmountMinor  int64   `gorm:"column:amount_minor;index" json:"amount_minor"`
	PayerName    string  `json:"payer_name"`
	PayerChannel string  `json:"payer_channel"`
	ReceivedAt   int64   `gorm:"column:received_at;index" json:"received_at"`
	Consumed     bool    `gorm:"default:false" json:"consumed"`
	BoundOrderID *string `gorm:"column:bound_order_id" json:"bound_order_id"`
}
