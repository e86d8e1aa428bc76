package models

// WebhookEvent is the append-only audit log of inbound aggregator
// callbacks. It is written on every accepted webhook and read only by
// the reporting endpoints, never by the matching path.
type WebhookEvent struct {
	BaseModel
	Source      string `gorm:"index" json:"source"`
	UTR         string `gorm:"column:utr;index" json:"utr"`
	AmountMinor int64  `gorm:"column:amount_minor" json:"amount_minor"`
	RawPayload  []byte `gorm:"type:jsonb" json:"raw_payload"`
}
