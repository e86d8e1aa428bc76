package models

// ConfigEntry is a mutable operational setting, such as the aggregator
// bearer token, kept in the database so it can be rotated without a
// redeploy.
type ConfigEntry struct {
	BaseModel
	Key   string `gorm:"uniqueIndex" json:"key"`
	Value string `json:"value"`
}

// ConfigAudit records every write to a ConfigEntry: who changed which
// key and when. Append-only.
type ConfigAudit struct {
	BaseModel
	Key       string `gorm:"index" json:"key"`
	UpdatedBy string `json:"updated_by"`
}
