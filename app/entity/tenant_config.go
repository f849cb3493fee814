package entity

import "time"

type ConfigAction string

const (
	ConfigUploaded ConfigAction = "upload"
	ConfigDeleted  ConfigAction = "delete"
)

type TenantConfig struct {
	TenantID string
	Values   map[string]string
	Revision int64

	UpdatedAt time.Time
}

type ConfigRevision struct {
	ID uint64

	Revision int64
	TenantID string
	Action   ConfigAction

	OldValues map[string]string
	NewValues map[string]string
	Operator  string

	CreatedAt time.Time
}
