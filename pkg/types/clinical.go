package types

import "time"

// MedicalRecord represents record metadata. The payload itself lives off-ledger and is
// referenced by PayloadReference (a content hash); it is never interpreted here.
type MedicalRecord struct {
	ID               uint64    `json:"id" db:"id"`
	OwnerID          string    `json:"owner_id" db:"owner_id"`
	PayloadReference string    `json:"payload_reference" db:"payload_reference"`
	RecordType       string    `json:"record_type" db:"record_type"`
	Description      string    `json:"description" db:"description"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// CreateRecordRequest represents record creation data
type CreateRecordRequest struct {
	PayloadReference string `json:"payload_reference"`
	RecordType       string `json:"record_type"`
	Description      string `json:"description"`
}

// Stats is the ledger-wide summary
type Stats struct {
	TotalRecords    uint64 `json:"total_records"`
	EmergencyActive bool   `json:"emergency_active"`
}
