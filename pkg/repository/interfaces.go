package repository

import (
	"context"

	"github.com/medrex/medchain/pkg/types"
)

// LedgerReader is the read side of the persisted ledger layout. Lookups of
// absent keys return nil without an error.
type LedgerReader interface {
	GetUser(ctx context.Context, userID string) (*types.User, error)
	GetRecord(ctx context.Context, recordID uint64) (*types.MedicalRecord, error)
	// ListRecords returns every record in ascending id order
	ListRecords(ctx context.Context) ([]types.MedicalRecord, error)
	RecordCount(ctx context.Context) (uint64, error)
	GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error)
	GetGrant(ctx context.Context, patientID, doctorID string) (*types.AccessGrant, error)
	// GetAuditTrail returns entries in append order; limit <= 0 means no limit
	GetAuditTrail(ctx context.Context, actorID string, offset, limit int) ([]types.AuditEntry, error)
	CountAuditEntries(ctx context.Context, actorID string) (int, error)
	GetEmergencyMode(ctx context.Context) (bool, error)
	GetAdminID(ctx context.Context) (string, error)
}

// LedgerWriter is the write side. Records are append-only: PutRecord must be
// called with id RecordCount()+1 and also extends the owner's index.
type LedgerWriter interface {
	PutUser(ctx context.Context, user *types.User) error
	PutRecord(ctx context.Context, record *types.MedicalRecord) error
	PutGrant(ctx context.Context, grant *types.AccessGrant) error
	AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error
	SetEmergencyMode(ctx context.Context, active bool) error
	SetAdminID(ctx context.Context, adminID string) error
}

// LedgerTx is a transaction: reads observe the transaction's own writes
type LedgerTx interface {
	LedgerReader
	LedgerWriter
}

// LedgerStore runs ledger transactions. Update commits only when fn returns nil.
type LedgerStore interface {
	View(ctx context.Context, fn func(LedgerReader) error) error
	Update(ctx context.Context, fn func(LedgerTx) error) error
	Ping(ctx context.Context) error
	Close() error
}
