package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/medrex/medchain/pkg/types"
)

type grantKey struct {
	patientID string
	doctorID  string
}

type memoryState struct {
	users      map[string]types.User
	records    []types.MedicalRecord
	ownerIndex map[string][]uint64
	grants     map[grantKey]types.AccessGrant
	audit      map[string][]types.AuditEntry
	emergency  bool
	adminID    string
}

func newMemoryState() *memoryState {
	return &memoryState{
		users:      make(map[string]types.User),
		ownerIndex: make(map[string][]uint64),
		grants:     make(map[grantKey]types.AccessGrant),
		audit:      make(map[string][]types.AuditEntry),
	}
}

// MemoryStore keeps the ledger in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	state  *memoryState
	closed bool
}

// NewMemoryStore creates an empty in-memory ledger
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

// View runs fn against a consistent snapshot
func (s *MemoryStore) View(ctx context.Context, fn func(LedgerReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return fn(newMemoryTx(s.state))
}

// Update stages fn's writes and applies them only when fn returns nil
func (s *MemoryStore) Update(ctx context.Context, fn func(LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errStoreClosed
	}
	tx := newMemoryTx(s.state)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping reports whether the store is usable
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errStoreClosed
	}
	return nil
}

// Close releases the store
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var errStoreClosed = fmt.Errorf("ledger store is closed")

// memoryTx overlays pending writes on the committed state
type memoryTx struct {
	base      *memoryState
	users     map[string]types.User
	records   []types.MedicalRecord
	grants    map[grantKey]types.AccessGrant
	audit     map[string][]types.AuditEntry
	emergency *bool
	adminID   *string
}

func newMemoryTx(base *memoryState) *memoryTx {
	return &memoryTx{
		base:   base,
		users:  make(map[string]types.User),
		grants: make(map[grantKey]types.AccessGrant),
		audit:  make(map[string][]types.AuditEntry),
	}
}

func (tx *memoryTx) GetUser(ctx context.Context, userID string) (*types.User, error) {
	if u, ok := tx.users[userID]; ok {
		return &u, nil
	}
	if u, ok := tx.base.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

func (tx *memoryTx) GetRecord(ctx context.Context, recordID uint64) (*types.MedicalRecord, error) {
	if recordID == 0 {
		return nil, nil
	}
	committed := uint64(len(tx.base.records))
	if recordID <= committed {
		r := tx.base.records[recordID-1]
		return &r, nil
	}
	if idx := recordID - committed - 1; idx < uint64(len(tx.records)) {
		r := tx.records[idx]
		return &r, nil
	}
	return nil, nil
}

func (tx *memoryTx) ListRecords(ctx context.Context) ([]types.MedicalRecord, error) {
	out := make([]types.MedicalRecord, 0, len(tx.base.records)+len(tx.records))
	out = append(out, tx.base.records...)
	out = append(out, tx.records...)
	return out, nil
}

func (tx *memoryTx) RecordCount(ctx context.Context) (uint64, error) {
	return uint64(len(tx.base.records) + len(tx.records)), nil
}

func (tx *memoryTx) GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error) {
	committed := tx.base.ownerIndex[patientID]
	ids := make([]uint64, 0, len(committed))
	ids = append(ids, committed...)
	for _, r := range tx.records {
		if r.OwnerID == patientID {
			ids = append(ids, r.ID)
		}
	}
	return ids, nil
}

func (tx *memoryTx) GetGrant(ctx context.Context, patientID, doctorID string) (*types.AccessGrant, error) {
	key := grantKey{patientID: patientID, doctorID: doctorID}
	if g, ok := tx.grants[key]; ok {
		return &g, nil
	}
	if g, ok := tx.base.grants[key]; ok {
		return &g, nil
	}
	return nil, nil
}

func (tx *memoryTx) trail(actorID string) []types.AuditEntry {
	committed := tx.base.audit[actorID]
	pending := tx.audit[actorID]
	out := make([]types.AuditEntry, 0, len(committed)+len(pending))
	out = append(out, committed...)
	return append(out, pending...)
}

func (tx *memoryTx) GetAuditTrail(ctx context.Context, actorID string, offset, limit int) ([]types.AuditEntry, error) {
	entries := tx.trail(actorID)
	start, end := PageBounds(len(entries), offset, limit)
	return entries[start:end], nil
}

func (tx *memoryTx) CountAuditEntries(ctx context.Context, actorID string) (int, error) {
	return len(tx.base.audit[actorID]) + len(tx.audit[actorID]), nil
}

func (tx *memoryTx) GetEmergencyMode(ctx context.Context) (bool, error) {
	if tx.emergency != nil {
		return *tx.emergency, nil
	}
	return tx.base.emergency, nil
}

func (tx *memoryTx) GetAdminID(ctx context.Context) (string, error) {
	if tx.adminID != nil {
		return *tx.adminID, nil
	}
	return tx.base.adminID, nil
}

func (tx *memoryTx) PutUser(ctx context.Context, user *types.User) error {
	tx.users[user.ID] = *user
	return nil
}

func (tx *memoryTx) PutRecord(ctx context.Context, record *types.MedicalRecord) error {
	count, _ := tx.RecordCount(ctx)
	if record.ID != count+1 {
		return fmt.Errorf("record id %d out of sequence, expected %d", record.ID, count+1)
	}
	tx.records = append(tx.records, *record)
	return nil
}

func (tx *memoryTx) PutGrant(ctx context.Context, grant *types.AccessGrant) error {
	tx.grants[grantKey{patientID: grant.PatientID, doctorID: grant.DoctorID}] = *grant
	return nil
}

func (tx *memoryTx) AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error {
	tx.audit[entry.ActorID] = append(tx.audit[entry.ActorID], *entry)
	return nil
}

func (tx *memoryTx) SetEmergencyMode(ctx context.Context, active bool) error {
	tx.emergency = &active
	return nil
}

func (tx *memoryTx) SetAdminID(ctx context.Context, adminID string) error {
	tx.adminID = &adminID
	return nil
}

func (tx *memoryTx) commit() {
	for id, u := range tx.users {
		tx.base.users[id] = u
	}
	for _, r := range tx.records {
		tx.base.records = append(tx.base.records, r)
		tx.base.ownerIndex[r.OwnerID] = append(tx.base.ownerIndex[r.OwnerID], r.ID)
	}
	for k, g := range tx.grants {
		tx.base.grants[k] = g
	}
	for actor, entries := range tx.audit {
		tx.base.audit[actor] = append(tx.base.audit[actor], entries...)
	}
	if tx.emergency != nil {
		tx.base.emergency = *tx.emergency
	}
	if tx.adminID != nil {
		tx.base.adminID = *tx.adminID
	}
}

// PageBounds clamps an offset/limit window to a slice of length total.
// A limit <= 0 selects everything from offset on.
func PageBounds(total, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && limit < total-offset {
		end = offset + limit
	}
	return offset, end
}
