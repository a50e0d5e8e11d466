package contract

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/hyperledger/fabric-chaincode-go/shim"
	"github.com/medrex/medchain/pkg/repository"
	"github.com/medrex/medchain/pkg/types"
)

// Object types used for composite keys
const (
	userObjectType       = "user"
	recordObjectType     = "record"
	ownerIndexObjectType = "owner_records"
	grantObjectType      = "grant"
	auditObjectType      = "audit"
	auditCountObjectType = "audit_count"
)

// Plain world state keys
const (
	recordCounterKey = "record_counter"
	emergencyModeKey = "emergency_mode"
	adminIDKey       = "admin_id"
)

// worldState is a repository.LedgerStore over the chaincode stub. Fabric
// buffers PutState into the write set without exposing it to GetState, so
// pending writes are kept in an overlay to give reads their own writes.
type worldState struct {
	stub    shim.ChaincodeStubInterface
	pending map[string][]byte
}

var _ repository.LedgerStore = (*worldState)(nil)
var _ repository.LedgerTx = (*worldState)(nil)

func newWorldState(stub shim.ChaincodeStubInterface) *worldState {
	return &worldState{stub: stub, pending: make(map[string][]byte)}
}

// View runs fn against the state as seen by this transaction
func (w *worldState) View(ctx context.Context, fn func(repository.LedgerReader) error) error {
	return fn(w)
}

// Update runs fn against the stub. A failed transaction is discarded by the
// peer, so there is nothing to roll back here.
func (w *worldState) Update(ctx context.Context, fn func(repository.LedgerTx) error) error {
	return fn(w)
}

func (w *worldState) Ping(ctx context.Context) error { return nil }

func (w *worldState) Close() error { return nil }

func (w *worldState) getState(key string) ([]byte, error) {
	if value, ok := w.pending[key]; ok {
		return value, nil
	}
	value, err := w.stub.GetState(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q from world state: %w", key, err)
	}
	return value, nil
}

func (w *worldState) putState(key string, value []byte) error {
	if err := w.stub.PutState(key, value); err != nil {
		return fmt.Errorf("failed to write %q to world state: %w", key, err)
	}
	w.pending[key] = value
	return nil
}

// getJSON decodes the value at key into dst and reports whether it existed
func (w *worldState) getJSON(key string, dst interface{}) (bool, error) {
	raw, err := w.getState(key)
	if err != nil || raw == nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return true, nil
}

func (w *worldState) putJSON(key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return w.putState(key, raw)
}

func (w *worldState) compositeKey(objectType string, attributes ...string) (string, error) {
	key, err := w.stub.CreateCompositeKey(objectType, attributes)
	if err != nil {
		return "", fmt.Errorf("failed to create %s key: %w", objectType, err)
	}
	return key, nil
}

// sequenceAttr pads ids so that composite keys sort in numeric order
func sequenceAttr(n uint64) string {
	return fmt.Sprintf("%020d", n)
}

func (w *worldState) GetUser(ctx context.Context, userID string) (*types.User, error) {
	key, err := w.compositeKey(userObjectType, userID)
	if err != nil {
		return nil, err
	}
	var user types.User
	found, err := w.getJSON(key, &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

func (w *worldState) GetRecord(ctx context.Context, recordID uint64) (*types.MedicalRecord, error) {
	if recordID == 0 {
		return nil, nil
	}
	key, err := w.compositeKey(recordObjectType, sequenceAttr(recordID))
	if err != nil {
		return nil, err
	}
	var record types.MedicalRecord
	found, err := w.getJSON(key, &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (w *worldState) ListRecords(ctx context.Context) ([]types.MedicalRecord, error) {
	count, err := w.RecordCount(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]types.MedicalRecord, 0, count)
	for id := uint64(1); id <= count; id++ {
		record, err := w.GetRecord(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, fmt.Errorf("record %d missing below counter %d", id, count)
		}
		records = append(records, *record)
	}
	return records, nil
}

func (w *worldState) RecordCount(ctx context.Context) (uint64, error) {
	raw, err := w.getState(recordCounterKey)
	if err != nil || raw == nil {
		return 0, err
	}
	count, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid record counter %q: %w", raw, err)
	}
	return count, nil
}

func (w *worldState) GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error) {
	key, err := w.compositeKey(ownerIndexObjectType, patientID)
	if err != nil {
		return nil, err
	}
	ids := []uint64{}
	if _, err := w.getJSON(key, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (w *worldState) GetGrant(ctx context.Context, patientID, doctorID string) (*types.AccessGrant, error) {
	key, err := w.compositeKey(grantObjectType, patientID, doctorID)
	if err != nil {
		return nil, err
	}
	var grant types.AccessGrant
	found, err := w.getJSON(key, &grant)
	if err != nil || !found {
		return nil, err
	}
	return &grant, nil
}

func (w *worldState) GetAuditTrail(ctx context.Context, actorID string, offset, limit int) ([]types.AuditEntry, error) {
	total, err := w.CountAuditEntries(ctx, actorID)
	if err != nil {
		return nil, err
	}
	start, end := repository.PageBounds(total, offset, limit)
	entries := make([]types.AuditEntry, 0, end-start)
	for seq := start + 1; seq <= end; seq++ {
		key, err := w.compositeKey(auditObjectType, actorID, sequenceAttr(uint64(seq)))
		if err != nil {
			return nil, err
		}
		var entry types.AuditEntry
		found, err := w.getJSON(key, &entry)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, fmt.Errorf("audit entry %d missing for %s", seq, actorID)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *worldState) CountAuditEntries(ctx context.Context, actorID string) (int, error) {
	key, err := w.compositeKey(auditCountObjectType, actorID)
	if err != nil {
		return 0, err
	}
	raw, err := w.getState(key)
	if err != nil || raw == nil {
		return 0, err
	}
	count, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid audit counter for %s: %w", actorID, err)
	}
	return count, nil
}

func (w *worldState) GetEmergencyMode(ctx context.Context) (bool, error) {
	raw, err := w.getState(emergencyModeKey)
	if err != nil || raw == nil {
		return false, err
	}
	return strconv.ParseBool(string(raw))
}

func (w *worldState) GetAdminID(ctx context.Context) (string, error) {
	raw, err := w.getState(adminIDKey)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (w *worldState) PutUser(ctx context.Context, user *types.User) error {
	key, err := w.compositeKey(userObjectType, user.ID)
	if err != nil {
		return err
	}
	return w.putJSON(key, user)
}

func (w *worldState) PutRecord(ctx context.Context, record *types.MedicalRecord) error {
	count, err := w.RecordCount(ctx)
	if err != nil {
		return err
	}
	if record.ID != count+1 {
		return fmt.Errorf("record id %d out of sequence, expected %d", record.ID, count+1)
	}

	key, err := w.compositeKey(recordObjectType, sequenceAttr(record.ID))
	if err != nil {
		return err
	}
	if err := w.putJSON(key, record); err != nil {
		return err
	}

	ids, err := w.GetPatientRecordIDs(ctx, record.OwnerID)
	if err != nil {
		return err
	}
	indexKey, err := w.compositeKey(ownerIndexObjectType, record.OwnerID)
	if err != nil {
		return err
	}
	if err := w.putJSON(indexKey, append(ids, record.ID)); err != nil {
		return err
	}
	return w.putState(recordCounterKey, []byte(strconv.FormatUint(record.ID, 10)))
}

func (w *worldState) PutGrant(ctx context.Context, grant *types.AccessGrant) error {
	key, err := w.compositeKey(grantObjectType, grant.PatientID, grant.DoctorID)
	if err != nil {
		return err
	}
	return w.putJSON(key, grant)
}

func (w *worldState) AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error {
	count, err := w.CountAuditEntries(ctx, entry.ActorID)
	if err != nil {
		return err
	}
	seq := count + 1

	key, err := w.compositeKey(auditObjectType, entry.ActorID, sequenceAttr(uint64(seq)))
	if err != nil {
		return err
	}
	if err := w.putJSON(key, entry); err != nil {
		return err
	}

	countKey, err := w.compositeKey(auditCountObjectType, entry.ActorID)
	if err != nil {
		return err
	}
	return w.putState(countKey, []byte(strconv.Itoa(seq)))
}

func (w *worldState) SetEmergencyMode(ctx context.Context, active bool) error {
	return w.putState(emergencyModeKey, []byte(strconv.FormatBool(active)))
}

func (w *worldState) SetAdminID(ctx context.Context, adminID string) error {
	return w.putState(adminIDKey, []byte(adminID))
}
