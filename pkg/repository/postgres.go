package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/medrex/medchain/pkg/database"
	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/types"
)

const (
	metaEmergencyMode = "emergency_mode"
	metaAdminID       = "admin_id"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresStore persists the ledger in PostgreSQL
type PostgresStore struct {
	db     *database.DB
	logger *logger.Logger
}

// NewPostgresStore creates a PostgreSQL-backed ledger store
func NewPostgresStore(db *database.DB, log *logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log,
	}
}

// View runs fn inside one read-only REPEATABLE READ transaction so every
// read sees the same snapshot. The transaction is always rolled back.
func (s *PostgresStore) View(ctx context.Context, fn func(LedgerReader) error) error {
	tx, err := s.db.BeginReadSnapshot(ctx)
	if err != nil {
		s.logger.StoreOperation(ctx, "postgres", "begin", 0, err)
		return fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.StoreOperation(ctx, "postgres", "rollback", 0, rbErr)
		}
	}()

	return fn(&pgTx{q: tx})
}

// Update runs fn inside one SERIALIZABLE transaction
func (s *PostgresStore) Update(ctx context.Context, fn func(LedgerTx) error) error {
	start := time.Now()
	tx, err := s.db.BeginSerializable(ctx)
	if err != nil {
		s.logger.StoreOperation(ctx, "postgres", "begin", time.Since(start).Milliseconds(), err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.StoreOperation(ctx, "postgres", "rollback", time.Since(start).Milliseconds(), rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.StoreOperation(ctx, "postgres", "commit", time.Since(start).Milliseconds(), err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.logger.StoreOperation(ctx, "postgres", "update", time.Since(start).Milliseconds(), nil)
	return nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Health(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type pgTx struct {
	q queryer
}

func (t *pgTx) GetUser(ctx context.Context, userID string) (*types.User, error) {
	query := `SELECT id, name, role, registered_at FROM ledger_users WHERE id = $1`

	var u types.User
	var role string
	err := t.q.QueryRowContext(ctx, query, userID).Scan(&u.ID, &u.Name, &role, &u.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	u.Role = types.Role(role)
	u.Registered = true
	return &u, nil
}

const recordColumns = `id, owner_id, payload_reference, record_type, description, created_at`

func scanRecord(scan func(dest ...interface{}) error) (types.MedicalRecord, error) {
	var r types.MedicalRecord
	var id int64
	err := scan(&id, &r.OwnerID, &r.PayloadReference, &r.RecordType, &r.Description, &r.CreatedAt)
	r.ID = uint64(id)
	return r, err
}

func (t *pgTx) GetRecord(ctx context.Context, recordID uint64) (*types.MedicalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM medical_records WHERE id = $1`

	r, err := scanRecord(t.q.QueryRowContext(ctx, query, int64(recordID)).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return &r, nil
}

func (t *pgTx) ListRecords(ctx context.Context) ([]types.MedicalRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM medical_records ORDER BY id`

	rows, err := t.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []types.MedicalRecord
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// RecordCount doubles as the record counter: ids are dense and records are never deleted
func (t *pgTx) RecordCount(ctx context.Context) (uint64, error) {
	var count int64
	if err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM medical_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return uint64(count), nil
}

func (t *pgTx) GetPatientRecordIDs(ctx context.Context, patientID string) ([]uint64, error) {
	query := `SELECT id FROM medical_records WHERE owner_id = $1 ORDER BY id`

	rows, err := t.q.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to list patient records: %w", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan record id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

func (t *pgTx) GetGrant(ctx context.Context, patientID, doctorID string) (*types.AccessGrant, error) {
	query := `
		SELECT patient_id, doctor_id, granted_at, expires_at, active, purpose
		FROM access_grants
		WHERE patient_id = $1 AND doctor_id = $2`

	var g types.AccessGrant
	var expiresAt sql.NullTime
	err := t.q.QueryRowContext(ctx, query, patientID, doctorID).Scan(
		&g.PatientID, &g.DoctorID, &g.GrantedAt, &expiresAt, &g.Active, &g.Purpose,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	if expiresAt.Valid {
		g.ExpiresAt = expiresAt.Time
	}
	return &g, nil
}

func (t *pgTx) GetAuditTrail(ctx context.Context, actorID string, offset, limit int) ([]types.AuditEntry, error) {
	query := `
		SELECT actor_id, record_id, action, recorded_at
		FROM audit_entries
		WHERE actor_id = $1
		ORDER BY seq
		OFFSET $2 LIMIT $3`

	if offset < 0 {
		offset = 0
	}
	// LIMIT NULL is LIMIT ALL
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}

	rows, err := t.q.QueryContext(ctx, query, actorID, offset, limitArg)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit trail: %w", err)
	}
	defer rows.Close()

	entries := []types.AuditEntry{}
	for rows.Next() {
		var e types.AuditEntry
		var recordID int64
		var action string
		if err := rows.Scan(&e.ActorID, &recordID, &action, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.RecordID = uint64(recordID)
		e.Action = types.AuditAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *pgTx) CountAuditEntries(ctx context.Context, actorID string) (int, error) {
	var count int
	err := t.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_entries WHERE actor_id = $1`, actorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

func (t *pgTx) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := t.q.QueryRowContext(ctx, `SELECT value FROM ledger_meta WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (t *pgTx) setMeta(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO ledger_meta (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`

	if _, err := t.q.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (t *pgTx) GetEmergencyMode(ctx context.Context) (bool, error) {
	value, err := t.getMeta(ctx, metaEmergencyMode)
	return value == "true", err
}

func (t *pgTx) GetAdminID(ctx context.Context) (string, error) {
	return t.getMeta(ctx, metaAdminID)
}

func (t *pgTx) PutUser(ctx context.Context, user *types.User) error {
	query := `
		INSERT INTO ledger_users (id, name, role, registered_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			registered_at = EXCLUDED.registered_at`

	_, err := t.q.ExecContext(ctx, query, user.ID, user.Name, string(user.Role), user.RegisteredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	return nil
}

func (t *pgTx) PutRecord(ctx context.Context, record *types.MedicalRecord) error {
	count, err := t.RecordCount(ctx)
	if err != nil {
		return err
	}
	if record.ID != count+1 {
		return fmt.Errorf("record id %d out of sequence, expected %d", record.ID, count+1)
	}

	query := `
		INSERT INTO medical_records (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err = t.q.ExecContext(ctx, query,
		int64(record.ID),
		record.OwnerID,
		record.PayloadReference,
		record.RecordType,
		record.Description,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

func (t *pgTx) PutGrant(ctx context.Context, grant *types.AccessGrant) error {
	query := `
		INSERT INTO access_grants (patient_id, doctor_id, granted_at, expires_at, active, purpose)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id, doctor_id) DO UPDATE SET
			granted_at = EXCLUDED.granted_at,
			expires_at = EXCLUDED.expires_at,
			active = EXCLUDED.active,
			purpose = EXCLUDED.purpose`

	var expiresAt interface{}
	if !grant.NeverExpires() {
		expiresAt = grant.ExpiresAt.UTC()
	}

	_, err := t.q.ExecContext(ctx, query,
		grant.PatientID,
		grant.DoctorID,
		grant.GrantedAt.UTC(),
		expiresAt,
		grant.Active,
		grant.Purpose,
	)
	if err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}
	return nil
}

func (t *pgTx) AppendAuditEntry(ctx context.Context, entry *types.AuditEntry) error {
	query := `
		INSERT INTO audit_entries (actor_id, record_id, action, recorded_at)
		VALUES ($1, $2, $3, $4)`

	_, err := t.q.ExecContext(ctx, query, entry.ActorID, int64(entry.RecordID), string(entry.Action), entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

func (t *pgTx) SetEmergencyMode(ctx context.Context, active bool) error {
	value := "false"
	if active {
		value = "true"
	}
	return t.setMeta(ctx, metaEmergencyMode, value)
}

func (t *pgTx) SetAdminID(ctx context.Context, adminID string) error {
	return t.setMeta(ctx, metaAdminID, adminID)
}
