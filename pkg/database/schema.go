package database

import (
	"context"
	"fmt"
)

// CreateSchema creates the tables that hold the access ledger
func (db *DB) CreateSchema(ctx context.Context) error {
	log := db.logger.WithComponent("database")
	log.Info("Creating database schema...")

	statements := []string{
		createLedgerUsersTable,
		createMedicalRecordsTable,
		createAccessGrantsTable,
		createAuditEntriesTable,
		createLedgerMetaTable,
		createLedgerIndexes,
		protectAuditEntries,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement: %w", err)
		}
	}

	log.Info("Database schema created successfully")
	return nil
}

const (
	createLedgerUsersTable = `
		CREATE TABLE IF NOT EXISTS ledger_users (
			id VARCHAR(255) PRIMARY KEY,
			name TEXT NOT NULL,
			role VARCHAR(16) NOT NULL,
			registered_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`

	createMedicalRecordsTable = `
		CREATE TABLE IF NOT EXISTS medical_records (
			id BIGINT PRIMARY KEY,
			owner_id VARCHAR(255) NOT NULL REFERENCES ledger_users(id),
			payload_reference TEXT NOT NULL,
			record_type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`

	createAccessGrantsTable = `
		CREATE TABLE IF NOT EXISTS access_grants (
			patient_id VARCHAR(255) NOT NULL,
			doctor_id VARCHAR(255) NOT NULL,
			granted_at TIMESTAMP WITH TIME ZONE NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE,
			active BOOLEAN NOT NULL,
			purpose TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (patient_id, doctor_id)
		);`

	createAuditEntriesTable = `
		CREATE TABLE IF NOT EXISTS audit_entries (
			seq BIGSERIAL PRIMARY KEY,
			actor_id VARCHAR(255) NOT NULL,
			record_id BIGINT NOT NULL DEFAULT 0,
			action VARCHAR(32) NOT NULL,
			recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
		);`

	createLedgerMetaTable = `
		CREATE TABLE IF NOT EXISTS ledger_meta (
			key VARCHAR(64) PRIMARY KEY,
			value TEXT NOT NULL
		);`

	createLedgerIndexes = `
		CREATE INDEX IF NOT EXISTS idx_medical_records_owner_id ON medical_records(owner_id, id);
		CREATE INDEX IF NOT EXISTS idx_access_grants_doctor_id ON access_grants(doctor_id);
		CREATE INDEX IF NOT EXISTS idx_audit_entries_actor_id ON audit_entries(actor_id, seq);`

	// the audit log is append-only at the storage level too
	protectAuditEntries = `
		CREATE OR REPLACE RULE audit_entries_no_update AS ON UPDATE TO audit_entries DO INSTEAD NOTHING;
		CREATE OR REPLACE RULE audit_entries_no_delete AS ON DELETE TO audit_entries DO INSTEAD NOTHING;`
)
