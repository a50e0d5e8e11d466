//go:build integration

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/medrex/medchain/pkg/config"
	"github.com/medrex/medchain/pkg/database"
	"github.com/medrex/medchain/pkg/logger"
	"github.com/medrex/medchain/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) *database.DB {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "medchain_test",
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "testpass",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://test:testpass@%s:%s/medchain_test?sslmode=disable", host, port.Port())
	sqlDB, err := sql.Open("postgres", url)
	require.NoError(t, err)

	db := database.Wrap(sqlDB, &config.DatabaseConfig{Name: "medchain_test"}, logger.Discard())
	require.NoError(t, db.Health(ctx))
	require.NoError(t, db.CreateSchema(ctx))
	return db
}

func TestPostgresStore_Integration(t *testing.T) {
	db := startPostgres(t)
	store := NewPostgresStore(db, logger.Discard())
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	err := store.Update(ctx, func(tx LedgerTx) error {
		if err := tx.SetAdminID(ctx, "admin"); err != nil {
			return err
		}
		if err := tx.PutUser(ctx, &types.User{ID: "pat", Name: "Pat", Role: types.RolePatient, Registered: true, RegisteredAt: now}); err != nil {
			return err
		}
		if err := tx.PutRecord(ctx, &types.MedicalRecord{ID: 1, OwnerID: "pat", PayloadReference: "ipfs://1", CreatedAt: now}); err != nil {
			return err
		}
		if err := tx.PutGrant(ctx, &types.AccessGrant{PatientID: "pat", DoctorID: "doc", GrantedAt: now, ExpiresAt: now.Add(time.Hour), Active: true}); err != nil {
			return err
		}
		return tx.AppendAuditEntry(ctx, &types.AuditEntry{ActorID: "pat", RecordID: 1, Timestamp: now, Action: types.ActionCreate})
	})
	require.NoError(t, err)

	// audit rows ignore deletes
	_, err = db.ExecContext(ctx, `DELETE FROM audit_entries`)
	require.NoError(t, err)

	err = store.View(ctx, func(r LedgerReader) error {
		ids, err := r.GetPatientRecordIDs(ctx, "pat")
		require.NoError(t, err)
		assert.Equal(t, []uint64{1}, ids)

		g, err := r.GetGrant(ctx, "pat", "doc")
		require.NoError(t, err)
		require.NotNil(t, g)
		assert.True(t, g.ExpiresAt.Equal(now.Add(time.Hour)))

		n, err := r.CountAuditEntries(ctx, "pat")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		admin, err := r.GetAdminID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "admin", admin)
		return nil
	})
	require.NoError(t, err)
}
