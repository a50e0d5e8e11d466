package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFrom_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret_key: test-secret
ledger:
  admin_id: admin-1
`)

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, SinkNone, cfg.Events.Sink)
	assert.Equal(t, 64, cfg.Events.SubscriberBuffer)
	assert.Equal(t, "admin-1", cfg.Ledger.AdminID)
	assert.Equal(t, "/metrics", cfg.Monitoring.MetricsPath)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadFrom_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing jwt secret",
			body:    "ledger:\n  admin_id: admin-1\n",
			wantErr: "JWT secret key is required",
		},
		{
			name:    "missing admin",
			body:    "jwt:\n  secret_key: s\n",
			wantErr: "ledger admin id is required",
		},
		{
			name:    "postgres without password",
			body:    "jwt:\n  secret_key: s\nledger:\n  admin_id: a\nstorage:\n  backend: postgres\n",
			wantErr: "database password is required",
		},
		{
			name:    "unknown backend",
			body:    "jwt:\n  secret_key: s\nledger:\n  admin_id: a\nstorage:\n  backend: leveldb\n",
			wantErr: "unknown storage backend",
		},
		{
			name:    "unknown sink",
			body:    "jwt:\n  secret_key: s\nledger:\n  admin_id: a\nevents:\n  sink: nats\n",
			wantErr: "unknown events sink",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET_KEY", "from-env")
	t.Setenv("LEDGER_ADMIN_ID", "admin-env")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PORT", "9000")

	cfg, err := LoadFrom(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.JWT.SecretKey)
	assert.Equal(t, "admin-env", cfg.Ledger.AdminID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
}
