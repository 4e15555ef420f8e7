package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://localhost/kmfx")
	t.Setenv("KMFX_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("KMFX_OWNER_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("KMFX_CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("KMFX_TOKEN_TTL", "bogus")

	cfg, err := LoadAPIFromEnv()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 12*time.Hour, cfg.TokenTTL)
	assert.Equal(t, "local", cfg.Vault.Backend)
}

func TestLoadAPIFromEnvValidation(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	_, err := LoadAPIFromEnv()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/kmfx")
	t.Setenv("KMFX_JWT_SECRET", "short")
	_, err = LoadAPIFromEnv()
	assert.ErrorContains(t, err, "KMFX_JWT_SECRET")

	t.Setenv("KMFX_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("KMFX_OWNER_PASSWORD_HASH", "$2a$10$hash")
	t.Setenv("KMFX_VAULT_BACKEND", "S3")
	t.Setenv("KMFX_S3_BUCKET", "")
	_, err = LoadAPIFromEnv()
	assert.ErrorContains(t, err, "KMFX_S3_BUCKET")
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/kmfx")
	t.Setenv("KMFX_WORKER_RUN_ONCE", "true")
	t.Setenv("KMFX_RELAY_BATCH", "-4")
	t.Setenv("KMFX_WHATSAPP_DIALECT", "")

	cfg, err := LoadWorkerFromEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 50, cfg.RelayBatch)
	assert.Equal(t, "sqlite3", cfg.WhatsAppDialect)

	t.Setenv("KMFX_WHATSAPP_DIALECT", "mysql")
	_, err = LoadWorkerFromEnv()
	assert.Error(t, err)
}

func TestApplyFileKeepsEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kmfx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kmfx_api_addr: ":7070"
database_url: postgres://file/kmfx
kmfx_cors_origins:
  - https://one.example
  - https://two.example
`), 0o600))

	t.Setenv("DATABASE_URL", "postgres://env/kmfx")
	t.Setenv("KMFX_API_ADDR", "")
	os.Unsetenv("KMFX_API_ADDR")
	t.Setenv("KMFX_CORS_ORIGINS", "")
	os.Unsetenv("KMFX_CORS_ORIGINS")

	require.NoError(t, applyFile(path))
	assert.Equal(t, "postgres://env/kmfx", os.Getenv("DATABASE_URL"))
	assert.Equal(t, ":7070", os.Getenv("KMFX_API_ADDR"))
	assert.Equal(t, "https://one.example,https://two.example", os.Getenv("KMFX_CORS_ORIGINS"))
	os.Unsetenv("KMFX_API_ADDR")
	os.Unsetenv("KMFX_CORS_ORIGINS")
}

func TestApplyFileErrors(t *testing.T) {
	assert.Error(t, applyFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- just\n- a list\n"), 0o600))
	assert.Error(t, applyFile(path))
}
