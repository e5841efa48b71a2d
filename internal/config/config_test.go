package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", c.Addr)
	assert.Equal(t, 14, c.LoanPeriodDays)
	assert.Equal(t, int64(100), c.FinePerDayCents)
	assert.Equal(t, 3, c.MaxLoansMember)
	assert.Equal(t, 10, c.MaxLoansAdmin)
	assert.Equal(t, 24*time.Hour, c.TokenTTL)
	assert.Equal(t, "admin", c.AdminUsername)
	assert.Equal(t, []string{"http://localhost:3000"}, c.CORSOrigins)
	assert.Equal(t, zerolog.InfoLevel, c.LogLevel)
	assert.Empty(t, c.RabbitMQURL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOAN_PERIOD_DAYS", "21")
	t.Setenv("FINE_PER_DAY_CENTS", "25")
	t.Setenv("MAX_LOANS_MEMBER", "5")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.example, http://b.example ,")
	t.Setenv("ENABLE_HSTS", "true")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 21, c.LoanPeriodDays)
	assert.Equal(t, int64(25), c.FinePerDayCents)
	assert.Equal(t, 5, c.MaxLoansMember)
	assert.Equal(t, 90*time.Minute, c.TokenTTL)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, c.CORSOrigins)
	assert.True(t, c.EnableHSTS)
	assert.Equal(t, zerolog.DebugLevel, c.LogLevel)
}

func TestLoad_ReportsEveryError(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LOAN_PERIOD_DAYS", "two weeks")
	t.Setenv("TOKEN_TTL", "forever")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "LOAN_PERIOD_DAYS")
	assert.Contains(t, err.Error(), "TOKEN_TTL")
}

func TestLoad_RejectsZeroLoanPeriod(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("LOAN_PERIOD_DAYS", "0")

	_, err := Load()
	assert.ErrorContains(t, err, "LOAN_PERIOD_DAYS must be at least 1")
}

func TestLoadEnvFiles_DoesNotOverrideExistingEnv(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, ".env"), []byte("DB_DSN=from_file\nRABBITMQ_EXCHANGE=from_file\n"), 0644))

	t.Setenv("DB_DSN", "from_env")
	t.Setenv("RABBITMQ_EXCHANGE", "")
	os.Unsetenv("RABBITMQ_EXCHANGE")

	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(tmp))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	LoadEnvFiles()
	t.Cleanup(func() { _ = os.Unsetenv("RABBITMQ_EXCHANGE") })

	assert.Equal(t, "from_env", os.Getenv("DB_DSN"))
	assert.Equal(t, "from_file", os.Getenv("RABBITMQ_EXCHANGE"))
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://***@db:5432/x", RedactDSN("postgres://user:pw@db:5432/x"))
	assert.Equal(t, "not-a-dsn", RedactDSN("not-a-dsn"))
}

func TestMigrationsDir(t *testing.T) {
	t.Setenv("MIGRATIONS_DIR", "")
	assert.Equal(t, "db/migrations", MigrationsDir())

	t.Setenv("MIGRATIONS_DIR", "/custom/migrations")
	assert.Equal(t, "/custom/migrations", MigrationsDir())
}
