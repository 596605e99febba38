package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRESQL_HOST", "")

	cfg, err := fromEnv()
	require.NoError(t, err)

	assert.Equal(t, StoragePostgres, cfg.StorageDriver)
	assert.Equal(t, 500, cfg.DefaultPlatformFeeBps)
	assert.Equal(t, 1000, cfg.DefaultCommunityFeeBps)
	assert.Equal(t, 5000, cfg.MaxTotalFeeBps)
	assert.Equal(t, 30*time.Second, cfg.CommissionCacheTTL)
	assert.Equal(t, "@every 15m", cfg.PayoutSchedule)
	assert.Equal(t, 50, cfg.PayoutBatchSize)
	assert.Equal(t, 15*time.Minute, cfg.PayoutRetryBackoff)
	assert.True(t, cfg.PayoutEnabled)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Contains(t, cfg.DatabaseURL, "timemarket")
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "MEMORY")
	t.Setenv("DEFAULT_PLATFORM_FEE_BPS", "250")
	t.Setenv("PAYOUT_ENABLED", "false")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRESQL_HOST", "db")
	t.Setenv("POSTGRESQL_USER", "svc")
	t.Setenv("POSTGRESQL_PASSWORD", "p@ss word")
	t.Setenv("POSTGRESQL_DBNAME", "tm")

	cfg, err := fromEnv()
	require.NoError(t, err)

	assert.Equal(t, StorageMemory, cfg.StorageDriver)
	assert.Equal(t, 250, cfg.DefaultPlatformFeeBps)
	assert.False(t, cfg.PayoutEnabled)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, "postgres://svc:p%40ss%20word@db:5432/tm?sslmode=disable", cfg.DatabaseURL)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := map[string]map[string]string{
		"bad duration":      {"COMMISSION_CACHE_TTL": "soon"},
		"bad int":           {"MAX_TOTAL_FEE_BPS": "half"},
		"bad bool":          {"PAYOUT_ENABLED": "maybe"},
		"unknown driver":    {"STORAGE_DRIVER": "sqlite"},
		"zero batch":        {"PAYOUT_BATCH_SIZE": "0"},
		"prod short secret": {"APP_ENV": "production", "JWT_SECRET": "short", "CORS_ALLOWED_ORIGINS": "https://x"},
		"prod memory": {
			"APP_ENV":              "production",
			"JWT_SECRET":           "0123456789abcdef0123456789abcdef",
			"CORS_ALLOWED_ORIGINS": "https://x",
			"STORAGE_DRIVER":       "memory",
		},
		"prod no origins": {"APP_ENV": "production", "JWT_SECRET": "0123456789abcdef0123456789abcdef", "CORS_ALLOWED_ORIGINS": ""},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := fromEnv()
			assert.Error(t, err)
		})
	}
}
