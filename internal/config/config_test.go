package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 500.0, cfg.DuplicateRadiusMeters)
	assert.Equal(t, 2000.0, cfg.NearbyRadiusMeters)
	assert.Equal(t, 500.0, cfg.ResolutionRadiusMeters)
	assert.Equal(t, 2, cfg.RequiredApprovals)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, 30*time.Minute, cfg.RejectedRetention)
	assert.Equal(t, 10*time.Second, cfg.ClassifierTimeout)
	assert.Equal(t, "local", cfg.StorageDriver)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REQUIRED_APPROVALS", "3")
	t.Setenv("DUPLICATE_RADIUS_METERS", "250.5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.RequiredApprovals)
	assert.Equal(t, 250.5, cfg.DuplicateRadiusMeters)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"STORE_DRIVER": "postgres", "DATABASE_URL": ""}},
		{"unknown store", map[string]string{"STORE_DRIVER": "mongo"}},
		{"s3 without bucket", map[string]string{"STORE_DRIVER": "memory", "STORAGE_DRIVER": "s3"}},
		{"zero approvals", map[string]string{"STORE_DRIVER": "memory", "REQUIRED_APPROVALS": "0"}},
		{"production default secret", map[string]string{
			"ENVIRONMENT": "production", "STORE_DRIVER": "postgres", "DATABASE_URL": "postgres://x",
		}},
		{"production memory store", map[string]string{
			"ENVIRONMENT": "production", "STORE_DRIVER": "memory", "JWT_SECRET": "s3cret",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
