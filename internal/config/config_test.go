package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("FIREBASE_PROJECT_ID", "fitsync")
	t.Setenv("FIREBASE_PRIVATE_KEY", "a2V5")
	t.Setenv("FIREBASE_CLIENT_EMAIL", "svc@fitsync.iam.gserviceaccount.com")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, BackendFirestore, cfg.Sync.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 24*time.Hour, cfg.JWT.TTL)
	assert.Empty(t, cfg.Grid.APIURL)
	assert.False(t, cfg.OTEL.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SYNC_BACKEND", BackendMongo)
	t.Setenv("SESSION_IDLE_TTL", "90")
	t.Setenv("GRID_TIMEOUT", "250ms")
	t.Setenv("OTEL_ENABLED", "not-a-bool")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMongo, cfg.Sync.Backend)
	assert.Equal(t, 90*time.Second, cfg.Session.IdleTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Grid.Timeout)
	assert.False(t, cfg.OTEL.Enabled, "unparsable values fall back to the default")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown backend", env: map[string]string{"SYNC_BACKEND": "dynamo"}, want: "SYNC_BACKEND"},
		{name: "missing secret", env: map[string]string{"JWT_SECRET": ""}, want: "JWT_SECRET"},
		{name: "missing project", env: map[string]string{"FIREBASE_PROJECT_ID": ""}, want: "FIREBASE_PROJECT_ID"},
		{name: "zero sweep interval", env: map[string]string{"SESSION_SWEEP_INTERVAL": "0s"}, want: "SESSION_SWEEP_INTERVAL"},
		{name: "otel without endpoint", env: map[string]string{"OTEL_ENABLED": "true"}, want: "OTEL_EXPORTER_OTLP_ENDPOINT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
