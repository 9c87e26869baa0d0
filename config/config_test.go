package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GATEWAY_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Gateway.Backend)
	assert.Equal(t, time.Second, cfg.Gateway.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Session.LoadTimeout)
	assert.Equal(t, "8082", cfg.Server.Port)
	assert.False(t, cfg.Log.Cloud)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GATEWAY_BACKEND", "RTDB")
	t.Setenv("FIREBASE_DATABASE_URL", "https://example-default-rtdb.firebaseio.com")
	t.Setenv("GATEWAY_POLL_INTERVAL", "250ms")
	t.Setenv("USER_CACHE_TTL", "not a duration")
	t.Setenv("LOG_CLOUD", "true")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, BackendRTDB, cfg.Gateway.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Gateway.PollInterval)
	assert.Equal(t, 10*time.Minute, cfg.Redis.UserTTL)
	assert.True(t, cfg.Log.Cloud)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		url     string
		wantErr bool
	}{
		{name: "memory", backend: BackendMemory},
		{name: "firestore", backend: BackendFirestore},
		{name: "rtdb without url", backend: BackendRTDB, wantErr: true},
		{name: "rtdb with url", backend: BackendRTDB, url: "https://x.firebaseio.com"},
		{name: "unknown", backend: "mongo", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Firebase: FirebaseConfig{DatabaseURL: tt.url},
				Gateway:  GatewayConfig{Backend: tt.backend, PollInterval: time.Second, PollRPS: 1},
				Session:  SessionConfig{LoadTimeout: time.Second},
			}
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
