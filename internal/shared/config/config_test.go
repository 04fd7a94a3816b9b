package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8084", cfg.Server.Port)
	assert.Equal(t, "smart_notifications", cfg.MongoDB.Database)
	assert.Equal(t, "@every 30s", cfg.Queue.DrainSchedule)
	assert.Equal(t, 200, cfg.Queue.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("MONGODB_URI", "mongodb://mongo:27017")
	t.Setenv("PRAYER_TIMEZONE", "Europe/London")
	t.Setenv("QUEUE_BATCH_SIZE", "50")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "mongodb://mongo:27017", cfg.MongoDB.URI)
	assert.Equal(t, 50, cfg.Queue.BatchSize)
	assert.Equal(t, "Europe/London", cfg.Location().String())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing jwt secret", mutate: func(c *Config) { c.Auth.JWTSecret = "" }, wantErr: true},
		{name: "bad timezone", mutate: func(c *Config) { c.Prayer.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "zero batch size", mutate: func(c *Config) { c.Queue.BatchSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Auth:   AuthConfig{JWTSecret: "secret"},
				Prayer: PrayerConfig{Timezone: "UTC"},
				Queue:  QueueConfig{BatchSize: 10},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
