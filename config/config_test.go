package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "xpense.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
database:
  driver: postgres
  host: db.internal
  port: 5432
  user: xpense
  name: xpense
cache:
  driver: redis
  addr: redis.internal:6379
  ttl: 10s
auth:
  jwt_secret: file-secret
  token_ttl: 1h
participants:
  - test1
  - test2
  - test3
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, Duration(10*time.Second), cfg.Cache.TTL)
	assert.Equal(t, "file-secret", cfg.Auth.JWTSecret)
	assert.Equal(t, []string{"test1", "test2", "test3"}, cfg.Participants)

	assert.True(t, cfg.IsParticipant("test2"))
	assert.False(t, cfg.IsParticipant("stranger"))
}

func TestLoadEnvOverridesSecret(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: file-secret
participants: [test1]
`)
	t.Setenv("JWT_SECRET", "env-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.Auth.JWTSecret)

	// Unset fields keep their defaults.
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown database driver", "database: {driver: oracle}\nparticipants: [a]"},
		{"unknown cache driver", "cache: {driver: memcached}\nparticipants: [a]"},
		{"empty participants", "participants: []"},
		{"duplicate participant", "participants: [a, a]"},
		{"blank participant", "participants: [a, '']"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, test.content))
			assert.Error(t, err)
		})
	}
}
