package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-damage-issues/internal/config"
)

func TestPoolConfig_UsesConfiguredDSN(t *testing.T) {
	dsn := config.DatabaseConfig{
		Host: "db.internal", Port: 5433, User: "app", Password: "pw", Database: "damage", SSLMode: "disable",
	}.DSN()

	cfg, err := poolConfig(Config{DSN: dsn, MaxConns: 7, MinConns: 2, HealthCheck: 30 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
	assert.Equal(t, uint16(5433), cfg.ConnConfig.Port)
	assert.Equal(t, "app", cfg.ConnConfig.User)
	assert.Equal(t, "damage", cfg.ConnConfig.Database)
	assert.Equal(t, int32(7), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, 30*time.Second, cfg.HealthCheckPeriod)
}

func TestPoolConfig_InvalidDSN(t *testing.T) {
	_, err := poolConfig(Config{DSN: "postgres://app@host:notaport/db"})
	assert.Error(t, err)
}
