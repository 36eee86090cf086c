package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Session.MaxOnStage)
	assert.Equal(t, 15*time.Second, cfg.Session.DisconnectGrace)
	assert.Equal(t, 10, cfg.Session.CheckpointEvery)
	assert.Equal(t, 60, cfg.Session.MinuteEvery)
	assert.Equal(t, 30*time.Second, cfg.Session.EndedLinger)
	assert.Equal(t, 30*time.Minute, cfg.Session.ViewerIdleTTL)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
}

func TestLoadSessionOverrides(t *testing.T) {
	t.Setenv("SESSION_MAX_ON_STAGE", "2")
	t.Setenv("SESSION_DISCONNECT_GRACE", "5s")
	t.Setenv("SESSION_PRESENCE_TIMEOUT", "120")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("ZEGO_APP_ID", "12345")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Session.MaxOnStage)
	assert.Equal(t, 5*time.Second, cfg.Session.DisconnectGrace)
	assert.Equal(t, 2*time.Minute, cfg.Session.PresenceTimeout)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, uint32(12345), cfg.Zego.AppID)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsShortZegoSecret(t *testing.T) {
	t.Setenv("ZEGO_SERVER_SECRET", "short")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "db", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@h:5432/db?sslmode=disable", d.DSN())
	d.URL = "postgres://x"
	assert.Equal(t, "postgres://x", d.DSN())
}
