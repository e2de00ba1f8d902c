package postgres

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/keyip-renewals/internal/config"
)

func TestDSN_ParsesIntoPoolConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DatabaseConfig{
		Host:     "db.internal",
		Port:     6432,
		User:     "renewals",
		Password: "p@ss:w/rd",
		DBName:   "renewals",
		SSLMode:  "require",
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	require.NoError(t, err)

	cc := poolCfg.ConnConfig
	assert.Equal(t, "db.internal", cc.Host)
	assert.Equal(t, uint16(6432), cc.Port)
	assert.Equal(t, "renewals", cc.User)
	assert.Equal(t, "p@ss:w/rd", cc.Password)
	assert.Equal(t, "renewals", cc.Database)
}

func TestConfigurePool(t *testing.T) {
	t.Parallel()

	t.Run("applies limits", func(t *testing.T) {
		poolCfg := &pgxpool.Config{}
		configurePool(poolCfg, config.DatabaseConfig{
			MaxConns:        20,
			MinConns:        2,
			ConnMaxLifetime: time.Hour,
			ConnMaxIdleTime: 10 * time.Minute,
		})

		assert.Equal(t, int32(20), poolCfg.MaxConns)
		assert.Equal(t, int32(2), poolCfg.MinConns)
		assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
		assert.Equal(t, 10*time.Minute, poolCfg.MaxConnIdleTime)
	})

	t.Run("zero values keep pgx defaults", func(t *testing.T) {
		poolCfg := &pgxpool.Config{MaxConns: 4, MaxConnLifetime: time.Hour}
		configurePool(poolCfg, config.DatabaseConfig{})
		assert.Equal(t, int32(4), poolCfg.MaxConns)
		assert.Zero(t, poolCfg.MinConns)
		assert.Equal(t, time.Hour, poolCfg.MaxConnLifetime)
	})
}
