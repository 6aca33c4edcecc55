package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm/logger"

	"activations-controlplane/pkg/config"
)

func TestDialectByType(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = "5432"
	cfg.Database.DBNAME = "activations"

	d, err := Dialect(cfg)
	require.NoError(t, err)
	require.Equal(t, "activations", getDBNameFromDialector(d))

	cfg.Database.Type = "mysql"
	d, err = Dialect(cfg)
	require.NoError(t, err)
	_, ok := d.(*mysql.Dialector)
	require.True(t, ok)

	cfg.Database.Type = "oracle"
	_, err = Dialect(cfg)
	require.Error(t, err)
}

func TestExtractDBName(t *testing.T) {
	require.Equal(t, "wallets", extractDBNameFromDSN("host=x dbname=wallets sslmode=disable"))
	require.Equal(t, "wallets", extractDBNameFromDSN("u:p@tcp(h:3306)/wallets?parseTime=True"))
	require.Equal(t, "unknown", getDBNameFromDialector(postgres.New(postgres.Config{DSN: "host=x"})))
}

func TestZapGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := NewZapGormLogger(zap.New(core), logger.Warn, false)
	l.SlowThreshold = time.Millisecond
	ctx := context.Background()
	sql := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(ctx, time.Now(), sql, nil)
	require.Zero(t, logs.Len())

	l.Trace(ctx, time.Now().Add(-time.Second), sql, nil)
	require.Equal(t, 1, logs.FilterMessage("gorm.slow_query").Len())

	l.Trace(ctx, time.Now(), sql, errors.New("boom"))
	require.Equal(t, 1, logs.FilterMessage("gorm.query").Len())

	l.Trace(ctx, time.Now(), sql, logger.ErrRecordNotFound)
	require.Equal(t, 2, logs.Len())

	l.LogMode(logger.Silent).Trace(ctx, time.Now(), sql, errors.New("boom"))
	require.Equal(t, 2, logs.Len())
}
