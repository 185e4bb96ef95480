package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func mockGorm(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Discard,
	})
	require.NoError(t, err)
	return mockDB, mock, gormDB
}

// =============================================================================
// 🧪 PoolManager
// =============================================================================

func TestNewPoolManager(t *testing.T) {
	mockDB, _, gormDB := mockGorm(t)
	defer mockDB.Close()

	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5}, nil)
	require.NoError(t, err)
	assert.Same(t, gormDB, pm.DB())
	assert.Equal(t, 10, pm.Stats().MaxOpenConnections)
	assert.True(t, pm.Healthy())

	_, err = NewPoolManager(nil, DefaultPoolConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestPoolManager_PingAndClose(t *testing.T) {
	_, mock, gormDB := mockGorm(t)

	pm, err := NewPoolManager(gormDB, PoolConfig{
		MaxOpenConns:        2,
		MaxIdleConns:        1,
		HealthCheckInterval: time.Hour,
	}, zap.NewNop())
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, pm.Ping(context.Background()))

	mock.ExpectClose()
	require.NoError(t, pm.Close())
	require.NoError(t, pm.Close(), "second close is a no-op")

	assert.ErrorIs(t, pm.Ping(context.Background()), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_ProbeLogsTransitionsOnly(t *testing.T) {
	mockDB, mock, gormDB := mockGorm(t)
	defer mockDB.Close()

	core, logs := observer.New(zapcore.InfoLevel)
	pm, err := NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, zap.New(core))
	require.NoError(t, err)

	down := errors.New("connection refused")
	mock.ExpectPing()
	mock.ExpectPing().WillReturnError(down)
	mock.ExpectPing().WillReturnError(down)
	mock.ExpectPing()

	pm.probe()
	assert.True(t, pm.Healthy())
	pm.probe()
	pm.probe()
	assert.False(t, pm.Healthy())
	pm.probe()
	assert.True(t, pm.Healthy())

	assert.Equal(t, 1, logs.FilterMessage("database became unreachable").Len())
	assert.Equal(t, 1, logs.FilterMessage("database reachable again").Len())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{"defaults", DefaultPoolConfig(), false},
		{"single connection", PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}, false},
		{"no open conns", PoolConfig{MaxIdleConns: 5}, true},
		{"no idle conns", PoolConfig{MaxOpenConns: 10}, true},
		{"idle above open", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, true},
		{"negative lifetime", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1, ConnMaxLifetime: -time.Second}, true},
		{"negative health interval", PoolConfig{MaxOpenConns: 5, MaxIdleConns: 1, HealthCheckInterval: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// 🧪 Open
// =============================================================================

func TestDialector(t *testing.T) {
	t.Parallel()

	for driver, want := range map[string]string{
		"postgres":   "postgres",
		"PostgreSQL": "postgres",
		"mysql":      "mysql",
		"sqlite":     "sqlite",
		"sqlite3":    "sqlite",
	} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.Equal(t, want, d.Name(), driver)
	}

	_, err := Dialector("oracle", "dsn")
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	pm, err := Open(Config{
		Driver: DriverSQLite,
		DSN:    "file::memory:",
		Pool:   PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1},
	}, zap.NewNop())
	require.NoError(t, err)
	defer pm.Close()

	require.NoError(t, pm.Ping(context.Background()))

	type run struct {
		ID         string `gorm:"primaryKey"`
		WorkflowID string `gorm:"uniqueIndex"`
		CreatedAt  time.Time
	}
	db := pm.DB()
	require.NoError(t, db.AutoMigrate(&run{}))
	require.NoError(t, db.Create(&run{ID: "r1", WorkflowID: "alice_1_abc"}).Error)

	var got run
	require.NoError(t, db.First(&got, "id = ?", "r1").Error)
	assert.Equal(t, "alice_1_abc", got.WorkflowID)
	assert.False(t, got.CreatedAt.IsZero())

	assert.Error(t, db.Create(&run{ID: "r2", WorkflowID: "alice_1_abc"}).Error)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	_, err := Open(Config{Driver: DriverSQLite, DSN: ":memory:"}, nil)
	assert.Error(t, err, "zero pool config is rejected")

	_, err = Open(Config{Driver: "nope", Pool: DefaultPoolConfig()}, nil)
	assert.ErrorContains(t, err, "unsupported database driver")
}

// =============================================================================
// 🧪 GormLogger
// =============================================================================

func TestGormLogger_Trace(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewGormLogger(zap.New(core), 50*time.Millisecond)
	ctx := context.Background()
	query := func() (string, int64) { return "SELECT * FROM workflows", 3 }

	l.Trace(ctx, time.Now(), query, nil)
	l.Trace(ctx, time.Now().Add(-time.Second), query, nil)
	l.Trace(ctx, time.Now(), query, errors.New("relation does not exist"))
	l.Trace(ctx, time.Now(), query, gorm.ErrRecordNotFound)

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "sql", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "slow sql", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, zapcore.DebugLevel, entries[3].Level, "record not found is not an error")
	assert.Equal(t, int64(3), entries[0].ContextMap()["rows"])
}

func TestGormLogger_LogMode(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := NewGormLogger(zap.New(core), 0)

	silent := base.LogMode(gormlogger.Silent)
	silent.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("boom"))
	silent.Error(context.Background(), "failed: %s", "x")
	assert.Zero(t, logs.Len())

	base.Info(context.Background(), "ignored at warn level")
	base.Warn(context.Background(), "migrating %s", "workflows")
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "migrating workflows", logs.All()[0].Message)
	assert.Equal(t, DefaultSlowThreshold, base.slow)
}
