package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck_PingsDatabase(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	require.NoError(t, HealthCheck(context.Background(), db, time.Second))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = HealthCheck(context.Background(), db, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db ping failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenGorm_SharesPool(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	gdb, err := OpenGorm(db)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM audit_events").WillReturnResult(sqlmock.NewResult(0, 2))
	res := gdb.Exec("DELETE FROM audit_events WHERE created_at < ?", time.Unix(0, 0))
	require.NoError(t, res.Error)
	assert.EqualValues(t, 2, res.RowsAffected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenRedis_RequiresAddr(t *testing.T) {
	_, err := OpenRedis(context.Background(), RedisConfig{})
	assert.Error(t, err)
}

func TestRedisOptions_Defaults(t *testing.T) {
	opt := RedisConfig{Addr: "localhost:6379", DB: 2}.options()
	assert.Equal(t, 2, opt.DB)
	assert.Equal(t, 32, opt.PoolSize)
	assert.Equal(t, 2*time.Second, opt.ReadTimeout)
	assert.Equal(t, 3*time.Second, opt.DialTimeout)
}
