package database

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/energy-process/platform/pkg/common/logger"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := logger.Log
	logger.Log = logrus.New()
	logger.Log.SetOutput(&buf)
	logger.Log.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() { logger.Log = prev })
	return &buf
}

func trace(l gormlogger.Interface, elapsed time.Duration, err error) {
	l.Trace(context.Background(), time.Now().Add(-elapsed), func() (string, int64) {
		return `SELECT * FROM "archivos"`, 1
	}, err)
}

func TestGormLoggerReportsFailuresAndSlowQueries(t *testing.T) {
	buf := captureLogs(t)
	l := newGormLogger()

	trace(l, time.Millisecond, nil)
	assert.Empty(t, buf.String(), "fast queries are quiet at warn level")

	trace(l, time.Millisecond, gorm.ErrRecordNotFound)
	assert.Empty(t, buf.String(), "missing rows are not failures")

	trace(l, time.Millisecond, errors.New("connection reset"))
	assert.Contains(t, buf.String(), "query failed")
	assert.Contains(t, buf.String(), "connection reset")

	buf.Reset()
	trace(l, time.Second, nil)
	assert.Contains(t, buf.String(), "slow query")
}

func TestGormLoggerLogMode(t *testing.T) {
	buf := captureLogs(t)

	silent := newGormLogger().LogMode(gormlogger.Silent)
	trace(silent, time.Second, errors.New("boom"))
	assert.Empty(t, buf.String())

	verbose := newGormLogger().LogMode(gormlogger.Info)
	trace(verbose, time.Millisecond, nil)
	assert.Contains(t, buf.String(), `SELECT * FROM \"archivos\"`)
}
