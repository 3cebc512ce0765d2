package logger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestDescribeSQL(t *testing.T) {
	cases := []struct {
		sql       string
		statement string
		table     string
	}{
		{`SELECT * FROM "accounts" WHERE account_id = $1`, "SELECT", "accounts"},
		{`INSERT INTO "transactions" ("id") VALUES ($1)`, "INSERT", "transactions"},
		{"UPDATE `accounts` SET used_credits = used_credits + ?", "UPDATE", "accounts"},
		{"", "UNKNOWN", ""},
	}
	for _, tc := range cases {
		statement, table := describeSQL(tc.sql)
		assert.Equal(t, tc.statement, statement, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestTraceLevel(t *testing.T) {
	l := NewGormLogger(GormLoggerConfig{Level: gormlogger.Warn, SlowThreshold: 100 * time.Millisecond, IgnoreRecordNotFound: true})

	_, ok := l.traceLevel(time.Millisecond, gormlogger.ErrRecordNotFound)
	assert.False(t, ok)

	level, ok := l.traceLevel(time.Millisecond, gorm.ErrDuplicatedKey)
	assert.True(t, ok)
	assert.Equal(t, zap.DebugLevel, level)

	level, ok = l.traceLevel(time.Millisecond, errors.New("boom"))
	assert.True(t, ok)
	assert.Equal(t, zap.ErrorLevel, level)

	level, ok = l.traceLevel(time.Second, nil)
	assert.True(t, ok)
	assert.Equal(t, zap.WarnLevel, level)

	_, ok = l.traceLevel(time.Millisecond, nil)
	assert.False(t, ok)
}
