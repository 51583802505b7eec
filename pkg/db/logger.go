package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"retail-loyalty/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/utils"
)

const defaultSlowThreshold = 200 * time.Millisecond

var slowQueries = promauto.NewCounter(prometheus.CounterOpts{
	Name: "loyalty_db_slow_queries_total",
	Help: "Queries slower than the configured threshold.",
})

// ZapGormLogger routes gorm logs to zap.
type ZapGormLogger struct {
	Zap           *zap.Logger
	SlowThreshold time.Duration
	LogLevel      logger.LogLevel
	ShowSQL       bool
}

// NewZapGormLogger builds the gorm logger for the environment. Production logs
// warnings only and never echoes SQL. A negative threshold disables slow query
// reporting; zero falls back to the default.
func NewZapGormLogger(z *zap.Logger, cfg *config.Config) *ZapGormLogger {
	l := &ZapGormLogger{
		Zap:           z,
		LogLevel:      logger.Info,
		ShowSQL:       true,
		SlowThreshold: cfg.Database.SlowQueryThreshold,
	}
	if cfg.AppEnv == "production" {
		l.LogLevel = logger.Warn
		l.ShowSQL = false
	}
	switch {
	case l.SlowThreshold == 0:
		l.SlowThreshold = defaultSlowThreshold
	case l.SlowThreshold < 0:
		l.SlowThreshold = 0
	}
	return l
}

func (l *ZapGormLogger) LogMode(level logger.LogLevel) logger.Interface {
	cp := *l
	cp.LogLevel = level
	return &cp
}

func (l *ZapGormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Info {
		l.Zap.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *ZapGormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Warn {
		l.Zap.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *ZapGormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if l.LogLevel >= logger.Error {
		l.Zap.Error(fmt.Sprintf(msg, data...))
	}
}

// Slow reports whether a query that took elapsed crosses the threshold.
func (l *ZapGormLogger) Slow(elapsed time.Duration) bool {
	return l.SlowThreshold > 0 && elapsed > l.SlowThreshold
}

func (l *ZapGormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("file", utils.FileWithLineNum()),
		zap.Int64("rows", rows),
		zap.Float64("duration_ms", float64(elapsed.Microseconds())/1000),
	}

	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound):
		l.Zap.Error("gorm.query", append(fields, zap.String("sql", sql), zap.Error(err))...)
	case l.Slow(elapsed):
		slowQueries.Inc()
		if l.LogLevel >= logger.Warn {
			l.Zap.Warn("gorm.slow_query", append(fields, zap.String("sql", sql), zap.Duration("threshold", l.SlowThreshold))...)
		}
	case l.LogLevel >= logger.Info && l.ShowSQL:
		l.Zap.Info("gorm.query", append(fields, zap.String("sql", sql))...)
	}
}
