// Package logging builds the process-wide zap logger from LOG_* settings.
package logging

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edgeflare/mimir/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ErrUnknownLevel = errors.New("unknown log level")

// ParseLevel maps LOG_LEVEL names onto zap levels. Names are case-insensitive.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "", "INFO":
		return zapcore.InfoLevel, nil
	case "WARN", "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL", "FATAL":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("%w: %q", ErrUnknownLevel, level)
	}
}

// New builds a logger. DEBUG selects the console encoder; otherwise JSON is used.
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	loc := time.UTC
	if cfg.TZ != "" {
		if loc, err = time.LoadLocation(cfg.TZ); err != nil {
			return nil, fmt.Errorf("load LOG_TZ %q: %w", cfg.TZ, err)
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Debug {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = TimeEncoder(loc, cfg.DateFormat)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		zcfg.OutputPaths = append(zcfg.OutputPaths, cfg.File)
	}

	return zcfg.Build()
}

// TimeEncoder renders timestamps in loc using a strftime-style dateFormat. An empty format
// falls back to RFC3339 with milliseconds.
func TimeEncoder(loc *time.Location, dateFormat string) zapcore.TimeEncoder {
	layout := "2006-01-02T15:04:05.000Z07:00"
	if dateFormat != "" {
		layout = StrftimeToLayout(dateFormat)
	}
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(loc).Format(layout))
	}
}

var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%I", "03",
	"%M", "04",
	"%S", "05",
	"%p", "PM",
	"%b", "Jan",
	"%B", "January",
	"%a", "Mon",
	"%A", "Monday",
	"%z", "-0700",
	"%Z", "MST",
	"%f", "000000",
	"%%", "%",
)

// StrftimeToLayout translates the common strftime directives into a Go time layout.
func StrftimeToLayout(format string) string {
	return strftimeReplacer.Replace(format)
}
