// Package logging provides structured logging configuration.
package logging

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration options.
type Config struct {
	Level  string // debug|info|warn|error
	Format string // json|console
	File   string // optional; stderr when empty
}

// New creates a new configured zap logger.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, err
		}
	}

	format := strings.ToLower(cfg.Format)
	if format == "" {
		format = "json"
	}

	var zcfg zap.Config
	if format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}

	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.TimeKey = "ts"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.MessageKey = "msg"
	zcfg.EncoderConfig.CallerKey = "caller"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if cfg.File != "" {
		zcfg.OutputPaths = []string{cfg.File}
		zcfg.ErrorOutputPaths = []string{cfg.File}
	}

	logger, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(0))
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("service", "dnsmon"))

	return logger, nil
}

// Sync flushes any buffered log entries.
func Sync(logger *zap.Logger) {
	_ = logger.Sync()
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	return Config{
		Level:  getenv("DNSMON_LOG_LEVEL", "info"),
		Format: getenv("DNSMON_LOG_FORMAT", "json"),
		File:   os.Getenv("DNSMON_LOG_FILE"),
	}
}

func getenv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Component returns a zap field for the component name.
func Component(name string) zap.Field { return zap.String("component", name) }

// State returns a zap field for a module lifecycle state.
func State(state string) zap.Field { return zap.String("state", state) }

// Mode returns a zap field for the operation mode.
func Mode(mode string) zap.Field { return zap.String("mode", mode) }

// Period returns a zap field for a polling period.
func Period(d time.Duration) zap.Field { return zap.Duration("period", d) }

// Addr returns a zap field for an address.
func Addr(addr string) zap.Field { return zap.String("addr", addr) }

// RemoteIP returns a zap field for a remote IP address.
func RemoteIP(ip string) zap.Field { return zap.String("remote_ip", ip) }

// QName returns a zap field for a DNS query name.
func QName(qname string) zap.Field { return zap.String("qname", qname) }

// QType returns a zap field for a DNS query type.
func QType(qtype string) zap.Field { return zap.String("qtype", qtype) }

// UID returns a zap field for an owning-process UID.
func UID(uid int) zap.Field { return zap.Int("uid", uid) }

// Reason returns a zap field for the reason behind an action.
func Reason(reason string) zap.Field { return zap.String("reason", reason) }

// Key returns a zap field for a notification message key.
func Key(key string) zap.Field { return zap.String("key", key) }

// Tail returns a zap field carrying the log text that triggered a detection.
func Tail(text string) zap.Field { return zap.String("tail", text) }

// Lines creates a field for matched log lines.
func Lines(lines []string) zap.Field { return zap.Strings("lines", lines) }
