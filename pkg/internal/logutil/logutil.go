package logutil

import (
    "os"
    "strings"
    "sync/atomic"

    "go.uber.org/zap"
    "go.uber.org/zap/zapcore"
)

var jsonMode atomic.Bool

func init() {
    if os.Getenv("RELAY_LOG_JSON") == "1" || os.Getenv("RELAY_LOG_FORMAT") == "json" {
        jsonMode.Store(true)
    }
}

func SetJSON(enabled bool) { jsonMode.Store(enabled) }

// Options selects encoding and level for New.
type Options struct {
    Level string // debug|info|warn|error, default info
    JSON  bool   // force JSON; RELAY_LOG_JSON=1 also enables it
}

// New builds a process logger. Console output is human oriented; JSON output
// is one object per line for collectors.
func New(o Options) (*zap.Logger, error) {
    var cfg zap.Config
    if o.JSON || jsonMode.Load() {
        cfg = zap.NewProductionConfig()
        cfg.EncoderConfig.TimeKey = "ts"
        cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
    } else {
        cfg = zap.NewDevelopmentConfig()
        cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
        cfg.DisableStacktrace = true
    }
    lvl, err := zapcore.ParseLevel(strings.TrimSpace(o.Level))
    if err != nil || o.Level == "" { lvl = zapcore.InfoLevel }
    cfg.Level = zap.NewAtomicLevelAt(lvl)
    return cfg.Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
    if l == nil { return zap.NewNop() }
    return l
}

func sugar(l *zap.Logger) *zap.SugaredLogger {
    return OrNop(l).WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func Debugf(l *zap.Logger, f string, args ...any) { sugar(l).Debugf(f, args...) }
func Infof(l *zap.Logger, f string, args ...any)  { sugar(l).Infof(f, args...) }
func Warnf(l *zap.Logger, f string, args ...any)  { sugar(l).Warnf(f, args...) }
func Errorf(l *zap.Logger, f string, args ...any) { sugar(l).Errorf(f, args...) }
