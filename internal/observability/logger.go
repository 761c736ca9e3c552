// File: internal/observability/logger.go
package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/telemetry-sync/internal/config"
)

var (
	// globalLogger holds the process logger once Initialize has run.
	globalLogger atomic.Pointer[zap.Logger]
	// once guards Initialize; ResetForTest replaces it.
	once sync.Once
)

// Run identifies one invocation of a step. Each step is its own process, so
// the run is fixed when the logger is built and every entry carries it. That
// lets interleaved scheduler logs be split back into runs.
type Run struct {
	ID   string
	Step string
	// Site is the session store key the step works against, if any.
	Site string
}

// NewRun starts a run of step against site with a fresh id.
func NewRun(step, site string) Run {
	return Run{ID: uuid.NewString(), Step: step, Site: site}
}

// fields are attached to the core, so loggers derived later keep them.
func (r Run) fields() []zap.Field {
	var fs []zap.Field
	if r.ID != "" {
		fs = append(fs, zap.String("run_id", r.ID))
	}
	if r.Site != "" {
		fs = append(fs, zap.String("site", r.Site))
	}
	return fs
}

// Initialize builds the global logger for run. Console entries go to
// consoleWriter, which is what a supervising pipeline relays; when
// cfg.LogFile is set a rotating JSON file keeps the history across scheduled
// runs. Only the first call has any effect.
func Initialize(cfg config.LoggerConfig, consoleWriter zapcore.WriteSyncer, run Run) {
	once.Do(func() {
		level := zap.NewAtomicLevel()
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			level.SetLevel(zap.InfoLevel)
		}

		tee := []zapcore.Core{zapcore.NewCore(consoleEncoder(cfg), consoleWriter, level)}
		if cfg.LogFile != "" {
			rotating := &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   cfg.Compress,
			}
			tee = append(tee, zapcore.NewCore(jsonEncoder(), zapcore.AddSync(rotating), level))
		}
		core := zapcore.NewTee(tee...).With(run.fields())

		opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
		if cfg.AddSource {
			opts = append(opts, zap.AddCaller())
		}
		logger := zap.New(core, opts...).Named(cfg.ServiceName)
		if run.Step != "" {
			logger = logger.Named(run.Step)
		}

		globalLogger.Store(logger)
		zap.ReplaceGlobals(logger)
		zap.RedirectStdLog(logger)
	})
}

// InitializeLogger is Initialize writing the console to a locked stdout.
func InitializeLogger(cfg config.LoggerConfig, run Run) {
	Initialize(cfg, zapcore.Lock(os.Stdout), run)
}

// ResetForTest forgets the global logger so the next Initialize takes
// effect. Tests only.
func ResetForTest() {
	globalLogger.Store(nil)
	once = sync.Once{}
}

const ansiReset = "\x1b[0m"

var ansiColors = map[string]string{
	"black":   "\x1b[30m",
	"red":     "\x1b[31m",
	"green":   "\x1b[32m",
	"yellow":  "\x1b[33m",
	"blue":    "\x1b[34m",
	"magenta": "\x1b[35m",
	"cyan":    "\x1b[36m",
	"white":   "\x1b[37m",
}

// levelColors resolves the configured color names once. Unknown or empty
// names leave the level uncolored.
func levelColors(c config.ColorConfig) map[zapcore.Level]string {
	named := map[zapcore.Level]string{
		zapcore.DebugLevel:  c.Debug,
		zapcore.InfoLevel:   c.Info,
		zapcore.WarnLevel:   c.Warn,
		zapcore.ErrorLevel:  c.Error,
		zapcore.DPanicLevel: c.DPanic,
		zapcore.PanicLevel:  c.Panic,
		zapcore.FatalLevel:  c.Fatal,
	}
	codes := make(map[zapcore.Level]string, len(named))
	for level, name := range named {
		if code, ok := ansiColors[strings.ToLower(name)]; ok {
			codes[level] = code
		}
	}
	return codes
}

func colorLevelEncoder(c config.ColorConfig) zapcore.LevelEncoder {
	codes := levelColors(c)
	return func(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := level.CapitalString()
		if code, ok := codes[level]; ok {
			name = code + name + ansiReset
		}
		enc.AppendString(name)
	}
}

func baseEncoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

func jsonEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(baseEncoderConfig())
}

// consoleEncoder is single-line with colored levels for "console" and falls
// back to JSON for any other format.
func consoleEncoder(cfg config.LoggerConfig) zapcore.Encoder {
	if cfg.Format != "console" {
		return jsonEncoder()
	}
	ec := baseEncoderConfig()
	ec.EncodeLevel = colorLevelEncoder(cfg.Colors)
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

// GetLogger returns the global logger, or a development logger named
// "fallback" when Initialize has not run yet.
func GetLogger() *zap.Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Terminals and pipes reject fsync on most platforms.
var ignoredSyncErrors = []string{
	"sync /dev/stdout",
	"invalid argument",
	"inappropriate ioctl",
	"operation not supported",
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	logger := globalLogger.Load()
	if logger == nil {
		return
	}
	err := logger.Sync()
	if err == nil {
		return
	}
	for _, s := range ignoredSyncErrors {
		if strings.Contains(err.Error(), s) {
			return
		}
	}
	fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
}
