package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every component, so one session can be followed
// across the engine, the terminal host and the API.
const (
	SessionKey  = "session_id"
	FragmentKey = "fragment_id"
	TerminalKey = "terminal_id"
)

// Logger wraps zap.Logger with engine-scoped child loggers.
type Logger struct {
	*zap.Logger
}

// Config defines logger configuration.
type Config struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	// OutputPaths defaults to stdout. uiblock-pipe logs to stderr since
	// stdout carries display text.
	OutputPaths []string
}

// New builds a logger. Development mode writes colored console lines
// with stack traces; production mode writes JSON.
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	encoding, enc := "json", jsonEncoder()
	if cfg.Development {
		encoding, enc = "console", consoleEncoder()
	}
	logger, err := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     enc,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger; nil yields a no-op logger.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{Logger: l}
}

// Component returns a named child logger.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.Logger.Named(name)}
}

// Session returns a child logger tagged with a session id.
func (l *Logger) Session(sessionID string) *Logger {
	return &Logger{Logger: l.Logger.With(SessionID(sessionID))}
}

// Fragment returns a child logger tagged with a fragment id.
func (l *Logger) Fragment(fragmentID string) *Logger {
	return &Logger{Logger: l.Logger.With(FragmentID(fragmentID))}
}

func SessionID(id string) zap.Field  { return zap.String(SessionKey, id) }
func FragmentID(id string) zap.Field { return zap.String(FragmentKey, id) }
func TerminalID(id string) zap.Field { return zap.String(TerminalKey, id) }

func consoleEncoder() zapcore.EncoderConfig {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	return enc
}

func jsonEncoder() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.MessageKey = "message"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	enc.EncodeDuration = zapcore.MillisDurationEncoder
	return enc
}
