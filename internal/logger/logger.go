package logger

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger es la interfaz de logging estructurado que usan todos los paquetes.
type Logger interface {
	// With devuelve un logger con metadata fija
	With(metadata map[string]interface{}) Logger
	// WithPrefix devuelve un logger con un componente en el nombre
	WithPrefix(prefix string) Logger
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// LevelFromEnv lee APPSERVER_LOG_LEVEL; vacío o inválido => info.
func LevelFromEnv() string {
	if v := os.Getenv("APPSERVER_LOG_LEVEL"); v != "" {
		return v
	}
	return "info"
}

// ParseLevel convierte "debug|info|warn|error" en un nivel de zap.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace", "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Newf("unknown log level %q", s)
	}
}

type zapLogger struct {
	s *zap.SugaredLogger
}

var _ Logger = (*zapLogger)(nil)

// New construye un logger de zap: consola con colores si stdout es una
// terminal, JSON en otro caso.
func New(level string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	var cfg zap.Config
	fd := os.Stdout.Fd()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Sampling = nil
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	z, err := cfg.Build()
	if err != nil {
		return nil, errors.Wrap(err, "build zap logger")
	}
	return FromZap(z), nil
}

// FromZap envuelve un *zap.Logger existente.
func FromZap(z *zap.Logger) Logger {
	return &zapLogger{s: z.Sugar()}
}

// NewNop descarta todo.
func NewNop() Logger { return FromZap(zap.NewNop()) }

func (l *zapLogger) With(metadata map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(metadata)*2)
	for k, v := range metadata {
		kv = append(kv, k, v)
	}
	return &zapLogger{s: l.s.With(kv...)}
}

func (l *zapLogger) WithPrefix(prefix string) Logger {
	return &zapLogger{s: l.s.Named(prefix)}
}

func (l *zapLogger) Debug(msg string, args ...interface{}) { l.s.Debugf(msg, args...) }
func (l *zapLogger) Info(msg string, args ...interface{})  { l.s.Infof(msg, args...) }
func (l *zapLogger) Warn(msg string, args ...interface{})  { l.s.Warnf(msg, args...) }
func (l *zapLogger) Error(msg string, args ...interface{}) { l.s.Errorf(msg, args...) }

// Sync vacía buffers si el logger es de zap.
func Sync(l Logger) {
	if z, ok := l.(*zapLogger); ok {
		_ = z.s.Sync()
	}
}
