package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Cfg struct {
	Level string
	JSON  bool
}

// Logger bundles the root logger with its level so reloads can change
// verbosity without rebuilding loggers already handed out.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
}

func New(c Cfg) (*Logger, error) {
	cfg := zap.NewProductionConfig()
	if !c.JSON {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if c.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(c.Level)); err != nil {
			return nil, fmt.Errorf("logging level %q: %w", c.Level, err)
		}
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: l, level: cfg.Level}, nil
}

// SetLevel changes the level of every logger derived from l.
func (l *Logger) SetLevel(level string) error {
	return l.level.UnmarshalText([]byte(level))
}

func (l *Logger) Level() zapcore.Level { return l.level.Level() }
