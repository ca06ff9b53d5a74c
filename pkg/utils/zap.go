package utils

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevelEnv overrides the default debug level, e.g. IIDC_LOG_LEVEL=info.
const LogLevelEnv = "IIDC_LOG_LEVEL"

var (
	logger *zap.SugaredLogger
)

func init() {
	logger = NewLogger()
}

func GetLogger() *zap.SugaredLogger {
	return logger
}

func NewLogger() *zap.SugaredLogger {
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)
	if s := os.Getenv(LogLevelEnv); s != "" {
		if l, err := zapcore.ParseLevel(s); err == nil {
			level.SetLevel(l)
		}
	}
	cfg := zap.Config{
		Level:    level,
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			MessageKey:  "msg",
			LevelKey:    "level",
			TimeKey:     "time",
			NameKey:     "logger",
			EncodeLevel: zapcore.CapitalLevelEncoder,
			EncodeTime:  zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
			EncodeName:  zapcore.FullNameEncoder,
		},
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return l.Sugar()
}

// Named returns a child of the process logger tagged with name.
func Named(name string) *zap.SugaredLogger {
	return logger.Named(name)
}
