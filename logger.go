package fetchup

import (
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger receives debug output as a message plus alternating key/value pairs.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// DebugConfig selects which events reach the Logger.
type DebugConfig struct {
	Enabled      bool
	LogRequests  bool
	LogCache     bool
	RequestIDGen func() string
}

// DefaultDebugConfig returns a disabled config with every category selected
// and UUID request IDs.
func DefaultDebugConfig() *DebugConfig {
	return &DebugConfig{
		Enabled:      false,
		LogRequests:  true,
		LogCache:     true,
		RequestIDGen: generateRequestID,
	}
}

func generateRequestID() string {
	return uuid.NewString()
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger wraps l.
func NewZerologLogger(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: l}
}

// NewSimpleLogger logs at debug level to stderr through a console writer.
func NewSimpleLogger() *ZerologLogger {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(zerolog.DebugLevel).
		With().Timestamp().Logger()
	return NewZerologLogger(l)
}

func (z *ZerologLogger) Debug(msg string, keysAndValues ...interface{}) {
	z.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (z *ZerologLogger) Info(msg string, keysAndValues ...interface{}) {
	z.log.Info().Fields(keysAndValues).Msg(msg)
}

func (z *ZerologLogger) Warn(msg string, keysAndValues ...interface{}) {
	z.log.Warn().Fields(keysAndValues).Msg(msg)
}

func (z *ZerologLogger) Error(msg string, keysAndValues ...interface{}) {
	z.log.Error().Fields(keysAndValues).Msg(msg)
}
