// Package temporal holds the glue between the Temporal SDK and the rest of
// the service.
package temporal

import (
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapAdapter satisfies the SDK's log.Logger with the service-wide zap logger,
// so workflow and worker internals land in the same structured stream.
type zapAdapter struct {
	logger *zap.Logger
}

// NewZapAdapter wraps a zap logger for the Temporal SDK.
func NewZapAdapter(logger *zap.Logger) log.Logger {
	return &zapAdapter{logger: logger}
}

func (z *zapAdapter) Debug(msg string, keyvals ...interface{}) {
	z.logger.Debug(msg, fields(keyvals)...)
}

func (z *zapAdapter) Info(msg string, keyvals ...interface{}) {
	z.logger.Info(msg, fields(keyvals)...)
}

func (z *zapAdapter) Warn(msg string, keyvals ...interface{}) {
	z.logger.Warn(msg, fields(keyvals)...)
}

func (z *zapAdapter) Error(msg string, keyvals ...interface{}) {
	z.logger.Error(msg, fields(keyvals)...)
}

func (z *zapAdapter) With(keyvals ...interface{}) log.Logger {
	return &zapAdapter{logger: z.logger.With(fields(keyvals)...)}
}

func fields(keyvals []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, zap.Any(key, keyvals[i+1]))
	}
	return out
}
