// Package alarm delivers operator alerts raised by monitors and workers.
package alarm

import (
	"go.uber.org/zap"
)

// Sink receives operator alerts. Implementations must be safe for
// concurrent use.
type Sink interface {
	// Error reports a failure that held back automatic progress and
	// needs operator attention.
	Error(component string, err error, fields ...zap.Field)
	// Warn reports a suspicious but self-recovering condition.
	Warn(component string, msg string, fields ...zap.Field)
}

type logSink struct {
	logger *zap.Logger
}

// NewLogSink returns a Sink that writes alerts to the given logger.
func NewLogSink(logger *zap.Logger) Sink {
	return &logSink{logger: logger.Named("alarm")}
}

func (s *logSink) Error(component string, err error, fields ...zap.Field) {
	all := append([]zap.Field{zap.String("component", component), zap.Error(err)}, fields...)
	s.logger.Error("alert", all...)
}

func (s *logSink) Warn(component string, msg string, fields ...zap.Field) {
	all := append([]zap.Field{zap.String("component", component), zap.String("detail", msg)}, fields...)
	s.logger.Warn("alert", all...)
}
