package monitor

import (
	"context"
	"fmt"

	"github.com/openbridge/dex-middleware/pkg/taskid"
)

// ProcessResult is the outcome of one task post-processing attempt.
type ProcessResult struct {
	Success bool
	Code    string
	Message string
}

// Success returns a successful result.
func Success() ProcessResult {
	return ProcessResult{Success: true}
}

// Failure returns a failed result with an error code and message.
func Failure(code, message string) ProcessResult {
	return ProcessResult{Code: code, Message: message}
}

// Processor reacts to a confirmed on-chain transaction that carries a
// task id of its type. Process must be idempotent per transaction hash;
// the monitor guarantees at-most-once dispatch per hash via the monitor
// log, and processors guard their own state transitions on top.
type Processor[R any] interface {
	TaskType() taskid.Type
	Process(ctx context.Context, logID int64, task taskid.TaskId, tx *DecodedTx[R]) ProcessResult
}

// Registry maps task types to their processors.
type Registry[R any] struct {
	processors map[taskid.Type]Processor[R]
}

// NewRegistry returns an empty processor registry.
func NewRegistry[R any]() *Registry[R] {
	return &Registry[R]{processors: make(map[taskid.Type]Processor[R])}
}

// Register adds a processor. Registering a second processor for the
// same task type is a configuration error.
func (r *Registry[R]) Register(p Processor[R]) error {
	t := p.TaskType()
	if _, dup := r.processors[t]; dup {
		return fmt.Errorf("processor already registered for task type %s", t)
	}
	r.processors[t] = p
	return nil
}

// Lookup returns the processor for a task type, if any.
func (r *Registry[R]) Lookup(t taskid.Type) (Processor[R], bool) {
	p, ok := r.processors[t]
	return p, ok
}
