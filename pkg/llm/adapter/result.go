package adapter

import (
	"fmt"

	"github.com/entrhq/conduit/pkg/llm"
	"github.com/entrhq/conduit/pkg/types"
)

// Status tags the outcome of an adapter call.
type Status int

const (
	StatusOK Status = iota
	// StatusRejected means the budget check refused the call. Nothing was sent.
	StatusRejected
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRejected:
		return "rejected"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is returned by every Ask variant. Batch calls set Message, streaming
// calls set Stream. A rejected result carries the budget reason, a failed one
// the last upstream error.
type Result struct {
	Status  Status
	Message *types.Message
	Stream  <-chan *llm.StreamChunk
	Reason  string
	Err     error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// Error returns nil for successful results. Rejected results wrap
// ErrBudgetExceeded.
func (r Result) Error() error {
	if r.Status == StatusOK {
		return nil
	}
	return r.Err
}

func rejected(cause error) Result {
	return Result{
		Status: StatusRejected,
		Reason: cause.Error(),
		Err:    fmt.Errorf("%w: %w", ErrBudgetExceeded, cause),
	}
}

func failed(err error) Result {
	return Result{Status: StatusFailed, Reason: err.Error(), Err: err}
}
