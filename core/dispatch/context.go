package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/siherrmann/knowledge/core/pool"
	"github.com/siherrmann/knowledge/helper"
	"github.com/siherrmann/knowledge/model"
)

// MaxCallDepth is the longest allowed chain of nested tool calls.
const MaxCallDepth = 5

// State is the lifecycle position of a single tool call.
type State string

const (
	StateReceived    State = "RECEIVED"
	StateValidating  State = "VALIDATING"
	StateRejected    State = "REJECTED"
	StateDispatching State = "DISPATCHING"
	StateExecuting   State = "EXECUTING"
	StateCompleted   State = "COMPLETED"
	StateTimedOut    State = "TIMED_OUT"
	StateErrored     State = "ERRORED"
)

// CallContext travels with one tool invocation. Nested invocations get their
// own CallContext sharing the correlation id, role and pooled connection.
type CallContext struct {
	CorrelationID string
	// CallChain lists the tools from the top-level call down to this one.
	CallChain []string
	StartTime time.Time
	Deadline  time.Time
	Role      model.Role
	Logger    *slog.Logger

	state      State
	lease      *pool.Lease
	dispatcher *Dispatcher
}

// State returns the current lifecycle state.
func (c *CallContext) State() State {
	return c.state
}

func (c *CallContext) setState(state State) {
	c.state = state
	c.Logger.Debug("tool call state", "state", string(state))
}

// Conn returns the pooled connection of this call, nil for tools that
// don't use the store.
func (c *CallContext) Conn() helper.Querier {
	if c.lease == nil {
		return nil
	}
	return c.lease.Conn()
}

// Remaining returns the time left until the deadline.
func (c *CallContext) Remaining() time.Duration {
	return time.Until(c.Deadline)
}

// Invoke runs another tool as part of this call and returns its raw result.
// The nested call never outlives this call's deadline.
func (c *CallContext) Invoke(ctx context.Context, name string, args any) (any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, NewToolError(CodeValidation, fmt.Sprintf("invalid arguments for %s: %v", name, err))
	}
	_, value, err := c.dispatcher.run(ctx, c, name, raw)
	return value, err
}

// CheckCallChain decides whether next may be called below chain.
func CheckCallChain(chain []string, next string) error {
	if len(chain) >= MaxCallDepth {
		return NewToolError(CodeMaxDepthExceeded, fmt.Sprintf("call depth %d exceeds maximum of %d", len(chain)+1, MaxCallDepth))
	}
	if slices.Contains(chain, next) {
		return NewToolError(CodeCircularDependency, fmt.Sprintf("circular call to %s in chain %v", next, chain))
	}
	return nil
}
