package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/siherrmann/knowledge/core/pool"
	"github.com/siherrmann/knowledge/model"
)

// DefaultTimeout applies to tools that don't declare their own timeout.
const DefaultTimeout = 30 * time.Second

// Handler executes a tool with its raw JSON argument object.
type Handler func(ctx context.Context, call *CallContext, args json.RawMessage) (any, error)

// Tool is a registered operation.
type Tool struct {
	Name         string
	Description  string
	InputSchema  map[string]interface{}
	Timeout      time.Duration
	RequiredRole model.Role
	// UsesStore makes the dispatcher acquire a pooled connection before
	// the handler runs. Nested calls reuse the connection of their parent.
	UsesStore bool
	// Validate checks the arguments before any connection is acquired.
	Validate func(args json.RawMessage) error
	Handler  Handler
}

// Acquirer hands out pooled connections.
type Acquirer interface {
	Acquire(ctx context.Context) (*pool.Lease, error)
}

type Options struct {
	// Role of the agent using this server. An empty role means RoleAll.
	Role               model.Role
	Pool               Acquirer
	Logger             *slog.Logger
	SlowQueryThreshold time.Duration
	// Timeouts overrides tool timeouts by tool name.
	Timeouts         map[string]time.Duration
	NewCorrelationID func() string
}

// Dispatcher routes tool calls to their handlers. Its registry is fixed at
// construction and safe for concurrent use.
type Dispatcher struct {
	tools              map[string]*Tool
	order              []*Tool
	pool               Acquirer
	role               model.Role
	log                *slog.Logger
	slowQueryThreshold time.Duration
	timeouts           map[string]time.Duration
	newID              func() string
	now                func() time.Time
}

func New(opts Options, tools ...*Tool) (*Dispatcher, error) {
	d := &Dispatcher{
		tools:              make(map[string]*Tool, len(tools)),
		pool:               opts.Pool,
		role:               opts.Role,
		log:                opts.Logger,
		slowQueryThreshold: opts.SlowQueryThreshold,
		timeouts:           map[string]time.Duration{},
		newID:              opts.NewCorrelationID,
		now:                time.Now,
	}
	if d.role == "" {
		d.role = model.RoleAll
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.newID == nil {
		d.newID = uuid.NewString
	}
	for name, timeout := range opts.Timeouts {
		if timeout <= 0 {
			return nil, fmt.Errorf("timeout for %s must be positive", name)
		}
		d.timeouts[name] = timeout
	}

	for _, tool := range tools {
		if tool == nil || tool.Name == "" || tool.Handler == nil {
			return nil, fmt.Errorf("tool needs a name and a handler")
		}
		if _, ok := d.tools[tool.Name]; ok {
			return nil, fmt.Errorf("tool %s registered twice", tool.Name)
		}
		if tool.UsesStore && d.pool == nil {
			return nil, fmt.Errorf("tool %s uses the store but no pool is configured", tool.Name)
		}
		d.tools[tool.Name] = tool
		d.order = append(d.order, tool)
	}

	return d, nil
}

// Tools returns the registered tools in registration order.
func (d *Dispatcher) Tools() []*Tool {
	return slices.Clone(d.order)
}

// Role returns the role every call of this dispatcher runs with.
func (d *Dispatcher) Role() model.Role {
	return d.role
}

// Timeout returns the effective timeout of a tool.
func (d *Dispatcher) Timeout(tool *Tool) time.Duration {
	if timeout, ok := d.timeouts[tool.Name]; ok {
		return timeout
	}
	if tool.Timeout > 0 {
		return tool.Timeout
	}
	return DefaultTimeout
}

// Dispatch runs a top-level tool call and wraps the outcome in an envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args json.RawMessage) *Result {
	call, value, err := d.run(ctx, nil, name, args)
	if err != nil {
		return errorResult(call, Classify(err))
	}
	return successResult(call, value)
}

func (d *Dispatcher) run(ctx context.Context, parent *CallContext, name string, args json.RawMessage) (*CallContext, any, error) {
	call := d.newCall(parent, name)
	call.setState(StateValidating)

	args = normalizeArgs(args)
	tool, err := d.validate(call, name, args)
	if err != nil {
		call.setState(StateRejected)
		call.Logger.Warn("tool call rejected", "error", err.Error())
		return call, nil, err
	}
	call.CallChain = append(call.CallChain, name)

	call.setState(StateDispatching)
	call.Deadline = call.StartTime.Add(d.Timeout(tool))
	if parent != nil && parent.Deadline.Before(call.Deadline) {
		call.Deadline = parent.Deadline
	}
	ctx, cancel := context.WithDeadline(ctx, call.Deadline)
	defer cancel()

	if tool.UsesStore && call.lease == nil {
		lease, err := d.pool.Acquire(ctx)
		if err != nil {
			return d.finish(ctx, call, nil, err)
		}
		defer lease.Release()
		call.lease = lease
	}

	call.setState(StateExecuting)
	value, err := tool.Handler(ctx, call, args)
	return d.finish(ctx, call, value, err)
}

func (d *Dispatcher) newCall(parent *CallContext, name string) *CallContext {
	call := &CallContext{
		StartTime:  d.now(),
		Role:       d.role,
		CallChain:  []string{},
		state:      StateReceived,
		dispatcher: d,
	}
	if parent != nil {
		call.CorrelationID = parent.CorrelationID
		call.CallChain = slices.Clone(parent.CallChain)
		call.Role = parent.Role
		call.lease = parent.lease
	} else {
		call.CorrelationID = d.newID()
	}
	call.Logger = d.log.With(
		"correlation_id", call.CorrelationID,
		"tool", name,
		"depth", len(call.CallChain)+1,
	)
	call.Logger.Debug("tool call state", "state", string(StateReceived))
	return call
}

func (d *Dispatcher) validate(call *CallContext, name string, args json.RawMessage) (*Tool, error) {
	tool, ok := d.tools[name]
	if !ok {
		return nil, NewToolError(CodeValidation, fmt.Sprintf("unknown tool %q", name))
	}
	if err := CheckCallChain(call.CallChain, name); err != nil {
		return nil, err
	}
	if !call.Role.Satisfies(tool.RequiredRole) {
		return nil, NewToolError(CodeForbidden, fmt.Sprintf("role %s may not call %s, requires %s", call.Role, name, tool.RequiredRole))
	}
	if !json.Valid(args) || args[0] != '{' {
		return nil, NewToolError(CodeValidation, "arguments must be a JSON object")
	}
	if tool.Validate != nil {
		if err := tool.Validate(args); err != nil {
			if toolErr := Classify(err); toolErr.Code == CodeValidation {
				return nil, toolErr
			}
			return nil, &ToolError{Code: CodeValidation, Message: err.Error(), Err: err}
		}
	}
	return tool, nil
}

func (d *Dispatcher) finish(ctx context.Context, call *CallContext, value any, err error) (*CallContext, any, error) {
	elapsed := d.now().Sub(call.StartTime)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) || (err != nil && Classify(err).Code == CodeTimeout) {
		call.setState(StateTimedOut)
		call.Logger.Warn("tool call timed out", "elapsed_ms", elapsed.Milliseconds())
		return call, nil, &ToolError{
			Code:    CodeTimeout,
			Message: fmt.Sprintf("%s exceeded its deadline", call.CallChain[len(call.CallChain)-1]),
			Err:     context.DeadlineExceeded,
		}
	}

	if err != nil {
		toolErr := Classify(err)
		call.setState(StateErrored)
		if toolErr.Code == CodeInternal {
			call.Logger.Error("tool call failed", "error", err.Error(), "elapsed_ms", elapsed.Milliseconds())
		} else {
			call.Logger.Info("tool call failed", "code", string(toolErr.Code), "error", toolErr.Message)
		}
		return call, nil, toolErr
	}

	call.setState(StateCompleted)
	if d.slowQueryThreshold > 0 && elapsed > d.slowQueryThreshold {
		call.Logger.Warn("slow tool call", "elapsed_ms", elapsed.Milliseconds(), "threshold_ms", d.slowQueryThreshold.Milliseconds())
	} else {
		call.Logger.Info("tool call completed", "elapsed_ms", elapsed.Milliseconds())
	}
	return call, value, nil
}

func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}
