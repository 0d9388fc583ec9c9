package invocation

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/scorehub/scorehub/internal/constants"
)

// Context carries the per-operation state every boundary entry point creates:
// the request context, a logger scoped with the invocation fields and the
// generated invocation id. It is passed by pointer and never stored beyond
// the operation it was created for.
type Context struct {
	Ctx          context.Context
	Logger       *slog.Logger
	InvocationID string
	Operation    string
}

// New creates an invocation context with a fresh id. Callers that received an
// id from an upstream transport pass it through NewWithID instead.
func New(ctx context.Context, logger *slog.Logger, operation string) *Context {
	return NewWithID(ctx, logger, operation, uuid.New().String())
}

func NewWithID(ctx context.Context, logger *slog.Logger, operation string, invocationID string) *Context {
	if invocationID == "" {
		invocationID = uuid.New().String()
	}
	return &Context{
		Ctx:          ctx,
		Logger:       logger.With(constants.LOG_INVOCATION_ID, invocationID, constants.LOG_OPERATION, operation),
		InvocationID: invocationID,
		Operation:    operation,
	}
}

// With returns a copy whose logger carries the additional fields.
func (ic *Context) With(args ...any) *Context {
	return &Context{
		Ctx:          ic.Ctx,
		Logger:       ic.Logger.With(args...),
		InvocationID: ic.InvocationID,
		Operation:    ic.Operation,
	}
}

// WithCtx returns a copy carrying ctx, used when a stage wraps the request
// context in a span or deadline.
func (ic *Context) WithCtx(ctx context.Context) *Context {
	return &Context{
		Ctx:          ctx,
		Logger:       ic.Logger,
		InvocationID: ic.InvocationID,
		Operation:    ic.Operation,
	}
}
