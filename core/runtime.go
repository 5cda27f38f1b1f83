package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	nativecommon "yieldcredit/native/common"
	"yieldcredit/observability/metrics"
)

type execKey struct{}

// CommitHook runs after a transaction succeeds, with the transaction name.
type CommitHook func(ctx context.Context, name string) error

// Runtime executes protocol calls one at a time. Every registered component
// is snapshotted before a call and restored when the call fails, so a
// failed call leaves no partial effects behind.
type Runtime struct {
	mu        sync.Mutex
	regMu     sync.RWMutex
	stateful  []nativecommon.Stateful
	hooks     []CommitHook
	logger    *slog.Logger
	telemetry *metrics.CreditMetrics
}

func NewRuntime(logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runtime{logger: logger.With("module", "runtime"), telemetry: metrics.Credit()}
}

// Register adds components whose state belongs to every transaction.
func (r *Runtime) Register(components ...nativecommon.Stateful) {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	for _, c := range components {
		if c != nil {
			r.stateful = append(r.stateful, c)
		}
	}
}

// OnCommit appends a hook that runs after each successful transaction.
func (r *Runtime) OnCommit(hook CommitHook) {
	if hook == nil {
		return
	}
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// Execute runs fn as one transaction. fn receives a context marked as in
// flight; opening another transaction with it fails with ErrReentrantCall.
func (r *Runtime) Execute(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if InTransaction(ctx) {
		return ErrReentrantCall
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	r.regMu.RLock()
	components := append([]nativecommon.Stateful(nil), r.stateful...)
	hooks := append([]CommitHook(nil), r.hooks...)
	r.regMu.RUnlock()

	restores := make([]func(), len(components))
	for i, c := range components {
		restores[i] = c.Snapshot()
	}
	txID := uuid.NewString()
	ctx, span := otel.Tracer("yieldcredit/core").Start(ctx, name)
	span.SetAttributes(attribute.String("tx", txID))
	defer span.End()
	rollback := func(cause error) {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
		class := Classify(cause)
		span.RecordError(cause)
		span.SetStatus(codes.Error, class.String())
		r.telemetry.ObserveRevert(name, class.String())
		r.logger.Debug("transaction reverted", "tx", txID, "name", name, "class", class.String(), "error", cause)
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("core: %s panicked: %v", name, p)
			rollback(err)
		}
	}()

	txCtx := context.WithValue(ctx, execKey{}, txID)
	if err = fn(txCtx); err != nil {
		rollback(err)
		return err
	}
	for _, hook := range hooks {
		if hookErr := hook(txCtx, name); hookErr != nil {
			r.logger.Warn("commit hook failed", "tx", txID, "name", name, "error", hookErr)
		}
	}
	return nil
}

// Exec adapts Execute to callers whose work ignores the transaction context.
func (r *Runtime) Exec(ctx context.Context, name string, fn func() error) error {
	return r.Execute(ctx, name, func(context.Context) error { return fn() })
}

// TxID returns the id Execute assigned to the transaction carried by ctx.
func TxID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(execKey{}).(string)
	return id
}

// InTransaction reports whether ctx was handed out by Execute.
func InTransaction(ctx context.Context) bool {
	return ctx != nil && ctx.Value(execKey{}) != nil
}
