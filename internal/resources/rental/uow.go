package rental

import (
	"context"
	"fmt"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
)

type uowCtxKey struct{}

// unitOfWork collects compensations for the steps already performed by an operation.
// On failure they run in reverse order so the operation leaves no visible effect
type unitOfWork struct {
	op   string
	key  string
	undo []undoStep
	log  interfaces.ILogger
}

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

func (u *unitOfWork) onRollback(name string, fn func(ctx context.Context) error) {
	u.undo = append(u.undo, undoStep{name: name, fn: fn})
}

func (u *unitOfWork) rollback(ctx context.Context) {
	for i := len(u.undo) - 1; i >= 0; i-- {
		step := u.undo[i]
		if err := step.fn(ctx); err != nil {
			u.log.Errorw("rollback step failed", "op", u.op, "key", u.key, "step", step.name, "err", err)
		}
	}
	u.undo = nil
}

func inUnitOfWork(ctx context.Context) bool {
	return ctx.Value(uowCtxKey{}) != nil
}

// guarded runs fn as a unit of work. Calls made with a context that already
// belongs to a unit of work are rejected, this stops gateways from calling back
// into the marketplace in the middle of an operation
func (m *Market) guarded(ctx context.Context, op string, key string, fn func(ctx context.Context, uow *unitOfWork) error) error {
	if inUnitOfWork(ctx) {
		return lib.WrapError(ErrReentrantCall, fmt.Errorf("%s %s", op, key))
	}

	uow := &unitOfWork{op: op, key: key, log: m.log}
	uowCtx := context.WithValue(ctx, uowCtxKey{}, uow)

	err := fn(uowCtx, uow)
	if err != nil {
		// compensations must run even if the caller gave up waiting
		uow.rollback(context.WithoutCancel(uowCtx))
		m.log.Debugw("operation rejected", "op", op, "key", key, "err", err)
		return err
	}
	return nil
}

// execute runs a state mutating operation on a listing: holds the listing lock,
// rejects while paused and publishes the resulting event before releasing the lock
func (m *Market) execute(ctx context.Context, op string, key ListingKey, fn func(ctx context.Context, uow *unitOfWork) (Event, error)) error {
	return m.guarded(ctx, op, key.String(), func(ctx context.Context, uow *unitOfWork) error {
		lockCtx, cancel := context.WithTimeout(ctx, m.lockTimeout)
		unlock, err := m.locks.LockCtx(lockCtx, key)
		cancel()
		if err != nil {
			return fmt.Errorf("listing %s is busy: %w", key, err)
		}
		defer unlock()

		if m.gov.IsPaused() {
			return ErrSystemPaused
		}

		event, err := fn(ctx, uow)
		if err != nil {
			// rolled back while the lock is still held
			uow.rollback(context.WithoutCancel(ctx))
			return err
		}
		if event != nil {
			m.notifier.Notify(event)
		}
		return nil
	})
}
