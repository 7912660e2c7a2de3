/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package ledger

import (
	"context"
	"errors"

	"github.com/deckhouse/sds-volume-control/internal/ctlerrors"
	"github.com/deckhouse/sds-volume-control/internal/flow"
)

// ExecFunc realizes one operation on the data-plane. It receives a copy of
// the record as it was when the operation started; a nil return means the
// operation took effect.
type ExecFunc[T any] func(ctx context.Context, spec *T) error

// RunOperation drives one logical operation against one record through the
// full cycle:
//
//	acquire guard → start op + persist → execute → set result + persist →
//	commit or clear + persist → release guard
//
// The guard is held for the whole cycle and released on every exit path.
// Once the executor has run, the remaining protocol steps proceed even if
// the caller's context is already canceled; abandoning them would leave a
// dirty record behind for no reason.
//
// A record whose Deleted phase was committed is removed from the store and
// forgotten before RunOperation returns.
func RunOperation[T any, O Operation, S record[T, O]](
	ctx context.Context,
	c *Collection[T, O],
	id string,
	op O,
	exec ExecFunc[T],
) (out *T, err error) {
	sf := flow.BeginStep(ctx, "operation", "kind", string(c.kind), "id", id, "op", op.Name())
	defer sf.OnEnd(&err)
	ctx = sf.Ctx()

	e, ok := c.lookup(id)
	if !ok {
		return nil, ctlerrors.ErrNotFoundf("%s %s", c.kind, id)
	}
	if !e.seq.TryAcquire() {
		c.metrics.observe(c.kind, op.Name(), outcomeBusy)
		return nil, ctlerrors.ErrBusyf("%s %s has another operation in progress", c.kind, id)
	}
	defer e.seq.Release()

	c.metrics.started(c.kind)
	defer c.metrics.finished(c.kind)
	defer func() {
		c.metrics.observe(c.kind, op.Name(), outcomeOf(err))
	}()

	// A previous cycle may have been cut short by a store outage. Its
	// operation must be settled before a new one starts.
	if err := settle[T, O, S](ctx, c, id, e); err != nil {
		return nil, err
	}

	spec := S(e.spec)
	if spec.Deleted() {
		if err := c.removeDeleted(context.WithoutCancel(ctx), id); err != nil {
			return nil, err
		}
		return nil, ctlerrors.ErrNotFoundf("%s %s", c.kind, id)
	}

	e.mu.Lock()
	spec.StartOp(op)
	e.mu.Unlock()
	if err := c.persist(ctx, id, e); err != nil {
		// Not durable, so not started. Revert and let the caller retry.
		e.mu.Lock()
		spec.ClearOp()
		e.mu.Unlock()
		return nil, err
	}

	execErr := exec(ctx, c.snapshot(e))

	// The outcome is known from here on. A caller timeout during the
	// executor call must not cancel recording it.
	pctx := context.WithoutCancel(ctx)

	e.mu.Lock()
	spec.SetOpResult(execErr == nil)
	e.mu.Unlock()
	if err := c.persist(pctx, id, e); err != nil {
		// The result stays recorded in memory; the next operation against
		// this record, or startup recovery, settles it.
		return nil, err
	}

	e.mu.Lock()
	if execErr == nil {
		spec.CommitOp()
	} else {
		spec.ClearOp()
	}
	e.mu.Unlock()
	if err := c.persist(pctx, id, e); err != nil {
		return nil, err
	}

	if execErr != nil {
		return nil, ctlerrors.ErrEngineFailedf("%s %s %s: %v", op.Name(), c.kind, id, execErr)
	}

	if spec.Deleted() {
		if err := c.removeDeleted(pctx, id); err != nil {
			return nil, err
		}
	}
	return c.snapshot(e), nil
}

// settle resolves an operation left pending by a crash or a store outage.
// The caller holds the record's sequence.
//
// With a recorded result the remaining protocol steps simply resume. Without
// one the executor's effect is unknown, so the data-plane is asked for the
// record's actual runtime state and the operation is committed or discarded
// based on what is really there. It is never re-executed blindly.
func settle[T any, O Operation, S record[T, O]](
	ctx context.Context,
	c *Collection[T, O],
	id string,
	e *entry[T],
) error {
	spec := S(e.spec)
	op, pending := spec.PendingOperation()
	if !pending {
		return nil
	}

	okRes, known := spec.OpResult()
	if !known {
		fact, err := c.engine.Inspect(ctx, spec.Key())
		if err != nil {
			return ctlerrors.ErrEngineFailedf("inspecting %s %s: %v", c.kind, id, err)
		}
		okRes = c.applied(e.spec, op, fact)
		c.log.Info("settling interrupted operation from data-plane state",
			"id", id, "op", op.Name(), "applied", okRes)

		e.mu.Lock()
		spec.SetOpResult(okRes)
		e.mu.Unlock()
		if err := c.persist(ctx, id, e); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if okRes {
		spec.CommitOp()
	} else {
		spec.ClearOp()
	}
	e.mu.Unlock()
	return c.persist(ctx, id, e)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, ctlerrors.ErrStoreFailed):
		return outcomeStoreFailed
	case errors.Is(err, ctlerrors.ErrNotFound):
		return outcomeNotFound
	default:
		return outcomeEngineFailed
	}
}
