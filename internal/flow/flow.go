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

// Package flow provides small phase scopes that standardize phase-scoped
// logging (`phase start` / `phase end` + duration) and panic logging with
// re-panic for steps that return plain `error`.
//
// Typical usage:
//
//	func (s *Service) destroyVolume(ctx context.Context, id v1alpha1.VolumeID) (err error) {
//	  sf := flow.BeginStep(ctx, "destroy-volume", "volume", string(id))
//	  defer sf.OnEnd(&err)
//	  // ...
//	  return nil
//	}
package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
)

// Wrapf wraps err with formatted context. It returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", msg, err)
}

// phaseContextKey is a private context key for phase metadata.
type phaseContextKey struct{}

// phaseContextValue is the minimal metadata OnEnd needs for consistent logging.
type phaseContextValue struct {
	name  string
	start time.Time
}

// panicToError converts a recovered panic value to an error.
func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return Wrapf(err, "panic")
	}
	return fmt.Errorf("panic: %v", r)
}

// mustBeValidPhaseName validates phaseName used by BeginStep and panics on
// invalid input. This is treated as a programmer error, not a runtime failure.
func mustBeValidPhaseName(name string) {
	if name == "" {
		panic("flow: phaseName must be non-empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= ' ' || c == 0x7f {
			panic("flow: phaseName contains whitespace/control characters: " + name)
		}
		isLetter := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		isAllowedPunct := c == '-' || c == '_' || c == '.' || c == '/'
		if !isLetter && !isDigit && !isAllowedPunct {
			panic("flow: phaseName contains unsupported character '" + string([]byte{c}) + "': " + name)
		}
	}
}

// mustBeValidKV validates that kv has an even number of elements.
func mustBeValidKV(kv []string) {
	if len(kv)%2 != 0 {
		panic("flow: kv must contain even number of elements (key/value pairs)")
	}
}

// buildPhaseLogger builds a phase-scoped logger: WithName(phaseName) + WithValues(kv...).
func buildPhaseLogger(ctx context.Context, phaseName string, kv []string) logr.Logger {
	l := logr.FromContextOrDiscard(ctx).WithName(phaseName)
	if len(kv) > 0 {
		anyKV := make([]any, 0, len(kv))
		for _, v := range kv {
			anyKV = append(anyKV, v)
		}
		l = l.WithValues(anyKV...)
	}
	return l
}

// storePhaseContext attaches the logger to ctx and stores metadata needed by OnEnd.
func storePhaseContext(ctx context.Context, l logr.Logger, phaseName string) context.Context {
	ctx = logr.NewContext(ctx, l)
	return context.WithValue(ctx, phaseContextKey{}, phaseContextValue{
		name:  phaseName,
		start: time.Now(),
	})
}

// getPhaseContext reads metadata stored by BeginStep (if any).
func getPhaseContext(ctx context.Context) (phaseContextValue, bool) {
	v, ok := ctx.Value(phaseContextKey{}).(phaseContextValue)
	return v, ok && v.name != ""
}

// StepFlow is a phase scope for steps that return plain `error`.
type StepFlow struct {
	ctx context.Context
	log logr.Logger
}

// Ctx returns a context with the phase-scoped logger attached.
func (sf StepFlow) Ctx() context.Context { return sf.ctx }

// Log returns the phase-scoped logger.
func (sf StepFlow) Log() logr.Logger { return sf.log }

// BeginStep starts a step phase.
//
// Intended usage:
//
//	sf := flow.BeginStep(ctx, "my-step", "k", "v")
//	defer sf.OnEnd(&err)
func BeginStep(ctx context.Context, phaseName string, kv ...string) StepFlow {
	mustBeValidPhaseName(phaseName)
	mustBeValidKV(kv)

	l := buildPhaseLogger(ctx, phaseName, kv)
	l.V(1).Info("phase start")

	ctx = storePhaseContext(ctx, l, phaseName)
	return StepFlow{ctx: ctx, log: l}
}

// OnEnd is the deferred phase-end handler.
//
// It logs `phase end` with `hasError` and duration; if the phase panics it
// logs `phase panic` and re-panics.
func (sf StepFlow) OnEnd(err *error) {
	if r := recover(); r != nil {
		panicErr := panicToError(r)
		sf.log.Error(panicErr, "phase panic")
		panic(r)
	}

	v, ok := getPhaseContext(sf.ctx)
	if !ok {
		return
	}

	if err == nil {
		panic("flow: StepFlow.OnEnd: err is nil")
	}

	fields := []any{
		"hasError", *err != nil,
	}
	if !v.start.IsZero() {
		fields = append(fields, "duration", time.Since(v.start))
	}

	if *err != nil {
		sf.log.Error(*err, "phase end", fields...)
		return
	}
	sf.log.V(1).Info("phase end", fields...)
}

// Errf returns a formatted error.
func (sf StepFlow) Errf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Enrichf wraps err with formatted context. Returns nil if err is nil.
func (sf StepFlow) Enrichf(err error, format string, args ...any) error {
	return Wrapf(err, format, args...)
}

// MergeSteps combines multiple errors into one via errors.Join.
func MergeSteps(errs ...error) error {
	return errors.Join(errs...)
}
