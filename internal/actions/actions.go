// Package actions implements the remediation action runners invoked by the
// execution engine. Each runner performs exactly one action type; everything
// around ordering, timeouts, and audit lives in the engine.
package actions

import (
	"context"
	"fmt"

	"remedyd/pkg/models"
)

// Result is the collaborator-visible outcome of one action invocation.
type Result struct {
	Output string
}

// Runner executes a single action type against the outside world.
type Runner interface {
	// Run performs the action. The context carries the per-action timeout.
	Run(ctx context.Context, spec models.ActionSpec, trigger models.TriggerData) (Result, error)
}

// Registry maps action types to their runners.
type Registry struct {
	runners map[models.ActionType]Runner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{runners: make(map[models.ActionType]Runner)}
}

// Register installs a runner for the given action type, replacing any
// previous registration.
func (r *Registry) Register(t models.ActionType, runner Runner) {
	r.runners[t] = runner
}

// Lookup returns the runner for an action type. Unknown types are a rule
// configuration error, reported per action rather than aborting the sequence.
func (r *Registry) Lookup(t models.ActionType) (Runner, error) {
	runner, ok := r.runners[t]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	return runner, nil
}
