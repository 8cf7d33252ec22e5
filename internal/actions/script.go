package actions

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"remedyd/pkg/models"
)

const maxScriptOutput = 8192

// ScriptRunner implements the run_script action. The command comes from the
// action's "command" parameter with optional space-separated "args"; trigger
// fields are passed through the environment so remediation scripts can react
// to the condition that fired.
type ScriptRunner struct {
	log *slog.Logger
}

// NewScriptRunner constructs the run_script runner.
func NewScriptRunner(log *slog.Logger) *ScriptRunner {
	return &ScriptRunner{log: log.With("component", "script_runner")}
}

// Run invokes the external command. The context deadline is the action's hard
// timeout; exceeding it kills the process.
func (r *ScriptRunner) Run(ctx context.Context, spec models.ActionSpec, trigger models.TriggerData) (Result, error) {
	command := spec.Params["command"]
	if command == "" {
		return Result{}, fmt.Errorf("run_script action requires a command parameter")
	}
	var args []string
	if raw := spec.Params["args"]; raw != "" {
		args = strings.Fields(raw)
	}

	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Env = append(cmd.Environ(), triggerEnv(trigger)...)

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := out.String()
	if len(output) > maxScriptOutput {
		output = output[:maxScriptOutput]
	}
	if err != nil {
		if ctx.Err() != nil {
			return Result{Output: output}, fmt.Errorf("script timed out: %w", ctx.Err())
		}
		return Result{Output: output}, fmt.Errorf("script failed: %w", err)
	}
	return Result{Output: output}, nil
}

func triggerEnv(trigger models.TriggerData) []string {
	env := []string{"REMEDYD_TRIGGER_EXPR=" + trigger.Expression}
	for k, v := range trigger.Fields {
		env = append(env, "REMEDYD_FIELD_"+strings.ToUpper(k)+"="+v)
	}
	return env
}
