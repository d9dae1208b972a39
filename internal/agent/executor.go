// Package agent defines the execution collaborator boundary: the single
// narrow interface through which the orchestration core hands work to the
// surrounding model-call tooling.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/msageha/foreman/internal/model"
)

// ExecRequest carries one attempt's payload to the collaborator.
type ExecRequest struct {
	TaskID       string
	Model        model.ModelConfig
	Role         model.Role
	Description  string
	PriorityTags []string
	Attempt      int

	// PriorResult is set on supervisor review passes: the worker's accepted
	// output, handed to the reviewer alongside the original description.
	PriorResult *string
}

// Executor is the opaque external execution operation. Implementations may
// be slow and may fail; the core only sees the result payload or a
// classified error.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) (string, error)
}

// CommandExecutor shells out to a configured command per attempt, feeding
// the prompt on stdin and reading the result from stdout. Exit codes listed
// in retryable_exit_codes classify as transient; anything else is fatal.
type CommandExecutor struct {
	command        []string
	retryableCodes map[int]bool
}

func NewCommandExecutor(cfg model.ExecutorConfig) (*CommandExecutor, error) {
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("executor.command must not be empty")
	}
	retryable := make(map[int]bool, len(cfg.RetryableExitCodes))
	for _, code := range cfg.RetryableExitCodes {
		retryable[code] = true
	}
	return &CommandExecutor{
		command:        cfg.Command,
		retryableCodes: retryable,
	}, nil
}

func (e *CommandExecutor) Execute(ctx context.Context, req ExecRequest) (string, error) {
	cmd := exec.CommandContext(ctx, e.command[0], e.command[1:]...)
	cmd.Env = append(cmd.Environ(),
		"FOREMAN_TASK_ID="+req.TaskID,
		"FOREMAN_MODEL="+req.Model.Identity,
		"FOREMAN_PROVIDER="+req.Model.Provider,
		"FOREMAN_ROLE="+string(req.Role),
		"FOREMAN_ATTEMPT="+strconv.Itoa(req.Attempt),
		"FOREMAN_MAX_TOKENS="+strconv.Itoa(req.Model.MaxTokens),
	)
	cmd.Stdin = strings.NewReader(buildPrompt(req))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	// The context beats exit-code inspection: a killed process reports an
	// opaque exit status, but the caller needs timeout/cancel semantics.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		reason := fmt.Errorf("command exited %d: %s", code, firstLine(stderr.String()))
		if e.retryableCodes[code] {
			return "", model.NewTransientError(reason)
		}
		return "", model.NewFatalError(reason)
	}

	// Spawn failures (missing binary, permissions) are not worth retrying.
	return "", model.NewFatalError(fmt.Errorf("run command: %w", err))
}

// buildPrompt assembles the stdin payload. Review passes get the original
// description plus the worker result to judge.
func buildPrompt(req ExecRequest) string {
	var b strings.Builder
	b.WriteString(req.Description)
	if req.PriorResult != nil {
		b.WriteString("\n\n--- result under review ---\n")
		b.WriteString(*req.PriorResult)
	}
	b.WriteString("\n")
	return b.String()
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
