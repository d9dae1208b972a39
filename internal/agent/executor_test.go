package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/foreman/internal/model"
)

func shExecutor(t *testing.T, script string, retryable ...int) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor(model.ExecutorConfig{
		Command:            []string{"/bin/sh", "-c", script},
		RetryableExitCodes: retryable,
	})
	require.NoError(t, err)
	return e
}

func req() ExecRequest {
	return ExecRequest{
		TaskID:      "task_1700000000_abcd1234",
		Model:       model.ModelConfig{Identity: "worker-a", Provider: "anthropic", MaxTokens: 1024},
		Role:        model.RoleImplementation,
		Description: "say hello",
		Attempt:     1,
	}
}

func TestExecuteCapturesStdout(t *testing.T) {
	e := shExecutor(t, `printf "hello from $FOREMAN_MODEL attempt $FOREMAN_ATTEMPT"`)
	out, err := e.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "hello from worker-a attempt 1", out)
}

func TestExecuteFeedsPromptOnStdin(t *testing.T) {
	e := shExecutor(t, "cat")
	out, err := e.Execute(context.Background(), req())
	require.NoError(t, err)
	assert.Contains(t, out, "say hello")
}

func TestExecuteReviewPromptIncludesPriorResult(t *testing.T) {
	e := shExecutor(t, "cat")
	r := req()
	prior := "the worker output"
	r.Role = model.RoleReview
	r.PriorResult = &prior

	out, err := e.Execute(context.Background(), r)
	require.NoError(t, err)
	assert.Contains(t, out, "say hello")
	assert.Contains(t, out, "result under review")
	assert.Contains(t, out, prior)
}

func TestExecuteRetryableExitCode(t *testing.T) {
	e := shExecutor(t, "echo overloaded >&2; exit 75", 75)
	_, err := e.Execute(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, model.FailureTransient, model.Classify(err))
	assert.Contains(t, err.Error(), "overloaded")
}

func TestExecuteFatalExitCode(t *testing.T) {
	e := shExecutor(t, "exit 1", 75)
	_, err := e.Execute(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, model.FailureFatal, model.Classify(err))
}

func TestExecuteTimeoutClassifiesAsTimeout(t *testing.T) {
	e := shExecutor(t, "sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Execute(ctx, req())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, model.FailureTimeout, model.Classify(err))
}

func TestExecuteCancellation(t *testing.T) {
	e := shExecutor(t, "sleep 5")
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err := e.Execute(ctx, req())
	require.Error(t, err)
	assert.Equal(t, model.FailureCancelled, model.Classify(err))
}

func TestExecuteMissingBinaryIsFatal(t *testing.T) {
	e, err := NewCommandExecutor(model.ExecutorConfig{Command: []string{"/nonexistent/foreman-agent"}})
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), req())
	require.Error(t, err)
	assert.Equal(t, model.FailureFatal, model.Classify(err))
}

func TestNewCommandExecutorRequiresCommand(t *testing.T) {
	_, err := NewCommandExecutor(model.ExecutorConfig{})
	assert.Error(t, err)
}
