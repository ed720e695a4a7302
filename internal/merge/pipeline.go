package merge

import (
	"context"
	"fmt"
	"time"

	"github.com/foreman-dev/foreman/internal/store"
)

const defaultStepTimeout = 5 * time.Minute

// stepRunner is the slice of execrunner.ExecRunner this package needs;
// tests substitute a fake satisfying it.
type stepRunner interface {
	RunWithTimeout(ctx context.Context, timeout time.Duration, workDir, name string, args ...string) ([]byte, error)
}

// runPipeline executes a repo's ordered pre-merge steps in worktreeDir.
// Any non-zero exit is PRE_MERGE_FAILED and stops at the first failure.
func runPipeline(ctx context.Context, runner stepRunner, worktreeDir string, steps []store.PipelineStep) *Failure {
	for _, step := range steps {
		timeout := defaultStepTimeout
		if step.TimeoutSeconds > 0 {
			timeout = time.Duration(step.TimeoutSeconds) * time.Second
		}
		out, err := runner.RunWithTimeout(ctx, timeout, worktreeDir, "sh", "-c", step.Command)
		if err != nil {
			return fail(PreMergeFailed, fmt.Sprintf("step %q: %v\n%s", step.Name, err, out))
		}
	}
	return nil
}
