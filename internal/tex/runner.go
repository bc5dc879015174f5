package tex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// コマンドに TERM を送ってから強制終了するまでの猶予時間。
const killGracePeriod = 5 * time.Second

type runSpec struct {
	name    string
	args    []string
	dir     string
	timeout time.Duration
}

type runResult struct {
	exitCode int
	stdout   string
	stderr   string
}

func (r runSpec) commandLine() string {
	return strings.Join(append([]string{r.name}, r.args...), " ")
}

// commandRunner は外部コマンドを1回実行します。テストで差し替え可能にするための抽象です。
type commandRunner interface {
	Run(ctx context.Context, spec runSpec) (runResult, error)
}

// execRunner は os/exec による本番実装です。タイムアウト時は SIGTERM を送り、
// 猶予期間を過ぎても生存しているプロセスを SIGKILL で回収します。
type execRunner struct{}

func (execRunner) Run(ctx context.Context, spec runSpec) (runResult, error) {
	cmd := exec.Command(spec.name, spec.args...)
	cmd.Dir = spec.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return runResult{}, fmt.Errorf("failed to start %s: %w", spec.name, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var timeoutCh <-chan time.Time
	if spec.timeout > 0 {
		timer := time.NewTimer(spec.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case waitErr := <-done:
		result := runResult{
			exitCode: cmd.ProcessState.ExitCode(),
			stdout:   stdout.String(),
			stderr:   stderr.String(),
		}
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			return result, fmt.Errorf("command %s failed: %w", spec.name, waitErr)
		}
		return result, nil
	case <-timeoutCh:
		terminate(cmd, done)
		return runResult{}, &TimeoutError{Command: spec.commandLine(), Timeout: spec.timeout}
	case <-ctx.Done():
		terminate(cmd, done)
		return runResult{}, ctx.Err()
	}
}

func terminate(cmd *exec.Cmd, done <-chan error) {
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(killGracePeriod):
		_ = cmd.Process.Kill()
		<-done
	}
}
