package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ProcessRunner runs tools as local child processes. Arguments are passed as
// a vector; no shell is involved.
type ProcessRunner struct{}

func (ProcessRunner) Run(ctx context.Context, c Command) (Outcome, error) {
	path, err := findExecutable(c.Binary, c.SearchPath)
	if err != nil {
		return Outcome{ExitCode: -1}, err
	}

	stdout := NewLimitedBuffer(c.MaxOutput)
	stderr := NewLimitedBuffer(c.MaxOutput)

	cmd := exec.CommandContext(ctx, path, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return terminate(cmd) }
	cmd.WaitDelay = c.Grace

	if err := cmd.Start(); err != nil {
		return Outcome{ExitCode: -1}, err
	}
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		// the leader is gone; make sure nothing it spawned survives
		kill(cmd)
	}

	out := Outcome{
		ExitCode:  -1,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.Truncated() || stderr.Truncated(),
	}
	if cmd.ProcessState != nil {
		out.ExitCode = cmd.ProcessState.ExitCode()
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}

	var exitErr *exec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) && !errors.Is(waitErr, exec.ErrWaitDelay) {
		return out, waitErr
	}
	return out, nil
}

// findExecutable resolves name against searchPath only, never against the
// engine's own PATH.
func findExecutable(name, searchPath string) (string, error) {
	if strings.ContainsRune(name, filepath.Separator) {
		if err := isExecutable(name); err != nil {
			return "", err
		}
		return name, nil
	}
	for _, dir := range filepath.SplitList(searchPath) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in %q", name, searchPath)
}

func isExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	if fi.IsDir() || fi.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}
