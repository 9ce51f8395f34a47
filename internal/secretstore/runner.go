package secretstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Command is one credential-tool invocation. Stdin carries secrets so they
// stay off the argument list wherever the tool allows it.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin []byte
}

// Runner executes credential-tool commands. The returned stdout belongs to
// the caller, which clears it once the secret has been copied out.
type Runner interface {
	Run(ctx context.Context, cmd Command) ([]byte, error)
}

// ExitError reports a non-zero exit of a credential tool.
type ExitError struct {
	Tool   string
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s exited with status %d", e.Tool, e.Code)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Tool, e.Code, e.Stderr)
}

const stdoutCap = 1024

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	if len(cmd.Env) > 0 {
		c.Env = append(c.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}
	// Sized so a phrase never forces a regrow that strands a partial copy.
	stdout := bytes.NewBuffer(make([]byte, 0, stdoutCap))
	var stderr bytes.Buffer
	c.Stdout = stdout
	c.Stderr = &stderr

	err := c.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	clear(stdout.Bytes())
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil, &ExitError{
			Tool:   cmd.Name,
			Code:   exitErr.ExitCode(),
			Stderr: firstLine(stderr.String()),
		}
	}
	return nil, fmt.Errorf("run %s: %w", cmd.Name, err)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func exitCode(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
