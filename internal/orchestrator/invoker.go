package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// TaskRequest is one sub-agent task handed to an Invoker.
type TaskRequest struct {
	StepFile string
	StepID   string
	Agent    string
	Prompt   string
}

// Invoker starts a sub-agent and returns once it has finished.
type Invoker interface {
	Invoke(ctx context.Context, req TaskRequest) error
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req TaskRequest) error

func (f InvokerFunc) Invoke(ctx context.Context, req TaskRequest) error { return f(ctx, req) }

// CommandInvoker runs an external command with the prompt on stdin. The step
// is described to the command through DES_STEP_FILE, DES_STEP_ID and DES_AGENT.
type CommandInvoker struct {
	Path string
	Args []string
	// Stdout receives the command's output; nil discards it.
	Stdout io.Writer
}

func (c *CommandInvoker) Invoke(ctx context.Context, req TaskRequest) error {
	if c.Path == "" {
		return errors.New("invoker command is empty")
	}
	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.Env = append(filterEnv(os.Environ(), "DES_STEP_FILE", "DES_STEP_ID", "DES_AGENT"),
		"DES_STEP_FILE="+req.StepFile,
		"DES_STEP_ID="+req.StepID,
		"DES_AGENT="+req.Agent,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", c.Path, ctxErr)
		}
		return fmt.Errorf("%s: %w: %s", c.Path, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// filterEnv drops the named variables from env.
func filterEnv(env []string, names ...string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		key, _, _ := strings.Cut(kv, "=")
		drop := false
		for _, n := range names {
			if key == n {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, kv)
		}
	}
	return out
}
