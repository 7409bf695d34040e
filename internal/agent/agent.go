// Package agent is the boundary to the external execution agent: an
// LLM-driven coding tool invoked as a black box that receives a prompt and a
// working directory and returns free-text output. All parsing of structured
// results out of that text happens on the caller's side.
package agent

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Options shape a single agent invocation.
type Options struct {
	// Cwd is the working directory the agent operates in.
	Cwd string
	// MaxTurns bounds the agent's internal loop; 0 means the agent default.
	MaxTurns int
	// DisableMCP turns off external tool servers for constrained calls.
	DisableMCP bool
	// AllowedTools restricts the agent's tool surface (e.g. write-only
	// repair calls). Nil means unrestricted.
	AllowedTools []string
}

// Result is the agent's free-text answer.
type Result struct {
	Text      string
	SessionID string
}

// Executor runs one prompt against the execution agent.
type Executor interface {
	Execute(ctx context.Context, prompt string, opts Options) (Result, error)
}

// CLIExecutor shells out to an agent command. The command and base arguments
// come from configuration; invocation-specific options are appended as flags
// and the prompt is passed as the final argument.
type CLIExecutor struct {
	// Command is the agent executable, e.g. "claude".
	Command string
	// BaseArgs always precede per-call flags, e.g. ["--print"].
	BaseArgs []string
}

func (e *CLIExecutor) Execute(ctx context.Context, prompt string, opts Options) (Result, error) {
	if strings.TrimSpace(e.Command) == "" {
		return Result{}, fmt.Errorf("agent command is not configured")
	}
	args := append([]string{}, e.BaseArgs...)
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.DisableMCP {
		args = append(args, "--no-mcp")
	}
	for _, tool := range opts.AllowedTools {
		args = append(args, "--allowed-tool", tool)
	}
	args = append(args, prompt)

	cmd := exec.CommandContext(ctx, e.Command, args...)
	if opts.Cwd != "" {
		cmd.Dir = opts.Cwd
	}
	// The agent gets no stdin; it must not block on interactive reads.
	cmd.Stdin = strings.NewReader("")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := firstNonEmptyLine(stderr.String())
		if detail == "" {
			detail = firstNonEmptyLine(stdout.String())
		}
		if detail != "" {
			return Result{}, fmt.Errorf("agent %s: %s: %w", e.Command, detail, err)
		}
		return Result{}, fmt.Errorf("agent %s: %w", e.Command, err)
	}
	return Result{Text: strings.TrimSpace(stdout.String())}, nil
}

func firstNonEmptyLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
