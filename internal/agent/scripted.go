package agent

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedCall is one recorded invocation of a ScriptedExecutor.
type ScriptedCall struct {
	Prompt  string
	Options Options
}

// ScriptedResponse is one queued reply. Err takes precedence over Text.
type ScriptedResponse struct {
	Text string
	Err  error
	// Fn, when set, computes the response from the prompt instead.
	Fn func(prompt string, opts Options) (string, error)
}

// ScriptedExecutor returns queued responses in order and records every
// prompt it receives. Running past the script is a test failure surfaced as
// an error.
type ScriptedExecutor struct {
	mu        sync.Mutex
	Responses []ScriptedResponse
	Calls     []ScriptedCall
	next      int
}

func (s *ScriptedExecutor) Execute(ctx context.Context, prompt string, opts Options) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, ScriptedCall{Prompt: prompt, Options: opts})
	if s.next >= len(s.Responses) {
		return Result{}, fmt.Errorf("scripted executor exhausted after %d calls", s.next)
	}
	r := s.Responses[s.next]
	s.next++
	if r.Fn != nil {
		text, err := r.Fn(prompt, opts)
		return Result{Text: text}, err
	}
	if r.Err != nil {
		return Result{}, r.Err
	}
	return Result{Text: r.Text}, nil
}

// CallCount returns how many prompts the executor has received.
func (s *ScriptedExecutor) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
