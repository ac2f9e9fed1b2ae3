package agent

import (
	"context"
	"sync"
	"time"
)

// Stub is an in-memory Executor for tests: scripted outputs per step,
// optional latency, and a call log. It never forks a process.
type Stub struct {
	mu      sync.Mutex
	outputs map[string]string // step -> output
	errs    map[string]error  // step -> failure
	Latency time.Duration
	Calls   []Request
}

// NewStub creates an empty stub executor.
func NewStub() *Stub {
	return &Stub{
		outputs: make(map[string]string),
		errs:    make(map[string]error),
	}
}

// Respond scripts a successful output for a step.
func (s *Stub) Respond(step, output string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[step] = output
	return s
}

// Fail scripts a failure for a step.
func (s *Stub) Fail(step string, err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[step] = err
	return s
}

// CallCount returns how many invocations the stub has served.
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Invoke implements Executor. Latency, when set, is interruptible by ctx so
// cancellation tests stay fast.
func (s *Stub) Invoke(ctx context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, req)
	latency := s.Latency
	err, failed := s.errs[req.Step]
	output := s.outputs[req.Step]
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if failed {
		return nil, err
	}
	return &Response{Tag: req.Tag, OK: true, Output: output}, nil
}
