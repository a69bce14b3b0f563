package runner

import (
	"context"
	"sync"
)

// FakeRunner is intended for tests and dry runs.
type FakeRunner struct {
	mu sync.Mutex

	Calls      []Request
	ShellLines []string

	// Hook, when set, decides each Execute result; otherwise every call
	// succeeds with empty output.
	Hook      func(req Request) Result
	ShellHook func(line string) int
}

func (f *FakeRunner) Execute(_ context.Context, req Request) Result {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	hook := f.Hook
	f.mu.Unlock()

	if hook != nil {
		return hook(req)
	}
	return Result{ExitCode: 0}
}

func (f *FakeRunner) Shell(_ context.Context, line string, _ Identity) int {
	f.mu.Lock()
	f.ShellLines = append(f.ShellLines, line)
	hook := f.ShellHook
	f.mu.Unlock()

	if hook != nil {
		return hook(line)
	}
	return 0
}

func (f *FakeRunner) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Calls)
}
