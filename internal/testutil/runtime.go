// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// ExecHandler scripts the outcome of one Exec call. Returning handled=false falls
// through to the next handler.
type ExecHandler func(cmd []string) (res domain.ExecResult, handled bool)

// FakeRuntime is an in-memory ports.ContainerRuntime. Exec calls are answered by the
// registered handlers, most recent first; unmatched commands exit 127 like a missing
// binary.
type FakeRuntime struct {
	mu sync.Mutex

	PingErr    error
	Images     map[string]bool
	Container  *domain.Container
	Specs      []domain.ContainerSpec
	Processes  []domain.Process
	TopErr     error
	LogText    string
	AttachCode int
	// ExecErr, when set, fails matching Exec calls at the transport level.
	ExecErr func(cmd []string) error

	handlers []ExecHandler

	Calls    []string   // lifecycle calls in order: create, start, stop, remove, pull
	Execs    [][]string // every Exec, ExecDetached and ExecAttached command
	Detached [][]string
	Attached [][]string
}

// NewFakeRuntime returns a runtime with no container and no images.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{Images: map[string]bool{}}
}

// OnExec registers a handler.
func (f *FakeRuntime) OnExec(h ExecHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, h)
}

// OnPrefix answers every command starting with prefix with res.
func (f *FakeRuntime) OnPrefix(prefix string, res domain.ExecResult) {
	f.OnExec(func(cmd []string) (domain.ExecResult, bool) {
		if strings.HasPrefix(strings.Join(cmd, " "), prefix) {
			return res, true
		}
		return domain.ExecResult{}, false
	})
}

// ExecCount returns how many Exec calls started with prefix.
func (f *FakeRuntime) ExecCount(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Execs {
		if strings.HasPrefix(strings.Join(c, " "), prefix) {
			n++
		}
	}
	return n
}

// CallCount returns how many lifecycle calls named op were made.
func (f *FakeRuntime) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *FakeRuntime) record(op string) {
	f.Calls = append(f.Calls, op)
}

func (f *FakeRuntime) Ping(ctx context.Context) error {
	return f.PingErr
}

func (f *FakeRuntime) ImagePresent(ctx context.Context, image string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Images[image], nil
}

func (f *FakeRuntime) PullImage(ctx context.Context, image string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pull")
	f.Images[image] = true
	return nil
}

func (f *FakeRuntime) Inspect(ctx context.Context, name string) (domain.Container, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Container == nil || f.Container.Name != name {
		return domain.Container{}, false, nil
	}
	return *f.Container, true, nil
}

func (f *FakeRuntime) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Container != nil {
		return "", errors.New("conflict: container name already in use")
	}
	f.record("create")
	f.Specs = append(f.Specs, spec)
	f.Container = &domain.Container{ID: "c0ffee", Name: spec.Name, Image: spec.Image, State: "created", Ports: spec.Ports}
	return f.Container.ID, nil
}

func (f *FakeRuntime) StartContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Container == nil {
		return errors.New("no such container")
	}
	f.record("start")
	f.Container.State = "running"
	f.Container.Running = true
	return nil
}

func (f *FakeRuntime) StopContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Container == nil {
		return errors.New("no such container")
	}
	f.record("stop")
	f.Container.State = "exited"
	f.Container.Running = false
	return nil
}

func (f *FakeRuntime) RemoveContainer(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("remove")
	f.Container = nil
	return nil
}

func (f *FakeRuntime) Exec(ctx context.Context, name string, cmd []string) (domain.ExecResult, error) {
	f.mu.Lock()
	f.Execs = append(f.Execs, cmd)
	handlers := append([]ExecHandler(nil), f.handlers...)
	execErr := f.ExecErr
	f.mu.Unlock()

	if execErr != nil {
		if err := execErr(cmd); err != nil {
			return domain.ExecResult{}, err
		}
	}

	for i := len(handlers) - 1; i >= 0; i-- {
		if res, ok := handlers[i](cmd); ok {
			return res, nil
		}
	}
	return domain.ExecResult{ExitCode: 127, Stderr: "not found"}, nil
}

func (f *FakeRuntime) ExecDetached(ctx context.Context, name string, cmd []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, cmd)
	f.Detached = append(f.Detached, cmd)
	return nil
}

func (f *FakeRuntime) ExecAttached(ctx context.Context, name string, cmd []string, tty bool, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Execs = append(f.Execs, cmd)
	f.Attached = append(f.Attached, cmd)
	return f.AttachCode, nil
}

func (f *FakeRuntime) Logs(ctx context.Context, name string, follow bool, tail string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.LogText)), nil
}

func (f *FakeRuntime) Top(ctx context.Context, name string) ([]domain.Process, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.TopErr != nil {
		return nil, f.TopErr
	}
	return f.Processes, nil
}
