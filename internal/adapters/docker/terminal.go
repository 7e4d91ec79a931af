package docker

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/docker/docker/api/types/container"
	"golang.org/x/term"

	"github.com/melih/lighthouse-appliance/internal/logger"
)

// localTerminal is the operator's terminal while an exec is attached to it.
type localTerminal struct {
	fd    int
	state *term.State
}

// rawTerminal switches in to raw mode when it is a terminal, so keystrokes such as
// Ctrl-C reach the remote TTY instead of the local line discipline. It returns nil
// when in is not a terminal.
func rawTerminal(in io.Reader) (*localTerminal, error) {
	f, ok := in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, nil
	}
	fd := int(f.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &localTerminal{fd: fd, state: state}, nil
}

func (t *localTerminal) restore() {
	if t == nil {
		return
	}
	_ = term.Restore(t.fd, t.state)
}

// size returns [height, width], or nil when the size is unknown.
func (t *localTerminal) size() *[2]uint {
	if t == nil {
		return nil
	}
	w, h, err := term.GetSize(t.fd)
	if err != nil {
		return nil
	}
	return consoleSize(w, h)
}

func consoleSize(width, height int) *[2]uint {
	if width <= 0 || height <= 0 {
		return nil
	}
	return &[2]uint{uint(height), uint(width)}
}

// followResize forwards local window size changes to the exec until ctx is done.
func (a *Adapter) followResize(ctx context.Context, execID string, t *localTerminal) {
	if t == nil {
		return
	}
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	go func() {
		defer signal.Stop(winch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-winch:
				size := t.size()
				if size == nil {
					continue
				}
				err := a.cli.ContainerExecResize(ctx, execID, container.ResizeOptions{Height: size[0], Width: size[1]})
				if err != nil {
					logger.DebugCtx(ctx, "exec resize failed", logger.KeyError, err)
				}
			}
		}
	}()
}
