package docker

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// Exec runs cmd inside the container and captures stdout, stderr and the exit code.
// A missing binary is not an error: it surfaces as a non-zero exit code.
func (a *Adapter) Exec(ctx context.Context, name string, cmd []string) (domain.ExecResult, error) {
	created, err := a.cli.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return domain.ExecResult{}, fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return domain.ExecResult{}, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, resp.Reader); err != nil {
		return domain.ExecResult{}, fmt.Errorf("failed to read exec output: %w", err)
	}

	code, err := a.exitCode(ctx, created.ID)
	if err != nil {
		return domain.ExecResult{}, err
	}
	return domain.ExecResult{ExitCode: code, Stdout: stdout.String(), Stderr: stderr.String()}, nil
}

// ExecDetached starts cmd in the background inside the container.
func (a *Adapter) ExecDetached(ctx context.Context, name string, cmd []string) error {
	created, err := a.cli.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:    cmd,
		Detach: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create exec: %w", err)
	}
	if err := a.cli.ContainerExecStart(ctx, created.ID, types.ExecStartCheck{Detach: true}); err != nil {
		return fmt.Errorf("failed to start detached exec: %w", err)
	}
	return nil
}

// ExecAttached wires the caller's streams to cmd. Nothing is buffered here; output
// that must never be persisted (setup credentials) passes straight through.
func (a *Adapter) ExecAttached(ctx context.Context, name string, cmd []string, tty bool, stdin io.Reader, stdout, stderr io.Writer) (int, error) {
	var local *localTerminal
	if tty {
		var err error
		if local, err = rawTerminal(stdin); err != nil {
			return -1, fmt.Errorf("failed to set raw mode: %w", err)
		}
		defer local.restore()
	}
	size := local.size()

	created, err := a.cli.ContainerExecCreate(ctx, name, types.ExecConfig{
		Cmd:          cmd,
		Tty:          tty,
		ConsoleSize:  size,
		AttachStdin:  stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := a.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{Tty: tty, ConsoleSize: size})
	if err != nil {
		return -1, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	resizeCtx, stopResize := context.WithCancel(ctx)
	defer stopResize()
	a.followResize(resizeCtx, created.ID, local)

	if stdin != nil {
		go func() {
			_, _ = io.Copy(resp.Conn, stdin)
			_ = resp.CloseWrite()
		}()
	}

	if tty {
		_, err = io.Copy(stdout, resp.Reader)
	} else {
		_, err = stdcopy.StdCopy(stdout, stderr, resp.Reader)
	}
	if err != nil && err != io.EOF {
		return -1, fmt.Errorf("exec stream failed: %w", err)
	}

	return a.exitCode(ctx, created.ID)
}

func (a *Adapter) exitCode(ctx context.Context, execID string) (int, error) {
	info, err := a.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return info.ExitCode, nil
}
