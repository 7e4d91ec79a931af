package lifecycle

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/melih/lighthouse-appliance/internal/core/ports"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Terminal is the operator's console, handed to interactive commands.
type Terminal struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
	TTY bool
}

// ExecServiceController runs the panel's "service" subcommands inside the container.
type ExecServiceController struct {
	rt        ports.ContainerRuntime
	container string
	command   []string
	term      Terminal
}

// NewExecServiceController creates a controller. command is the panel CLI.
func NewExecServiceController(rt ports.ContainerRuntime, container string, command []string, term Terminal) *ExecServiceController {
	return &ExecServiceController{rt: rt, container: container, command: command, term: term}
}

var _ ports.ServiceController = (*ExecServiceController)(nil)

// Start runs "service start".
func (s *ExecServiceController) Start(ctx context.Context) error {
	return s.run(ctx, "start")
}

// Stop runs "service stop".
func (s *ExecServiceController) Stop(ctx context.Context) error {
	return s.run(ctx, "stop")
}

// Init runs "service init" attached to the operator's terminal. Its output holds the
// generated credentials and is never captured.
func (s *ExecServiceController) Init(ctx context.Context) error {
	cmd := s.cmd("init")
	logger.InfoCtx(ctx, "running one-time setup", "cmd", strings.Join(cmd, " "))

	code, err := s.rt.ExecAttached(ctx, s.container, cmd, s.term.TTY, s.term.In, s.term.Out, s.term.Err)
	if err != nil {
		return fmt.Errorf("%w: service init: %v", ErrRemoteCommand, err)
	}
	if code != 0 {
		return fmt.Errorf("%w: service init exited %d", ErrRemoteCommand, code)
	}
	return nil
}

func (s *ExecServiceController) run(ctx context.Context, action string) error {
	cmd := s.cmd(action)
	logger.DebugCtx(ctx, "running service command", "cmd", strings.Join(cmd, " "))

	res, err := s.rt.Exec(ctx, s.container, cmd)
	if err != nil {
		return fmt.Errorf("%w: service %s: %v", ErrRemoteCommand, action, err)
	}
	if !res.OK() {
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = strings.TrimSpace(res.Stdout)
		}
		return fmt.Errorf("%w: service %s exited %d: %s", ErrRemoteCommand, action, res.ExitCode, msg)
	}
	return nil
}

func (s *ExecServiceController) cmd(action string) []string {
	return append(append([]string(nil), s.command...), "service", action)
}
