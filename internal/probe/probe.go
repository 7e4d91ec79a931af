// Package probe classifies service liveness inside the running appliance.
//
// Two independent evidence sources are consulted: the process table (runtime top, or
// ps inside the container) and the port listener table (ss, or netstat). Either tool
// may be missing from the image; an answer needs at least one source to succeed.
// Process evidence is diagnostic. Only PingDatabase is authoritative for readiness.
package probe

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/core/ports"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Config names what to look for inside the container.
type Config struct {
	Container         string
	DatabaseProcesses []string
	DatabasePort      int
	ProxyProcess      string
	ProxyPort         int
	PingCommand       []string
}

// Prober implements ports.LivenessProber on top of a container runtime. It has no
// side effects.
type Prober struct {
	rt  ports.ContainerRuntime
	cfg Config
}

// New creates a Prober.
func New(rt ports.ContainerRuntime, cfg Config) *Prober {
	return &Prober{rt: rt, cfg: cfg}
}

var _ ports.LivenessProber = (*Prober)(nil)

// PingDatabase runs the administrative ping. Exit status zero is the only success.
func (p *Prober) PingDatabase(ctx context.Context) bool {
	res, err := p.rt.Exec(ctx, p.cfg.Container, p.cfg.PingCommand)
	if err != nil {
		logger.DebugCtx(ctx, "database ping failed to run", logger.KeyError, err)
		return false
	}
	return res.OK()
}

// DatabaseProcessAlive reports whether a database daemon process exists or the
// database port is bound.
func (p *Prober) DatabaseProcessAlive(ctx context.Context) bool {
	if alive, ok := p.processAlive(ctx, p.cfg.DatabaseProcesses...); ok && alive {
		return true
	}
	return p.PortBound(ctx, p.cfg.DatabasePort, "tcp")
}

// ProxyProcessAlive reports whether the proxy daemon process exists or its port is bound.
func (p *Prober) ProxyProcessAlive(ctx context.Context) bool {
	if alive, ok := p.processAlive(ctx, p.cfg.ProxyProcess); ok && alive {
		return true
	}
	if p.cfg.ProxyPort == 0 {
		return false
	}
	return p.PortBound(ctx, p.cfg.ProxyPort, "tcp")
}

// PortBound reports whether a listener for port/protocol exists inside the container.
func (p *Prober) PortBound(ctx context.Context, port int, protocol string) bool {
	text, err := p.Listeners(ctx)
	if err != nil {
		logger.DebugCtx(ctx, "no port listener tool available", logger.KeyError, err)
		return false
	}
	return ListenerHasPort(text, port, protocol)
}

// Processes returns the container process table, preferring the runtime's view and
// falling back to ps inside the container.
func (p *Prober) Processes(ctx context.Context) ([]domain.Process, error) {
	procs, err := p.rt.Top(ctx, p.cfg.Container)
	if err == nil {
		return procs, nil
	}
	logger.DebugCtx(ctx, "runtime process list unavailable, falling back to ps", logger.KeyError, err)

	res, execErr := p.rt.Exec(ctx, p.cfg.Container, []string{"ps", "-eo", "pid,user,args"})
	if execErr != nil {
		return nil, fmt.Errorf("process table unavailable: %w", execErr)
	}
	if !res.OK() {
		return nil, fmt.Errorf("process table unavailable: ps exited %d", res.ExitCode)
	}
	return ParsePS(res.Stdout), nil
}

// Listeners returns the raw listener table from ss, or netstat when ss is missing.
func (p *Prober) Listeners(ctx context.Context) (string, error) {
	for _, cmd := range [][]string{{"ss", "-lntu"}, {"netstat", "-lntu"}} {
		res, err := p.rt.Exec(ctx, p.cfg.Container, cmd)
		if err == nil && res.OK() {
			return res.Stdout, nil
		}
	}
	return "", fmt.Errorf("neither ss nor netstat is available in container %s", p.cfg.Container)
}

// processAlive returns ok=false when no process table could be read.
func (p *Prober) processAlive(ctx context.Context, names ...string) (alive bool, ok bool) {
	procs, err := p.Processes(ctx)
	if err != nil {
		return false, false
	}
	for _, proc := range procs {
		for _, name := range names {
			if MatchesProcess(proc.Command, name) {
				return true, true
			}
		}
	}
	return false, true
}

// MatchesProcess reports whether the executable of command is name.
func MatchesProcess(command, name string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 || name == "" {
		return false
	}
	exe := strings.Trim(fields[0], "[]")
	return path.Base(exe) == name
}

// ParsePS parses "ps -eo pid,user,args" output.
func ParsePS(out string) []domain.Process {
	var procs []domain.Process
	for i, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || (i == 0 && strings.EqualFold(fields[0], "PID")) {
			continue
		}
		procs = append(procs, domain.Process{
			PID:     fields[0],
			User:    fields[1],
			Command: strings.Join(fields[2:], " "),
		})
	}
	return procs
}

// ListenerHasPort scans ss or netstat listener output for port/protocol.
func ListenerHasPort(text string, port int, protocol string) bool {
	suffix := ":" + strconv.Itoa(port)
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 4 || !strings.HasPrefix(strings.ToLower(fields[0]), protocol) {
			continue
		}
		for _, f := range fields[1:] {
			if strings.HasSuffix(f, suffix) {
				return true
			}
		}
	}
	return false
}
