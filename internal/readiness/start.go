package readiness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/melih/lighthouse-appliance/internal/core/ports"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Strategy names accepted in readiness.start_strategies.
const (
	StrategyServiceManager = "service-manager"
	StrategyDirectBinary   = "direct-binary"
	StrategySupervisor     = "supervisor"
)

// ErrNotApplicable means a strategy found nothing to run (no init system, no binary).
// No liveness re-check follows such an attempt.
var ErrNotApplicable = errors.New("start method not available")

// DatabaseSpec is what the manual start needs to know about the database.
type DatabaseSpec struct {
	Container       string
	ServiceName     string
	ServiceAccount  string
	DataDir         string
	RunDir          string
	LogDir          string
	BinaryPaths     []string
	SupervisorPaths []string
}

// StartStrategy is one way of bringing the database daemon up.
type StartStrategy interface {
	Name() string
	Start(ctx context.Context) error
}

// ServiceManager is an init system that can start a named service.
type ServiceManager struct {
	Name string
	// Detect exits zero when this init system is usable inside the container.
	Detect []string
	Start  []string
	Status []string
}

// DefaultServiceManagers returns the init systems in preference order.
func DefaultServiceManagers(service string) []ServiceManager {
	initScript := "/etc/init.d/" + service
	return []ServiceManager{
		{
			Name:   "systemctl",
			Detect: []string{"sh", "-c", "command -v systemctl && systemctl is-system-running"},
			Start:  []string{"systemctl", "start", service},
			Status: []string{"systemctl", "status", service, "--no-pager"},
		},
		{
			Name:   "service",
			Detect: []string{"sh", "-c", "command -v service"},
			Start:  []string{"service", service, "start"},
			Status: []string{"service", service, "status"},
		},
		{
			Name:   "rc-service",
			Detect: []string{"sh", "-c", "command -v rc-service"},
			Start:  []string{"rc-service", service, "start"},
			Status: []string{"rc-service", service, "status"},
		},
		{
			Name:   "init.d",
			Detect: []string{"test", "-x", initScript},
			Start:  []string{initScript, "start"},
			Status: []string{initScript, "status"},
		},
	}
}

// BuildStrategies maps configured strategy names to implementations, preserving order.
func BuildStrategies(rt ports.ContainerRuntime, db DatabaseSpec, names []string) ([]StartStrategy, error) {
	strategies := make([]StartStrategy, 0, len(names))
	for _, name := range names {
		switch name {
		case StrategyServiceManager:
			strategies = append(strategies, &serviceManagerStrategy{rt: rt, db: db, managers: DefaultServiceManagers(db.ServiceName)})
		case StrategyDirectBinary:
			strategies = append(strategies, &directBinaryStrategy{rt: rt, db: db})
		case StrategySupervisor:
			strategies = append(strategies, &supervisorStrategy{rt: rt, db: db})
		default:
			return nil, fmt.Errorf("unknown start strategy %q", name)
		}
	}
	return strategies, nil
}

// ManualStarter is the self-healing escalation: it repairs directory ownership and
// then walks the start strategies, cheapest first, until the database answers.
type ManualStarter struct {
	rt          ports.ContainerRuntime
	db          DatabaseSpec
	strategies  []StartStrategy
	clock       Clock
	attemptWait time.Duration
	alive       Probe
}

// NewManualStarter creates a ManualStarter. alive is the authoritative liveness check.
func NewManualStarter(rt ports.ContainerRuntime, db DatabaseSpec, strategies []StartStrategy, clock Clock, attemptWait time.Duration, alive Probe) *ManualStarter {
	return &ManualStarter{
		rt:          rt,
		db:          db,
		strategies:  strategies,
		clock:       clock,
		attemptWait: attemptWait,
		alive:       alive,
	}
}

// Attempt returns true as soon as one strategy is followed by a successful liveness check.
func (m *ManualStarter) Attempt(ctx context.Context) bool {
	logger.WarnCtx(ctx, "database not ready, attempting manual start")
	m.fixPermissions(ctx)

	for _, s := range m.strategies {
		err := s.Start(ctx)
		if errors.Is(err, ErrNotApplicable) {
			logger.DebugCtx(ctx, "start method skipped", "method", s.Name(), logger.KeyError, err)
			continue
		}
		if err != nil {
			logger.WarnCtx(ctx, "start method failed", "method", s.Name(), logger.KeyError, err)
		}

		if err := m.clock.Sleep(ctx, m.attemptWait); err != nil {
			return false
		}
		if m.alive(ctx) {
			logger.InfoCtx(ctx, "database started manually", "method", s.Name())
			return true
		}
	}
	return false
}

func (m *ManualStarter) fixPermissions(ctx context.Context) {
	owner := m.db.ServiceAccount + ":" + m.db.ServiceAccount
	for _, cmd := range [][]string{
		{"mkdir", "-p", m.db.DataDir, m.db.RunDir, m.db.LogDir},
		{"chown", "-R", owner, m.db.DataDir, m.db.RunDir, m.db.LogDir},
		{"chmod", "755", m.db.RunDir},
	} {
		res, err := m.rt.Exec(ctx, m.db.Container, cmd)
		if err != nil || !res.OK() {
			logger.WarnCtx(ctx, "permission fix step failed", "cmd", strings.Join(cmd, " "), "stderr", strings.TrimSpace(res.Stderr), logger.KeyError, err)
		}
	}
}

type serviceManagerStrategy struct {
	rt       ports.ContainerRuntime
	db       DatabaseSpec
	managers []ServiceManager
}

func (s *serviceManagerStrategy) Name() string { return StrategyServiceManager }

func (s *serviceManagerStrategy) Start(ctx context.Context) error {
	var detected bool
	var lastErr error
	for _, mgr := range s.managers {
		if res, err := s.rt.Exec(ctx, s.db.Container, mgr.Detect); err != nil || !res.OK() {
			continue
		}
		detected = true
		res, err := s.rt.Exec(ctx, s.db.Container, mgr.Start)
		if err == nil && res.OK() {
			logger.DebugCtx(ctx, "service manager accepted start", "manager", mgr.Name)
			return nil
		}
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", mgr.Name, err)
			continue
		}
		lastErr = fmt.Errorf("%s: exit %d: %s", mgr.Name, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if !detected {
		return fmt.Errorf("no service manager found: %w", ErrNotApplicable)
	}
	return lastErr
}

type directBinaryStrategy struct {
	rt ports.ContainerRuntime
	db DatabaseSpec
}

func (s *directBinaryStrategy) Name() string { return StrategyDirectBinary }

func (s *directBinaryStrategy) Start(ctx context.Context) error {
	bin, ok := findExecutable(ctx, s.rt, s.db.Container, s.db.BinaryPaths)
	if !ok {
		return fmt.Errorf("no database binary in %v: %w", s.db.BinaryPaths, ErrNotApplicable)
	}

	empty, err := dirEmpty(ctx, s.rt, s.db.Container, s.db.DataDir)
	if err != nil {
		return err
	}
	if empty {
		logger.InfoCtx(ctx, "database data directory empty, initializing", "binary", bin)
		res, err := s.rt.Exec(ctx, s.db.Container, []string{
			bin, "--initialize-insecure", "--user=" + s.db.ServiceAccount, "--datadir=" + s.db.DataDir,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize data directory: %w", err)
		}
		if !res.OK() {
			return fmt.Errorf("%s --initialize-insecure exited %d: %s", bin, res.ExitCode, strings.TrimSpace(res.Stderr))
		}
	}

	return s.rt.ExecDetached(ctx, s.db.Container, []string{
		bin, "--user=" + s.db.ServiceAccount, "--datadir=" + s.db.DataDir,
	})
}

type supervisorStrategy struct {
	rt ports.ContainerRuntime
	db DatabaseSpec
}

func (s *supervisorStrategy) Name() string { return StrategySupervisor }

func (s *supervisorStrategy) Start(ctx context.Context) error {
	wrapper, ok := findExecutable(ctx, s.rt, s.db.Container, s.db.SupervisorPaths)
	if !ok {
		return fmt.Errorf("no supervisor wrapper in %v: %w", s.db.SupervisorPaths, ErrNotApplicable)
	}
	return s.rt.ExecDetached(ctx, s.db.Container, []string{
		wrapper, "--user=" + s.db.ServiceAccount, "--datadir=" + s.db.DataDir,
	})
}

func findExecutable(ctx context.Context, rt ports.ContainerRuntime, container string, paths []string) (string, bool) {
	for _, p := range paths {
		res, err := rt.Exec(ctx, container, []string{"test", "-x", p})
		if err == nil && res.OK() {
			return p, true
		}
	}
	return "", false
}

func dirEmpty(ctx context.Context, rt ports.ContainerRuntime, container, dir string) (bool, error) {
	res, err := rt.Exec(ctx, container, []string{"ls", "-A", dir})
	if err != nil {
		return false, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if !res.OK() {
		// a missing directory counts as empty; mkdir ran during the permission fix
		return true, nil
	}
	return strings.TrimSpace(res.Stdout) == "", nil
}
