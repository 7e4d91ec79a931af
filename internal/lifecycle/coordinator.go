// Package lifecycle sequences the appliance's lifecycle operations.
//
// Every flow that brings the appliance up goes through the same spine: container
// running, database ready, gatekeeper decision, one service command, verification.
// A readiness failure aborts the flow and leaves the container running so the
// operator can look inside.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/melih/lighthouse-appliance/internal/config"
	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/core/ports"
	"github.com/melih/lighthouse-appliance/internal/gatekeeper"
	"github.com/melih/lighthouse-appliance/internal/logger"
	"github.com/melih/lighthouse-appliance/internal/preflight"
	"github.com/melih/lighthouse-appliance/internal/probe"
	"github.com/melih/lighthouse-appliance/internal/readiness"
	"github.com/melih/lighthouse-appliance/internal/volumes"
)

// Dependencies are the collaborators the coordinator cannot build from config alone.
type Dependencies struct {
	Runtime ports.ContainerRuntime
	// Builder is optional; without it image.build_repo is ignored and the image is pulled.
	Builder  ports.BuilderService
	Clock    readiness.Clock
	Terminal Terminal
	// Preflight defaults to checks against the real host.
	Preflight *preflight.Checker
}

// Result reports what a lifecycle operation did.
type Result struct {
	Readiness *readiness.Outcome
	Verdict   *gatekeeper.Verdict
	Backup    *domain.BackupArchive
	Pruned    []string
	Warnings  []string
}

func (r *Result) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Coordinator drives deploy, redeploy, backup, restore and the day-to-day commands.
type Coordinator struct {
	cfg       *config.Config
	rt        ports.ContainerRuntime
	builder   ports.BuilderService
	clock     readiness.Clock
	preflight *preflight.Checker

	prober   *probe.Prober
	service  ports.ServiceController
	schema   ports.SchemaInspector
	gate     *gatekeeper.Gatekeeper
	markers  *gatekeeper.MarkerStore
	waiter   *readiness.DatabaseWaiter
	layout   *volumes.Layout
	archiver *volumes.Archiver
	term     Terminal
}

// New wires every component from cfg.
func New(cfg *config.Config, deps Dependencies) (*Coordinator, error) {
	if deps.Runtime == nil {
		return nil, errors.New("container runtime is required")
	}
	if deps.Clock == nil {
		deps.Clock = readiness.RealClock()
	}
	if deps.Preflight == nil {
		deps.Preflight = preflight.New(deps.Runtime)
	}

	name := cfg.Container.Name
	prober := probe.New(deps.Runtime, probe.Config{
		Container:         name,
		DatabaseProcesses: cfg.Database.ProcessNames,
		DatabasePort:      cfg.Database.Port,
		ProxyProcess:      cfg.Application.ProxyProcess,
		ProxyPort:         domain.ContainerProtocolAPort,
		PingCommand:       cfg.Database.PingCommand,
	})

	db := readiness.DatabaseSpec{
		Container:       name,
		ServiceName:     cfg.Database.ServiceName,
		ServiceAccount:  cfg.Database.ServiceAccount,
		DataDir:         cfg.Database.DataDir,
		RunDir:          cfg.Database.RunDir,
		LogDir:          cfg.Database.LogDir,
		BinaryPaths:     cfg.Database.BinaryPaths,
		SupervisorPaths: cfg.Database.SupervisorPaths,
	}
	strategies, err := readiness.BuildStrategies(deps.Runtime, db, cfg.Readiness.StartStrategies)
	if err != nil {
		return nil, err
	}
	starter := readiness.NewManualStarter(deps.Runtime, db, strategies, deps.Clock, cfg.Readiness.AttemptWait, prober.PingDatabase)
	diagnoser := readiness.NewDiagnoser(deps.Runtime, prober, db)
	waiter := readiness.NewDatabaseWaiter(prober.PingDatabase, starter, diagnoser, deps.Clock, readiness.WaitPolicy{
		Interval:      cfg.Readiness.Interval,
		MaxTicks:      cfg.Readiness.MaxTicks,
		ManualStartAt: *cfg.Readiness.ManualStartAt,
		DiagnosticsAt: *cfg.Readiness.DiagnosticsAt,
	})

	layout := volumes.NewLayout(cfg.Storage.DataRoot, cfg.Database.DataDir)
	markers := gatekeeper.NewMarkerStore(layout.Root())
	schema := gatekeeper.NewExecSchemaInspector(deps.Runtime, name, cfg.Database.ClientCommand, cfg.Database.Schema)

	return &Coordinator{
		cfg:       cfg,
		rt:        deps.Runtime,
		builder:   deps.Builder,
		clock:     deps.Clock,
		preflight: deps.Preflight,
		prober:    prober,
		service:   NewExecServiceController(deps.Runtime, name, cfg.Application.Command, deps.Terminal),
		schema:    schema,
		gate:      gatekeeper.New(layout.Path(volumes.Database), schema, markers, cfg.Database.KeyTables),
		markers:   markers,
		waiter:    waiter,
		layout:    layout,
		archiver:  volumes.NewArchiver(layout, cfg.Storage.BackupDir).WithClock(deps.Clock.Now),
		term:      deps.Terminal,
	}, nil
}

// Layout returns the persisted volume layout.
func (c *Coordinator) Layout() *volumes.Layout { return c.layout }

// Deploy brings the appliance from nothing to serving. It refuses to touch an
// existing container.
func (c *Coordinator) Deploy(ctx context.Context) (*Result, error) {
	return c.locked(ctx, func(ctx context.Context) (*Result, error) {
		if err := c.check(ctx, preflight.Checks{Root: true, Runtime: true}); err != nil {
			return nil, err
		}
		if _, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name); err != nil {
			return nil, fmt.Errorf("failed to inspect container: %w", err)
		} else if found {
			return nil, fmt.Errorf("%w: container %s already exists, use redeploy", ErrPrecondition, c.cfg.Container.Name)
		}
		if err := c.check(ctx, preflight.Checks{Ports: &c.cfg.Ports}); err != nil {
			return nil, err
		}
		return c.provision(ctx, true)
	})
}

// Redeploy recreates the container on top of the existing volumes.
func (c *Coordinator) Redeploy(ctx context.Context) (*Result, error) {
	return c.locked(ctx, func(ctx context.Context) (*Result, error) {
		if err := c.check(ctx, preflight.Checks{Root: true, Runtime: true}); err != nil {
			return nil, err
		}
		if err := c.checkPorts(ctx); err != nil {
			return nil, err
		}
		if err := c.removeContainer(ctx); err != nil {
			return nil, err
		}
		return c.provision(ctx, true)
	})
}

// Start starts a stopped appliance and its services.
func (c *Coordinator) Start(ctx context.Context) (*Result, error) {
	return c.locked(ctx, c.start)
}

// Stop stops the application services, then the container.
func (c *Coordinator) Stop(ctx context.Context) (*Result, error) {
	return c.locked(ctx, c.stop)
}

// Restart is Stop followed by Start under one lock.
func (c *Coordinator) Restart(ctx context.Context) (*Result, error) {
	return c.locked(ctx, func(ctx context.Context) (*Result, error) {
		res, err := c.stop(ctx)
		if err != nil {
			return res, err
		}
		started, err := c.start(ctx)
		if started != nil {
			started.Warnings = append(res.Warnings, started.Warnings...)
		}
		return started, err
	})
}

func (c *Coordinator) start(ctx context.Context) (*Result, error) {
	ctr, err := c.requireContainer(ctx)
	if err != nil {
		return nil, err
	}
	nonEmpty, err := c.gate.DataDirNonEmpty()
	if err != nil {
		return nil, err
	}
	if !ctr.Running {
		logger.InfoCtx(ctx, "starting container", logger.KeyContainer, ctr.Name)
		if err := c.rt.StartContainer(ctx, ctr.Name); err != nil {
			return nil, err
		}
	}
	return c.bringUp(ctx, false, nonEmpty)
}

func (c *Coordinator) stop(ctx context.Context) (*Result, error) {
	ctr, err := c.requireContainer(ctx)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	if !ctr.Running {
		res.warn("container %s is already stopped", ctr.Name)
		return res, nil
	}
	if err := c.service.Stop(ctx); err != nil {
		logger.WarnCtx(ctx, "service stop failed, stopping container anyway", logger.KeyError, err)
		res.warn("service stop failed: %v", err)
	}
	if err := c.rt.StopContainer(ctx, ctr.Name); err != nil {
		return res, err
	}
	return res, nil
}

// provision ensures volumes and image, creates and starts the container, then brings
// the services up.
func (c *Coordinator) provision(ctx context.Context, allowInit bool) (*Result, error) {
	if err := c.layout.EnsureDirs(); err != nil {
		return nil, err
	}
	if err := c.ensureImage(ctx); err != nil {
		return nil, err
	}
	nonEmpty, err := c.gate.DataDirNonEmpty()
	if err != nil {
		return nil, err
	}
	if err := c.createAndStart(ctx); err != nil {
		return nil, err
	}
	return c.bringUp(ctx, allowInit, nonEmpty)
}

// bringUp waits for the database, applies the gatekeeper and issues exactly one
// service command. Without allowInit the setup command is never issued. nonEmpty
// is the database volume as it was before the container started.
func (c *Coordinator) bringUp(ctx context.Context, allowInit, nonEmpty bool) (*Result, error) {
	res := &Result{}

	out, err := c.waiter.Wait(ctx)
	res.Readiness = &out
	if err != nil {
		return res, err
	}

	verdict, err := c.gate.Evaluate(ctx, nonEmpty)
	if err != nil {
		if allowInit {
			return res, err
		}
		res.warn("could not inspect existing data: %v", err)
	} else {
		res.Verdict = &verdict
		res.Warnings = append(res.Warnings, verdict.Warnings...)
	}

	if allowInit && res.Verdict != nil && res.Verdict.Decision == domain.DecisionInit {
		if err := c.service.Init(ctx); err != nil {
			return res, err
		}
		if err := c.gate.RecordInit(c.cfg.Ports, c.clock.Now()); err != nil {
			// setup already ran; losing the marker only weakens advisory evidence
			res.warn("failed to write init marker: %v", err)
		}
	} else {
		if err := c.service.Start(ctx); err != nil {
			return res, err
		}
	}

	c.verify(ctx, res)
	return res, nil
}

// verify checks that the proxy daemon and web port came up. Failures are warnings.
func (c *Coordinator) verify(ctx context.Context, res *Result) {
	if err := c.clock.Sleep(ctx, c.cfg.Application.VerifyWait); err != nil {
		return
	}
	if !c.prober.ProxyProcessAlive(ctx) {
		res.warn("proxy process %s is not running", c.cfg.Application.ProxyProcess)
	}
	if !c.prober.PortBound(ctx, domain.ContainerWebPort, "tcp") {
		res.warn("web panel is not listening on port %d inside the container", domain.ContainerWebPort)
	}
}

func (c *Coordinator) ensureImage(ctx context.Context) error {
	image := c.cfg.Image.Name
	present, err := c.rt.ImagePresent(ctx, image)
	if err != nil {
		return err
	}
	if present {
		return nil
	}

	if c.cfg.Image.BuildRepo != "" && c.builder != nil {
		logger.InfoCtx(ctx, "building image", "image", image, "repo", c.cfg.Image.BuildRepo, "ref", c.cfg.Image.BuildRef)
		_, err := c.builder.BuildImage(ctx, c.cfg.Image.BuildRepo, c.cfg.Image.BuildRef, image)
		return err
	}
	logger.InfoCtx(ctx, "pulling image", "image", image)
	return c.rt.PullImage(ctx, image)
}

func (c *Coordinator) createAndStart(ctx context.Context) error {
	spec := domain.ContainerSpec{
		Name:          c.cfg.Container.Name,
		Image:         c.cfg.Image.Name,
		Hostname:      c.cfg.Container.Hostname,
		Env:           c.cfg.Container.Env,
		Mounts:        c.layout.Mounts(),
		Ports:         c.cfg.Ports.Bindings(),
		RestartPolicy: c.cfg.Container.RestartPolicy,
		Privileged:    c.cfg.Container.Privileged,
	}
	id, err := c.rt.CreateContainer(ctx, spec)
	if err != nil {
		return err
	}
	logger.InfoCtx(ctx, "container created", logger.KeyContainer, spec.Name, "id", id)
	return c.rt.StartContainer(ctx, spec.Name)
}

// removeContainer stops and removes the container if present. Volumes stay.
func (c *Coordinator) removeContainer(ctx context.Context) error {
	ctr, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}
	if !found {
		return nil
	}
	if ctr.Running {
		if err := c.service.Stop(ctx); err != nil {
			logger.WarnCtx(ctx, "service stop failed before removal", logger.KeyError, err)
		}
		if err := c.rt.StopContainer(ctx, ctr.Name); err != nil {
			logger.WarnCtx(ctx, "container stop failed, forcing removal", logger.KeyError, err)
		}
	}
	logger.InfoCtx(ctx, "removing container", logger.KeyContainer, ctr.Name)
	return c.rt.RemoveContainer(ctx, ctr.Name)
}

func (c *Coordinator) requireContainer(ctx context.Context) (domain.Container, error) {
	ctr, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name)
	if err != nil {
		return domain.Container{}, fmt.Errorf("failed to inspect container: %w", err)
	}
	if !found {
		return domain.Container{}, fmt.Errorf("%w: container %s not found, run deploy first", ErrNotDeployed, c.cfg.Container.Name)
	}
	return ctr, nil
}

func (c *Coordinator) check(ctx context.Context, checks preflight.Checks) error {
	if err := c.preflight.Run(ctx, checks); err != nil {
		return fmt.Errorf("%w: %w", ErrPrecondition, err)
	}
	return nil
}

// checkPorts verifies the configured host ports are free, ignoring the ones the
// running appliance container publishes itself.
func (c *Coordinator) checkPorts(ctx context.Context) error {
	ctr, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name)
	if err != nil {
		return fmt.Errorf("failed to inspect container: %w", err)
	}
	checks := preflight.Checks{Ports: &c.cfg.Ports}
	if found && ctr.Running {
		checks.HeldBy = ctr.Ports
	}
	return c.check(ctx, checks)
}

// locked runs fn holding the data root lock.
func (c *Coordinator) locked(ctx context.Context, fn func(context.Context) (*Result, error)) (*Result, error) {
	lock, err := volumes.AcquireLock(c.cfg.Storage.LockFile)
	if err != nil {
		if errors.Is(err, volumes.ErrLocked) {
			return nil, fmt.Errorf("%w: %w", ErrPrecondition, err)
		}
		return nil, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.WarnCtx(ctx, "failed to release lock", logger.KeyError, err)
		}
	}()
	return fn(ctx)
}
