package lifecycle

import (
	"context"
	"fmt"
	"io"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/gatekeeper"
	"github.com/melih/lighthouse-appliance/internal/logger"
	"github.com/melih/lighthouse-appliance/internal/volumes"
)

// Status is a read-only snapshot of the appliance.
type Status struct {
	State       domain.ApplianceState `json:"state"`
	Container   *domain.Container     `json:"container,omitempty"`
	ProxyAlive  bool                  `json:"proxy_alive"`
	Marker      *domain.InitMarker    `json:"marker,omitempty"`
	TableCounts map[string]int        `json:"table_counts,omitempty"`
	Ports       domain.Ports          `json:"ports"`
}

// Status derives ApplianceState fresh. It never mutates anything.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	st := &Status{Ports: c.cfg.Ports, TableCounts: map[string]int{}}

	ctr, found, err := c.rt.Inspect(ctx, c.cfg.Container.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}
	if found {
		st.Container = &ctr
		st.State.ContainerPresent = true
		st.State.ContainerRunning = ctr.Running
	}

	nonEmpty, err := gatekeeper.DirNonEmpty(c.layout.Path(volumes.Database))
	if err != nil {
		logger.WarnCtx(ctx, "cannot read database volume", logger.KeyError, err)
	}
	st.State.DataInitialized = nonEmpty

	marker, err := c.markers.Read()
	if err != nil {
		logger.WarnCtx(ctx, "cannot read init marker", logger.KeyError, err)
	}
	st.Marker = marker

	if !st.State.ContainerRunning {
		return st, nil
	}

	st.ProxyAlive = c.prober.ProxyProcessAlive(ctx)
	st.State.DatabaseReachable = c.prober.PingDatabase(ctx)
	if !st.State.DatabaseReachable {
		return st, nil
	}

	for _, table := range c.cfg.Database.KeyTables {
		present, err := c.schema.TablePresent(ctx, table)
		if err != nil {
			logger.WarnCtx(ctx, "schema query failed", "table", table, logger.KeyError, err)
			continue
		}
		if !present {
			continue
		}
		st.State.SchemaPresent = true
		if n, err := c.schema.RowCount(ctx, table); err == nil {
			st.TableCounts[table] = n
		}
	}
	return st, nil
}

// Logs copies container logs to w.
func (c *Coordinator) Logs(ctx context.Context, w io.Writer, follow bool, tail string) error {
	if _, err := c.requireContainer(ctx); err != nil {
		return err
	}
	rc, err := c.rt.Logs(ctx, c.cfg.Container.Name, follow, tail)
	if err != nil {
		return err
	}
	defer rc.Close()

	if _, err := io.Copy(w, rc); err != nil && ctx.Err() == nil {
		return fmt.Errorf("failed to stream logs: %w", err)
	}
	return nil
}

// Shell opens the first available configured shell inside the container on the
// operator's terminal and returns its exit code.
func (c *Coordinator) Shell(ctx context.Context) (int, error) {
	ctr, err := c.requireContainer(ctx)
	if err != nil {
		return 0, err
	}
	if !ctr.Running {
		return 0, fmt.Errorf("%w: container %s is not running", ErrPrecondition, ctr.Name)
	}

	shell := ""
	for _, candidate := range c.cfg.Application.Shell {
		res, err := c.rt.Exec(ctx, ctr.Name, []string{"test", "-x", candidate})
		if err == nil && res.OK() {
			shell = candidate
			break
		}
	}
	if shell == "" {
		return 0, fmt.Errorf("no usable shell in container among %v", c.cfg.Application.Shell)
	}

	return c.rt.ExecAttached(ctx, ctr.Name, []string{shell}, c.term.TTY, c.term.In, c.term.Out, c.term.Err)
}
