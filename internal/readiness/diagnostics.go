package readiness

import (
	"context"
	"fmt"
	"strings"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/core/ports"
)

// ProcessLister is the slice of the prober the diagnostics need.
type ProcessLister interface {
	Processes(ctx context.Context) ([]domain.Process, error)
	Listeners(ctx context.Context) (string, error)
}

// BinaryCheck records whether a well-known path exists inside the container.
type BinaryCheck struct {
	Path    string
	Present bool
}

// Diagnostics is a point-in-time snapshot for manual remediation.
type Diagnostics struct {
	Processes     []domain.Process
	ProcessErr    string
	Listeners     string
	ServiceStatus string
	Binaries      []BinaryCheck
}

// String renders the snapshot for the operator.
func (d Diagnostics) String() string {
	var b strings.Builder

	b.WriteString("processes:\n")
	if d.ProcessErr != "" {
		fmt.Fprintf(&b, "  unavailable: %s\n", d.ProcessErr)
	}
	for _, p := range d.Processes {
		fmt.Fprintf(&b, "  %6s %-10s %s\n", p.PID, p.User, p.Command)
	}

	b.WriteString("listeners:\n")
	for _, line := range strings.Split(strings.TrimSpace(d.Listeners), "\n") {
		if line != "" {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	b.WriteString("service status:\n")
	for _, line := range strings.Split(strings.TrimSpace(d.ServiceStatus), "\n") {
		if line != "" {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	b.WriteString("database binaries:\n")
	for _, bin := range d.Binaries {
		mark := "missing"
		if bin.Present {
			mark = "found"
		}
		fmt.Fprintf(&b, "  %-40s %s\n", bin.Path, mark)
	}
	return b.String()
}

// Diagnoser collects Diagnostics from a running container.
type Diagnoser struct {
	rt     ports.ContainerRuntime
	lister ProcessLister
	db     DatabaseSpec
}

// NewDiagnoser creates a Diagnoser.
func NewDiagnoser(rt ports.ContainerRuntime, lister ProcessLister, db DatabaseSpec) *Diagnoser {
	return &Diagnoser{rt: rt, lister: lister, db: db}
}

// Collect never fails; missing tools are recorded in the snapshot.
func (d *Diagnoser) Collect(ctx context.Context) Diagnostics {
	var diag Diagnostics

	procs, err := d.lister.Processes(ctx)
	if err != nil {
		diag.ProcessErr = err.Error()
	}
	diag.Processes = procs

	if text, err := d.lister.Listeners(ctx); err != nil {
		diag.Listeners = err.Error()
	} else {
		diag.Listeners = text
	}

	diag.ServiceStatus = d.serviceStatus(ctx)

	paths := append(append([]string(nil), d.db.BinaryPaths...), d.db.SupervisorPaths...)
	for _, p := range paths {
		res, err := d.rt.Exec(ctx, d.db.Container, []string{"test", "-x", p})
		diag.Binaries = append(diag.Binaries, BinaryCheck{Path: p, Present: err == nil && res.OK()})
	}
	return diag
}

func (d *Diagnoser) serviceStatus(ctx context.Context) string {
	for _, mgr := range DefaultServiceManagers(d.db.ServiceName) {
		if res, err := d.rt.Exec(ctx, d.db.Container, mgr.Detect); err != nil || !res.OK() {
			continue
		}
		res, err := d.rt.Exec(ctx, d.db.Container, mgr.Status)
		if err != nil {
			return fmt.Sprintf("%s: %v", mgr.Name, err)
		}
		return fmt.Sprintf("%s (exit %d)\n%s%s", mgr.Name, res.ExitCode, res.Stdout, res.Stderr)
	}
	return "no service manager found"
}
