// Package preflight verifies host preconditions before anything is mutated.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/core/ports"
)

// Checks selects which preconditions to verify.
type Checks struct {
	Root    bool
	Runtime bool
	// Ports are host ports that must be free. Zero value skips the check.
	Ports *domain.Ports
	// HeldBy are bindings published by the running appliance container itself.
	// Those ports are busy only because of the container about to be replaced.
	HeldBy []domain.PortBinding
}

// Checker runs precondition checks.
type Checker struct {
	rt       ports.ContainerRuntime
	euid     func() int
	portFree func(port int, protocol string) error
}

// New creates a Checker against the real host.
func New(rt ports.ContainerRuntime) *Checker {
	return &Checker{rt: rt, euid: os.Geteuid, portFree: listenProbe}
}

// WithEUID overrides the effective uid source.
func (c *Checker) WithEUID(euid func() int) *Checker {
	c.euid = euid
	return c
}

// WithPortProbe overrides the port availability check.
func (c *Checker) WithPortProbe(probe func(port int, protocol string) error) *Checker {
	c.portFree = probe
	return c
}

// Run returns every failed precondition joined into one error, or nil.
func (c *Checker) Run(ctx context.Context, checks Checks) error {
	var errs []error

	if checks.Root && c.euid() != 0 {
		errs = append(errs, errors.New("must be run as root"))
	}
	if checks.Runtime {
		if err := c.rt.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("container runtime unavailable: %w", err))
		}
	}
	if checks.Ports != nil {
		for _, b := range checks.Ports.Bindings() {
			if held(checks.HeldBy, b) {
				continue
			}
			if err := c.portFree(b.HostPort, b.Protocol); err != nil {
				errs = append(errs, fmt.Errorf("port %d/%s is in use: %w", b.HostPort, b.Protocol, err))
			}
		}
	}
	return errors.Join(errs...)
}

func held(bindings []domain.PortBinding, b domain.PortBinding) bool {
	for _, h := range bindings {
		if h.HostPort == b.HostPort && h.Protocol == b.Protocol {
			return true
		}
	}
	return false
}

func listenProbe(port int, protocol string) error {
	addr := net.JoinHostPort("", strconv.Itoa(port))
	switch protocol {
	case "udp":
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return err
		}
		return pc.Close()
	default:
		l, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		return l.Close()
	}
}
