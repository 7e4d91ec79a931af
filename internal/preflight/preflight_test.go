package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/testutil"
)

func TestRun_AllPass(t *testing.T) {
	c := New(testutil.NewFakeRuntime()).
		WithEUID(func() int { return 0 }).
		WithPortProbe(func(int, string) error { return nil })

	err := c.Run(context.Background(), Checks{Root: true, Runtime: true, Ports: &domain.Ports{Web: 2053, ProtocolA: 443, ProtocolB: 443}})
	require.NoError(t, err)
}

func TestRun_CollectsEveryFailure(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.PingErr = errors.New("dial unix /var/run/docker.sock: connect: no such file or directory")
	c := New(rt).
		WithEUID(func() int { return 1000 }).
		WithPortProbe(func(port int, protocol string) error {
			if port == 443 && protocol == "udp" {
				return errors.New("address already in use")
			}
			return nil
		})

	err := c.Run(context.Background(), Checks{Root: true, Runtime: true, Ports: &domain.Ports{Web: 2053, ProtocolA: 443, ProtocolB: 443}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "root")
	assert.Contains(t, err.Error(), "runtime unavailable")
	assert.Contains(t, err.Error(), "443/udp")
	assert.NotContains(t, err.Error(), "2053")
}

func TestRun_IgnoresPortsHeldByTheAppliance(t *testing.T) {
	busy := map[string]bool{"2053/tcp": true, "443/tcp": true, "443/udp": true, "8443/tcp": true}
	c := New(testutil.NewFakeRuntime()).
		WithEUID(func() int { return 0 }).
		WithPortProbe(func(port int, protocol string) error {
			if busy[fmt.Sprintf("%d/%s", port, protocol)] {
				return errors.New("address already in use")
			}
			return nil
		})
	current := domain.Ports{Web: 2053, ProtocolA: 443, ProtocolB: 443}

	require.NoError(t, c.Run(context.Background(), Checks{Ports: &current, HeldBy: current.Bindings()}))

	moved := domain.Ports{Web: 8443, ProtocolA: 443, ProtocolB: 443}
	err := c.Run(context.Background(), Checks{Ports: &moved, HeldBy: current.Bindings()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "8443/tcp")
	assert.NotContains(t, err.Error(), "443/udp")
}

func TestRun_SkipsUnrequestedChecks(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.PingErr = errors.New("down")
	c := New(rt).WithEUID(func() int { return 1000 })

	require.NoError(t, c.Run(context.Background(), Checks{}))
}

func TestListenProbeDetectsBoundPort(t *testing.T) {
	l, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	defer l.Close()
	port := l.Addr().(*net.TCPAddr).Port

	assert.Error(t, listenProbe(port, "tcp"))
}
