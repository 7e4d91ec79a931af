package readiness

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/probe"
	"github.com/melih/lighthouse-appliance/internal/testutil"
)

var execOK = domain.ExecResult{ExitCode: 0}

func testDatabase() DatabaseSpec {
	return DatabaseSpec{
		Container:       "lighthouse",
		ServiceName:     "mysql",
		ServiceAccount:  "mysql",
		DataDir:         "/var/lib/mysql",
		RunDir:          "/var/run/mysqld",
		LogDir:          "/var/log/mysql",
		BinaryPaths:     []string{"/usr/sbin/mysqld", "/usr/bin/mysqld"},
		SupervisorPaths: []string{"/usr/bin/mysqld_safe"},
	}
}

func testPolicy() WaitPolicy {
	return WaitPolicy{Interval: 2 * time.Second, MaxTicks: 90, ManualStartAt: 15, DiagnosticsAt: 30}
}

type harness struct {
	rt     *testutil.FakeRuntime
	clock  *testutil.FakeClock
	waiter *DatabaseWaiter
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rt := testutil.NewFakeRuntime()
	rt.TopErr = errors.New("top unsupported")
	clock := testutil.NewFakeClock(epoch)

	db := testDatabase()
	prober := probe.New(rt, probe.Config{
		Container:         db.Container,
		DatabaseProcesses: []string{"mysqld"},
		DatabasePort:      3306,
		PingCommand:       []string{"mysqladmin", "ping"},
	})
	strategies, err := BuildStrategies(rt, db, []string{StrategyServiceManager, StrategyDirectBinary, StrategySupervisor})
	require.NoError(t, err)

	starter := NewManualStarter(rt, db, strategies, clock, 5*time.Second, prober.PingDatabase)
	diagnoser := NewDiagnoser(rt, prober, db)
	return &harness{
		rt:     rt,
		clock:  clock,
		waiter: NewDatabaseWaiter(prober.PingDatabase, starter, diagnoser, clock, testPolicy()),
	}
}

func TestDatabaseWaiter_FastPath(t *testing.T) {
	h := newHarness(t)
	h.rt.OnPrefix("mysqladmin ping", execOK)

	out, err := h.waiter.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StateReady, out.State)
	assert.Equal(t, 1, out.Ticks)
	assert.Empty(t, h.clock.Sleeps)
	assert.Zero(t, h.rt.ExecCount("chown"), "no escalation on the fast path")
}

func TestDatabaseWaiter_FailsWhenNothingCanStart(t *testing.T) {
	h := newHarness(t)

	out, err := h.waiter.Wait(context.Background())

	require.ErrorIs(t, err, ErrNotReady)
	var nre *NotReadyError
	require.ErrorAs(t, err, &nre)
	assert.Equal(t, 90, nre.Ticks)
	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, 90, h.rt.ExecCount("mysqladmin ping"), "one ping per tick, no re-check when no strategy applied")
	assert.Equal(t, 178*time.Second, h.clock.Elapsed())

	require.Len(t, nre.Diagnostics.Binaries, 3)
	for _, b := range nre.Diagnostics.Binaries {
		assert.False(t, b.Present)
	}
	assert.Equal(t, "no service manager found", nre.Diagnostics.ServiceStatus)
	assert.Contains(t, nre.Diagnostics.String(), "/usr/sbin/mysqld")
}

func TestDatabaseWaiter_ZeroTicksDisableEscalations(t *testing.T) {
	h := newHarness(t)
	h.rt.OnPrefix("test -x /usr/sbin/mysqld", execOK)
	policy := testPolicy()
	policy.ManualStartAt = 0
	policy.DiagnosticsAt = 0
	h.waiter.policy = policy

	_, err := h.waiter.Wait(context.Background())

	require.ErrorIs(t, err, ErrNotReady)
	assert.Zero(t, h.rt.ExecCount("chown"))
	assert.Empty(t, h.rt.Detached)
	assert.Equal(t, 90, h.rt.ExecCount("mysqladmin ping"))
}

func TestDatabaseWaiter_FailsWhenEveryStartAttemptFails(t *testing.T) {
	h := newHarness(t)
	h.rt.OnPrefix("test -x /usr/sbin/mysqld", execOK)
	h.rt.OnPrefix("test -x /usr/bin/mysqld_safe", execOK)
	h.rt.OnPrefix("ls -A /var/lib/mysql", domain.ExecResult{Stdout: "ibdata1\nmysql\n"})

	out, err := h.waiter.Wait(context.Background())

	require.ErrorIs(t, err, ErrNotReady)
	assert.Equal(t, 90, out.Ticks)
	assert.Len(t, h.rt.Detached, 2, "direct binary then supervisor")
	assert.Equal(t, 92, h.rt.ExecCount("mysqladmin ping"), "90 ticks plus one re-check per attempted strategy")
	assert.Zero(t, h.rt.ExecCount("/usr/sbin/mysqld --initialize-insecure"), "data dir not empty")
}

func TestDatabaseWaiter_ManualStartRecovers(t *testing.T) {
	h := newHarness(t)
	h.rt.OnPrefix("test -x /usr/sbin/mysqld", execOK)
	h.rt.OnPrefix("ls -A /var/lib/mysql", domain.ExecResult{})
	h.rt.OnPrefix("/usr/sbin/mysqld --initialize-insecure", execOK)
	h.rt.OnExec(func(cmd []string) (domain.ExecResult, bool) {
		if len(cmd) == 2 && cmd[0] == "mysqladmin" && len(h.rt.Detached) > 0 {
			return execOK, true
		}
		return domain.ExecResult{}, false
	})

	out, err := h.waiter.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 15, out.Ticks)
	assert.Equal(t, "manual-start", out.ReadyBy)
	assert.Equal(t, 1, h.rt.ExecCount("chown -R mysql:mysql /var/lib/mysql /var/run/mysqld /var/log/mysql"))
	assert.Equal(t, 1, h.rt.ExecCount("/usr/sbin/mysqld --initialize-insecure --user=mysql --datadir=/var/lib/mysql"))
	require.Len(t, h.rt.Detached, 1)
	assert.Equal(t, []string{"/usr/sbin/mysqld", "--user=mysql", "--datadir=/var/lib/mysql"}, h.rt.Detached[0])
}

func TestServiceManagerPreferenceOrder(t *testing.T) {
	h := newHarness(t)
	h.rt.OnPrefix("sh -c command -v service", execOK)
	h.rt.OnPrefix("sh -c command -v rc-service", execOK)
	h.rt.OnPrefix("service mysql start", execOK)
	h.rt.OnExec(func(cmd []string) (domain.ExecResult, bool) {
		if len(cmd) == 2 && cmd[0] == "mysqladmin" && h.rt.ExecCount("service mysql start") > 0 {
			return execOK, true
		}
		return domain.ExecResult{}, false
	})

	out, err := h.waiter.Wait(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "manual-start", out.ReadyBy)
	assert.Zero(t, h.rt.ExecCount("rc-service"), "first detected manager wins")
	assert.Empty(t, h.rt.Detached, "later strategies are not tried after success")
}

func TestBuildStrategiesRejectsUnknown(t *testing.T) {
	_, err := BuildStrategies(testutil.NewFakeRuntime(), testDatabase(), []string{"magic"})
	require.Error(t, err)
}

func TestDatabaseWaiter_CancelledIsNotNotReady(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.clock.OnSleep = func(time.Duration) { cancel() }

	_, err := h.waiter.Wait(ctx)

	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotReady)
}

func TestServiceManagerKeepsTransportError(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.OnPrefix("sh -c command -v systemctl", execOK)
	rt.ExecErr = func(cmd []string) error {
		if strings.HasPrefix(strings.Join(cmd, " "), "systemctl start") {
			return errors.New("exec create: container is restarting")
		}
		return nil
	}
	strategies, err := BuildStrategies(rt, testDatabase(), []string{StrategyServiceManager})
	require.NoError(t, err)

	err = strategies[0].Start(context.Background())

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotApplicable)
	assert.Contains(t, err.Error(), "container is restarting")
	assert.NotContains(t, err.Error(), "exit 0")
}
