package probe

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/testutil"
)

const ssOutput = `Netid State  Recv-Q Send-Q Local Address:Port Peer Address:Port
tcp   LISTEN 0      151    127.0.0.1:3306      0.0.0.0:*
tcp   LISTEN 0      4096   *:443               *:*
udp   UNCONN 0      0      *:443               *:*
`

const netstatOutput = `Active Internet connections (only servers)
Proto Recv-Q Send-Q Local Address           Foreign Address         State
tcp        0      0 0.0.0.0:2053            0.0.0.0:*               LISTEN
tcp6       0      0 :::3306                 :::*                    LISTEN
`

func testConfig() Config {
	return Config{
		Container:         "lighthouse",
		DatabaseProcesses: []string{"mysqld", "mariadbd"},
		DatabasePort:      3306,
		ProxyProcess:      "xray",
		ProxyPort:         443,
		PingCommand:       []string{"mysqladmin", "ping"},
	}
}

func TestListenerHasPort(t *testing.T) {
	assert.True(t, ListenerHasPort(ssOutput, 3306, "tcp"))
	assert.True(t, ListenerHasPort(ssOutput, 443, "udp"))
	assert.False(t, ListenerHasPort(ssOutput, 3306, "udp"))
	assert.False(t, ListenerHasPort(ssOutput, 33060, "tcp"))

	assert.True(t, ListenerHasPort(netstatOutput, 3306, "tcp"), "tcp6 rows count as tcp")
	assert.True(t, ListenerHasPort(netstatOutput, 2053, "tcp"))
}

func TestMatchesProcess(t *testing.T) {
	assert.True(t, MatchesProcess("/usr/sbin/mysqld --user=mysql", "mysqld"))
	assert.True(t, MatchesProcess("mysqld", "mysqld"))
	assert.False(t, MatchesProcess("/usr/bin/mysqld_safe --user=mysql", "mysqld"))
	assert.False(t, MatchesProcess("grep mysqld", "mysqld"))
	assert.False(t, MatchesProcess("", "mysqld"))
}

func TestParsePS(t *testing.T) {
	procs := ParsePS("  PID USER     COMMAND\n    1 root     /sbin/init\n   42 mysql    /usr/sbin/mysqld --user=mysql\n")
	require.Len(t, procs, 2)
	assert.Equal(t, "42", procs[1].PID)
	assert.Equal(t, "mysql", procs[1].User)
	assert.Equal(t, "/usr/sbin/mysqld --user=mysql", procs[1].Command)
}

func TestDatabaseProcessAlive_FromTop(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.Processes = []domain.Process{{PID: "42", Command: "/usr/sbin/mysqld --user=mysql"}}

	p := New(rt, testConfig())
	assert.True(t, p.DatabaseProcessAlive(context.Background()))
	assert.Zero(t, rt.ExecCount("ss"), "port listeners are not consulted when the process table answers")
}

func TestDatabaseProcessAlive_FallsBackToPs(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.TopErr = errors.New("top not supported")
	rt.OnPrefix("ps -eo", domain.ExecResult{Stdout: "PID USER COMMAND\n7 mysql mariadbd\n"})

	p := New(rt, testConfig())
	assert.True(t, p.DatabaseProcessAlive(context.Background()))
}

func TestDatabaseProcessAlive_FallsBackToPortListeners(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.TopErr = errors.New("top not supported")
	// ps missing (unmatched exec exits 127), ss missing, netstat present
	rt.OnPrefix("netstat", domain.ExecResult{Stdout: netstatOutput})

	p := New(rt, testConfig())
	assert.True(t, p.DatabaseProcessAlive(context.Background()))
	assert.Equal(t, 1, rt.ExecCount("ss"))
}

func TestDatabaseProcessAlive_NoEvidence(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.TopErr = errors.New("top not supported")

	p := New(rt, testConfig())
	assert.False(t, p.DatabaseProcessAlive(context.Background()))
}

func TestProxyProcessAlive(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	rt.Processes = []domain.Process{{PID: "9", Command: "/usr/local/bin/xray run -c /etc/xray/config.json"}}

	p := New(rt, testConfig())
	assert.True(t, p.ProxyProcessAlive(context.Background()))

	rt.Processes = nil
	rt.OnPrefix("ss", domain.ExecResult{Stdout: ssOutput})
	assert.True(t, p.ProxyProcessAlive(context.Background()), "bound proxy port is independent evidence")
}

func TestPingDatabase(t *testing.T) {
	rt := testutil.NewFakeRuntime()
	p := New(rt, testConfig())
	assert.False(t, p.PingDatabase(context.Background()))

	rt.OnPrefix("mysqladmin ping", domain.ExecResult{ExitCode: 0, Stdout: "mysqld is alive"})
	assert.True(t, p.PingDatabase(context.Background()))
}
