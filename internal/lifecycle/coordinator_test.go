package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-appliance/internal/config"
	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/gatekeeper"
	"github.com/melih/lighthouse-appliance/internal/preflight"
	"github.com/melih/lighthouse-appliance/internal/readiness"
	"github.com/melih/lighthouse-appliance/internal/testutil"
	"github.com/melih/lighthouse-appliance/internal/volumes"
)

var execOK = domain.ExecResult{}

const listeners = `Netid State  Recv-Q Send-Q Local Address:Port Peer Address:Port
tcp   LISTEN 0      4096   *:2053              *:*
tcp   LISTEN 0      4096   *:443               *:*
tcp   LISTEN 0      151    127.0.0.1:3306      0.0.0.0:*
`

type fixture struct {
	cfg   *config.Config
	rt    *testutil.FakeRuntime
	clock *testutil.FakeClock
	coord *Coordinator
	euid  int
	// busy host ports, "port/proto"
	busy map[string]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	cfg := config.GetDefaultConfig()
	cfg.Storage.DataRoot = filepath.Join(base, "data")
	cfg.Storage.BackupDir = filepath.Join(base, "backups")
	cfg.Storage.LockFile = filepath.Join(base, "lighthouse.lock")

	f := &fixture{
		cfg:   cfg,
		rt:    testutil.NewFakeRuntime(),
		clock: testutil.NewFakeClock(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		busy:  map[string]bool{},
	}
	checker := preflight.New(f.rt).
		WithEUID(func() int { return f.euid }).
		WithPortProbe(func(port int, protocol string) error {
			if f.busy[fmt.Sprintf("%d/%s", port, protocol)] {
				return errors.New("address already in use")
			}
			return nil
		})

	coord, err := New(cfg, Dependencies{Runtime: f.rt, Clock: f.clock, Preflight: checker})
	require.NoError(t, err)
	f.coord = coord
	return f
}

// healthy makes the database answer and the panel services come up.
func (f *fixture) healthy() {
	f.rt.OnPrefix("mysqladmin ping", execOK)
	f.rt.OnPrefix("panel service start", execOK)
	f.rt.OnPrefix("panel service stop", execOK)
	f.rt.OnPrefix("ss -lntu", domain.ExecResult{Stdout: listeners})
	f.rt.Processes = []domain.Process{
		{PID: "1", Command: "/usr/sbin/mysqld --user=mysql"},
		{PID: "2", Command: "/usr/local/bin/xray run -c /etc/xray/config.json"},
	}
}

// schema scripts the key table: present with rows, or absent.
func (f *fixture) schema(present bool, rows int) {
	found := "0"
	if present {
		found = "1"
	}
	f.rt.OnPrefix("mysql -N -B -h localhost -e SELECT COUNT(*) FROM information_schema.tables", domain.ExecResult{Stdout: found + "\n"})
	f.rt.OnPrefix("mysql -N -B -h localhost -e SELECT COUNT(*) FROM `panel`.`users`", domain.ExecResult{Stdout: fmt.Sprintf("%d\n", rows)})
}

func (f *fixture) seedDataDir(t *testing.T, files int) {
	t.Helper()
	dir := filepath.Join(f.cfg.Storage.DataRoot, volumes.Database)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for i := 0; i < files; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("file%02d", i)), []byte(fmt.Sprintf("page %d", i)), 0644))
	}
}

func (f *fixture) runningContainer() {
	f.rt.Container = &domain.Container{
		ID:      "abc",
		Name:    f.cfg.Container.Name,
		Image:   f.cfg.Image.Name,
		State:   "running",
		Running: true,
		Ports:   f.cfg.Ports.Bindings(),
	}
	// the running container's proxy holds its published ports
	for _, b := range f.cfg.Ports.Bindings() {
		f.busy[fmt.Sprintf("%d/%s", b.HostPort, b.Protocol)] = true
	}
	f.rt.Images[f.cfg.Image.Name] = true
}

func (f *fixture) marker(t *testing.T) *domain.InitMarker {
	t.Helper()
	m, err := gatekeeper.NewMarkerStore(f.cfg.Storage.DataRoot).Read()
	require.NoError(t, err)
	return m
}

func indexOf(execs [][]string, cmd string) int {
	for i, e := range execs {
		if strings.Join(e, " ") == cmd {
			return i
		}
	}
	return -1
}

func TestDeploy_FreshStateInitializesOnce(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(false, 0)

	res, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, domain.DecisionInit, res.Verdict.Decision)
	assert.Equal(t, []string{"pull", "create", "start"}, f.rt.Calls)

	require.Len(t, f.rt.Attached, 1)
	assert.Equal(t, []string{"panel", "service", "init"}, f.rt.Attached[0])
	assert.Zero(t, f.rt.ExecCount("panel service start"), "init is the only service command")

	m := f.marker(t)
	require.NotNil(t, m)
	assert.True(t, m.Initialized)
	assert.Equal(t, f.cfg.Ports, m.PortsAtInit)
	assert.Empty(t, res.Warnings)

	require.Len(t, f.rt.Specs, 1)
	spec := f.rt.Specs[0]
	assert.Len(t, spec.Mounts, 7)
	assert.Equal(t, f.cfg.Ports.Bindings(), spec.Ports)
	for _, v := range f.coord.Layout().Volumes() {
		assert.DirExists(t, v.HostPath)
	}
}

func TestDeploy_FreshStateInitializesAfterDatabaseBootWritesDatadir(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(false, 0)
	dbDir := filepath.Join(f.cfg.Storage.DataRoot, volumes.Database)
	f.rt.OnExec(func(cmd []string) (domain.ExecResult, bool) {
		if !strings.HasPrefix(strings.Join(cmd, " "), "mysqladmin ping") {
			return domain.ExecResult{}, false
		}
		// a first boot creates the system tablespace before answering
		if err := os.MkdirAll(filepath.Join(dbDir, "mysql"), 0755); err != nil {
			return domain.ExecResult{ExitCode: 1, Stderr: err.Error()}, true
		}
		if err := os.WriteFile(filepath.Join(dbDir, "ibdata1"), []byte("tablespace"), 0644); err != nil {
			return domain.ExecResult{ExitCode: 1, Stderr: err.Error()}, true
		}
		return execOK, true
	})

	res, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, domain.DecisionInit, res.Verdict.Decision)
	assert.Empty(t, res.Warnings)
	require.Len(t, f.rt.Attached, 1)
	assert.Equal(t, []string{"panel", "service", "init"}, f.rt.Attached[0])
	m := f.marker(t)
	require.NotNil(t, m)
	assert.True(t, m.Initialized)
	assert.FileExists(t, filepath.Join(dbDir, "ibdata1"))
}

func TestDeploy_ExistingDataSkipsInit(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)

	res, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSkip, res.Verdict.Decision)
	assert.Equal(t, 3, res.Verdict.TableCounts["users"])
	assert.Empty(t, f.rt.Attached, "setup never runs against existing schema")
	assert.Equal(t, 1, f.rt.ExecCount("panel service start"))
	assert.Nil(t, f.marker(t))
}

func TestDeploy_DataWithoutSchemaWarnsAndStarts(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(false, 0)
	f.seedDataDir(t, 5)

	res, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.DecisionWarn, res.Verdict.Decision)
	assert.Empty(t, f.rt.Attached)
	assert.Equal(t, 1, f.rt.ExecCount("panel service start"))
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "Restore from a backup")
}

func TestDeploy_RefusesExistingContainer(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.runningContainer()

	_, err := f.coord.Deploy(context.Background())

	require.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.rt.CallCount("create"))
}

func TestDeploy_PreconditionFailureMutatesNothing(t *testing.T) {
	f := newFixture(t)
	f.euid = 1000

	_, err := f.coord.Deploy(context.Background())

	require.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, f.rt.Calls)
	assert.NoDirExists(t, f.cfg.Storage.DataRoot)
}

func TestDeploy_LockHeld(t *testing.T) {
	f := newFixture(t)
	lock, err := volumes.AcquireLock(f.cfg.Storage.LockFile)
	require.NoError(t, err)
	defer lock.Release()

	_, err = f.coord.Deploy(context.Background())

	require.ErrorIs(t, err, ErrPrecondition)
	require.ErrorIs(t, err, volumes.ErrLocked)
}

func TestDeploy_ReadinessTimeoutAbortsBeforeInit(t *testing.T) {
	f := newFixture(t)
	f.schema(false, 0)

	res, err := f.coord.Deploy(context.Background())

	require.ErrorIs(t, err, readiness.ErrNotReady)
	require.NotNil(t, res.Readiness)
	assert.Equal(t, f.cfg.Readiness.MaxTicks, res.Readiness.Ticks)
	assert.Empty(t, f.rt.Attached)
	assert.Nil(t, f.marker(t))
	require.NotNil(t, f.rt.Container)
	assert.True(t, f.rt.Container.Running, "left running for inspection")
}

func TestDeploy_InitFailurePropagates(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(false, 0)
	f.rt.AttachCode = 1

	_, err := f.coord.Deploy(context.Background())

	require.ErrorIs(t, err, ErrRemoteCommand)
	assert.Nil(t, f.marker(t), "marker only after successful setup")
}

func TestDeploy_VerificationWarnings(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 1)
	f.seedDataDir(t, 1)
	f.rt.Processes = nil
	f.rt.OnPrefix("ss -lntu", domain.ExecResult{Stdout: "Netid State Recv-Q Send-Q Local Peer\n"})

	res, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	warnings := strings.Join(res.Warnings, "\n")
	assert.Contains(t, warnings, "xray")
	assert.Contains(t, warnings, "2053")
	assert.Contains(t, f.clock.Sleeps, f.cfg.Application.VerifyWait)
}

func TestRedeploy_KeepsVolumes(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)
	f.runningContainer()

	res, err := f.coord.Redeploy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"stop", "remove", "create", "start"}, f.rt.Calls)
	assert.Equal(t, domain.DecisionSkip, res.Verdict.Decision)
	assert.Empty(t, f.rt.Attached)
	assert.FileExists(t, filepath.Join(f.cfg.Storage.DataRoot, volumes.Database, "file09"))
}

func TestRedeploy_ForeignPortHolderAbortsBeforeRemoval(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)
	f.runningContainer()
	f.cfg.Ports.Web = 8443
	f.busy["8443/tcp"] = true

	_, err := f.coord.Redeploy(context.Background())

	require.ErrorIs(t, err, ErrPrecondition)
	assert.Contains(t, err.Error(), "8443/tcp")
	assert.Empty(t, f.rt.Calls)
	assert.Zero(t, f.rt.ExecCount("panel service stop"))
	require.NotNil(t, f.rt.Container)
	assert.True(t, f.rt.Container.Running)
}

func TestRedeploy_MovesToFreePort(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)
	f.runningContainer()
	f.cfg.Ports.Web = 8443

	_, err := f.coord.Redeploy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"stop", "remove", "create", "start"}, f.rt.Calls)
	assert.Equal(t, 8443, f.rt.Specs[0].Ports[0].HostPort)
}

func TestBackup_QuiescesThenResumes(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.seedDataDir(t, 3)
	f.runningContainer()

	res, err := f.coord.Backup(context.Background())

	require.NoError(t, err)
	require.NotNil(t, res.Backup)
	assert.FileExists(t, res.Backup.Path)

	stop := indexOf(f.rt.Execs, "panel service stop")
	start := indexOf(f.rt.Execs, "panel service start")
	require.GreaterOrEqual(t, stop, 0)
	assert.Greater(t, start, stop)
	assert.True(t, f.rt.Container.Running, "container is never stopped for a backup")
}

func TestBackup_ServiceStopFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.rt.OnPrefix("panel service stop", domain.ExecResult{ExitCode: 1, Stderr: "not running"})
	f.seedDataDir(t, 1)
	f.runningContainer()

	res, err := f.coord.Backup(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, res.Backup)
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)
	f.runningContainer()

	before, err := f.coord.Status(context.Background())
	require.NoError(t, err)
	res, err := f.coord.Backup(context.Background())
	require.NoError(t, err)

	dbDir := filepath.Join(f.cfg.Storage.DataRoot, volumes.Database)
	require.NoError(t, os.WriteFile(filepath.Join(dbDir, "file00"), []byte("overwritten"), 0644))
	require.NoError(t, os.Remove(filepath.Join(dbDir, "file05")))

	restored, err := f.coord.Restore(context.Background(), res.Backup.Path, ConfirmationWord)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		data, err := os.ReadFile(filepath.Join(dbDir, fmt.Sprintf("file%02d", i)))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("page %d", i), string(data))
	}
	assert.Empty(t, f.rt.Attached, "restore never initializes")
	assert.Equal(t, before.TableCounts, restored.Verdict.TableCounts)
	assert.Equal(t, 1, f.rt.CallCount("remove"))
	assert.Equal(t, 1, f.rt.CallCount("create"))
}

func TestRestore_ForeignPortHolderLeavesApplianceIntact(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 10)
	f.runningContainer()
	res, err := f.coord.Backup(context.Background())
	require.NoError(t, err)

	dbDir := filepath.Join(f.cfg.Storage.DataRoot, volumes.Database)
	require.NoError(t, os.WriteFile(filepath.Join(dbDir, "file00"), []byte("live"), 0644))
	f.cfg.Ports.ProtocolB = 8443
	f.busy["8443/udp"] = true

	_, err = f.coord.Restore(context.Background(), res.Backup.Path, ConfirmationWord)

	require.ErrorIs(t, err, ErrPrecondition)
	assert.Zero(t, f.rt.CallCount("remove"))
	require.NotNil(t, f.rt.Container)
	data, err := os.ReadFile(filepath.Join(dbDir, "file00"))
	require.NoError(t, err)
	assert.Equal(t, "live", string(data))
}

func TestRestore_RequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	f.runningContainer()

	_, err := f.coord.Restore(context.Background(), "/tmp/backup.tar.gz", "yes")

	require.ErrorIs(t, err, ErrNotConfirmed)
	assert.Empty(t, f.rt.Calls)
}

func TestRestore_MissingArchive(t *testing.T) {
	f := newFixture(t)
	f.runningContainer()

	_, err := f.coord.Restore(context.Background(), "", ConfirmationWord)
	require.ErrorIs(t, err, ErrPrecondition)

	_, err = f.coord.Restore(context.Background(), filepath.Join(t.TempDir(), "nope.tar.gz"), ConfirmationWord)
	require.ErrorIs(t, err, ErrPrecondition)
	assert.Empty(t, f.rt.Calls, "container untouched")
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 3)
	f.seedDataDir(t, 2)
	f.runningContainer()

	st, err := f.coord.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.ApplianceState{
		ContainerPresent:  true,
		ContainerRunning:  true,
		DatabaseReachable: true,
		DataInitialized:   true,
		SchemaPresent:     true,
	}, st.State)
	assert.True(t, st.ProxyAlive)
	assert.Equal(t, 3, st.TableCounts["users"])
}

func TestStatus_NotDeployed(t *testing.T) {
	f := newFixture(t)

	st, err := f.coord.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, domain.ApplianceState{}, st.State)
	assert.Nil(t, st.Container)
}

func TestStopAndStart(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 1)
	f.runningContainer()

	_, err := f.coord.Stop(context.Background())
	require.NoError(t, err)
	assert.False(t, f.rt.Container.Running)
	assert.Equal(t, 1, f.rt.ExecCount("panel service stop"))

	res, err := f.coord.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, f.rt.Container.Running)
	assert.Equal(t, 1, res.Readiness.Ticks)
	assert.Equal(t, 1, f.rt.ExecCount("panel service start"))
}

func TestStart_NotDeployed(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.Start(context.Background())
	require.ErrorIs(t, err, ErrNotDeployed)
}

func TestRestart(t *testing.T) {
	f := newFixture(t)
	f.healthy()
	f.schema(true, 1)
	f.runningContainer()

	_, err := f.coord.Restart(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"stop", "start"}, f.rt.Calls)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	f.runningContainer()
	f.rt.LogText = "panel started\n"

	var out strings.Builder
	require.NoError(t, f.coord.Logs(context.Background(), &out, false, "100"))
	assert.Equal(t, "panel started\n", out.String())
}

func TestShell_FallsBackToSh(t *testing.T) {
	f := newFixture(t)
	f.runningContainer()
	f.rt.OnPrefix("test -x /bin/sh", execOK)

	code, err := f.coord.Shell(context.Background())

	require.NoError(t, err)
	assert.Zero(t, code)
	require.Len(t, f.rt.Attached, 1)
	assert.Equal(t, []string{"/bin/sh"}, f.rt.Attached[0])
}

type recordingBuilder struct {
	repo, ref, image string
}

func (b *recordingBuilder) BuildImage(_ context.Context, repo, ref, image string) (string, error) {
	b.repo, b.ref, b.image = repo, ref, image
	return image, nil
}

func TestDeploy_BuildsImageFromRepo(t *testing.T) {
	f := newFixture(t)
	f.cfg.Image.BuildRepo = "https://example.com/panel.git"
	f.cfg.Image.BuildRef = "v2.1.0"
	b := &recordingBuilder{}
	f.coord.builder = b
	f.healthy()
	f.schema(false, 0)

	_, err := f.coord.Deploy(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "https://example.com/panel.git", b.repo)
	assert.Equal(t, "v2.1.0", b.ref)
	assert.Equal(t, f.cfg.Image.Name, b.image)
	assert.Zero(t, f.rt.CallCount("pull"))
}
