package docker

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli         *client.Client
	stopTimeout time.Duration
}

// NewAdapter creates a new Docker adapter instance
func NewAdapter(stopTimeout time.Duration) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &Adapter{cli: cli, stopTimeout: stopTimeout}, nil
}

// Client exposes the underlying SDK client for adapters that share it (the builder).
func (a *Adapter) Client() *client.Client {
	return a.cli
}

// Close releases the client's transport.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// Ping checks that the Docker daemon answers.
func (a *Adapter) Ping(ctx context.Context) error {
	if _, err := a.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return nil
}

// ImagePresent reports whether the image is available locally.
func (a *Adapter) ImagePresent(ctx context.Context, image string) (bool, error) {
	if _, _, err := a.cli.ImageInspectWithRaw(ctx, image); err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect image: %w", err)
	}
	return true, nil
}

// PullImage pulls the image and drains the progress stream.
func (a *Adapter) PullImage(ctx context.Context, image string) error {
	reader, err := a.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	// The pull only completes once the progress stream is consumed.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	return nil
}

// Inspect returns the container by name.
func (a *Adapter) Inspect(ctx context.Context, name string) (domain.Container, bool, error) {
	info, err := a.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return domain.Container{}, false, nil
		}
		return domain.Container{}, false, fmt.Errorf("failed to inspect container: %w", err)
	}

	c := domain.Container{
		ID:   shortID(info.ID),
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.Config != nil {
		c.Image = info.Config.Image
	}
	if info.State != nil {
		c.State = info.State.Status
		c.Status = info.State.Status
		c.Running = info.State.Running
	}
	if info.HostConfig != nil {
		c.Ports = publishedPorts(info.HostConfig.PortBindings)
	}
	return c, true, nil
}

// publishedPorts flattens a port map, skipping bindings without a numeric host port.
func publishedPorts(pm nat.PortMap) []domain.PortBinding {
	var out []domain.PortBinding
	for port, bindings := range pm {
		for _, b := range bindings {
			host, err := strconv.Atoi(b.HostPort)
			if err != nil {
				continue
			}
			out = append(out, domain.PortBinding{ContainerPort: port.Int(), HostPort: host, Protocol: port.Proto()})
		}
	}
	return out
}

// CreateContainer creates the appliance container with its bind mounts and port map.
func (a *Adapter) CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range spec.Ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return "", fmt.Errorf("invalid port %d/%s: %w", p.ContainerPort, p.Protocol, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.HostPort)})
	}

	mounts := make([]mount.Mount, 0, len(spec.Mounts))
	for _, m := range spec.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: m.Source,
			Target: m.Target,
		})
	}

	resp, err := a.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        spec.Image,
			Hostname:     spec.Hostname,
			Env:          spec.Env,
			ExposedPorts: exposed,
		},
		&container.HostConfig{
			Mounts:        mounts,
			PortBindings:  bindings,
			Privileged:    spec.Privileged,
			RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyMode(spec.RestartPolicy)},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	for _, w := range resp.Warnings {
		logger.Warn("docker create warning", "warning", w)
	}
	return shortID(resp.ID), nil
}

// StartContainer starts an existing container
func (a *Adapter) StartContainer(ctx context.Context, name string) error {
	if err := a.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

// StopContainer stops a running container
func (a *Adapter) StopContainer(ctx context.Context, name string) error {
	secs := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	return nil
}

// RemoveContainer force-removes the container. Bind-mounted data is never touched.
func (a *Adapter) RemoveContainer(ctx context.Context, name string) error {
	err := a.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: false})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

// Logs returns the demultiplexed log stream of the container
func (a *Adapter) Logs(ctx context.Context, name string, follow bool, tail string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       tail,
		Timestamps: true,
	}
	raw, err := a.cli.ContainerLogs(ctx, name, options)
	if err != nil {
		return nil, fmt.Errorf("failed to read container logs: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		raw.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// Top lists the container's processes as reported by the daemon.
func (a *Adapter) Top(ctx context.Context, name string) ([]domain.Process, error) {
	body, err := a.cli.ContainerTop(ctx, name, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list container processes: %w", err)
	}

	pidCol, userCol, cmdCol := -1, -1, -1
	for i, title := range body.Titles {
		switch strings.ToUpper(title) {
		case "PID":
			pidCol = i
		case "UID", "USER":
			userCol = i
		case "CMD", "COMMAND", "ARGS":
			cmdCol = i
		}
	}

	procs := make([]domain.Process, 0, len(body.Processes))
	for _, row := range body.Processes {
		p := domain.Process{}
		if pidCol >= 0 && pidCol < len(row) {
			p.PID = row[pidCol]
		}
		if userCol >= 0 && userCol < len(row) {
			p.User = row[userCol]
		}
		if cmdCol >= 0 && cmdCol < len(row) {
			p.Command = row[cmdCol]
		}
		procs = append(procs, p)
	}
	return procs, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
