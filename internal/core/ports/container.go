package ports

import (
	"context"
	"io"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// ContainerRuntime is the narrow container control surface the orchestrator consumes.
// This interface allows us to switch between Docker, Podman, or a scripted fake
// without changing the lifecycle logic.
type ContainerRuntime interface {
	// Ping checks that the runtime daemon is reachable.
	Ping(ctx context.Context) error

	// ImagePresent reports whether the image exists locally.
	ImagePresent(ctx context.Context, image string) (bool, error)
	// PullImage fetches an image from its registry.
	PullImage(ctx context.Context, image string) error

	// Inspect returns the container by name. found is false when it does not exist.
	Inspect(ctx context.Context, name string) (c domain.Container, found bool, err error)
	CreateContainer(ctx context.Context, spec domain.ContainerSpec) (string, error)
	StartContainer(ctx context.Context, name string) error
	StopContainer(ctx context.Context, name string) error
	// RemoveContainer removes the container only. Mounted host directories are never touched.
	RemoveContainer(ctx context.Context, name string) error

	// Exec runs cmd inside the container and captures its output.
	Exec(ctx context.Context, name string, cmd []string) (domain.ExecResult, error)
	// ExecDetached starts cmd inside the container without waiting for it.
	ExecDetached(ctx context.Context, name string, cmd []string) error
	// ExecAttached runs cmd with the given streams attached. With tty set the streams
	// are expected to be a terminal. Output is not captured by the runtime.
	ExecAttached(ctx context.Context, name string, cmd []string, tty bool, stdin io.Reader, stdout, stderr io.Writer) (int, error)

	// Logs returns the container log stream.
	Logs(ctx context.Context, name string, follow bool, tail string) (io.ReadCloser, error)
	// Top lists the container's processes as seen by the runtime.
	Top(ctx context.Context, name string) ([]domain.Process, error)
}
