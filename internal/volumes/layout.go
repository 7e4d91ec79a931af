// Package volumes owns the persisted appliance state on the host: the per-category
// data directories mounted into the container, their backup archives, and the lock
// that serializes mutating runs.
//
// Volumes outlive the container. Nothing in this package is called when a container
// is removed.
package volumes

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// Volume categories, one directory each under the data root.
const (
	Database    = "mysql"
	Application = "app"
	Proxy       = "proxy"
	Nginx       = "nginx"
	Auth        = "auth"
	Certs       = "certs"
	Logs        = "logs"
)

// Volume is one persisted directory and where the container sees it.
type Volume struct {
	Name          string
	HostPath      string
	ContainerPath string
}

// Layout maps the data root to container mount points.
type Layout struct {
	root    string
	volumes []Volume
}

// NewLayout returns the fixed appliance layout under root. dbDataDir is the database
// data directory inside the container.
func NewLayout(root, dbDataDir string) *Layout {
	root = filepath.Clean(root)
	targets := []struct{ name, target string }{
		{Database, dbDataDir},
		{Application, "/app/data"},
		{Proxy, "/usr/local/etc/xray"},
		{Nginx, "/etc/nginx/conf.d"},
		{Auth, "/etc/panel-auth"},
		{Certs, "/etc/ssl/panel"},
		{Logs, "/var/log/panel"},
	}

	l := &Layout{root: root}
	for _, t := range targets {
		l.volumes = append(l.volumes, Volume{
			Name:          t.name,
			HostPath:      filepath.Join(root, t.name),
			ContainerPath: t.target,
		})
	}
	return l
}

// Root returns the data root.
func (l *Layout) Root() string { return l.root }

// Volumes returns every category in mount order.
func (l *Layout) Volumes() []Volume {
	return append([]Volume(nil), l.volumes...)
}

// Path returns the host directory of a category.
func (l *Layout) Path(name string) string {
	return filepath.Join(l.root, name)
}

// Mounts returns the bind mounts for the container.
func (l *Layout) Mounts() []domain.Mount {
	mounts := make([]domain.Mount, 0, len(l.volumes))
	for _, v := range l.volumes {
		mounts = append(mounts, domain.Mount{Source: v.HostPath, Target: v.ContainerPath})
	}
	return mounts
}

// EnsureDirs creates any missing category directory. Existing content is untouched.
func (l *Layout) EnsureDirs() error {
	for _, v := range l.volumes {
		if err := os.MkdirAll(v.HostPath, 0755); err != nil {
			return fmt.Errorf("failed to create volume %s: %w", v.Name, err)
		}
	}
	return nil
}
