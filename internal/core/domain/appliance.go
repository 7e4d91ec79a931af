package domain

import (
	"fmt"
	"time"
)

// Container-internal ports. These are baked into the appliance image and never change;
// only the host side of each mapping is configurable.
const (
	ContainerWebPort       = 2053
	ContainerProtocolAPort = 443 // tcp
	ContainerProtocolBPort = 443 // udp
)

// Ports are the host ports the appliance is published on.
type Ports struct {
	Web       int `json:"web" mapstructure:"web" yaml:"web"`
	ProtocolA int `json:"protocol_a" mapstructure:"protocol_a" yaml:"protocol_a"`
	ProtocolB int `json:"protocol_b" mapstructure:"protocol_b" yaml:"protocol_b"`
}

// Bindings returns the container port map for the given host ports.
func (p Ports) Bindings() []PortBinding {
	return []PortBinding{
		{ContainerPort: ContainerWebPort, HostPort: p.Web, Protocol: "tcp"},
		{ContainerPort: ContainerProtocolAPort, HostPort: p.ProtocolA, Protocol: "tcp"},
		{ContainerPort: ContainerProtocolBPort, HostPort: p.ProtocolB, Protocol: "udp"},
	}
}

// ApplianceState is the run-time belief about the managed appliance.
// It is derived fresh on every invocation and never persisted.
type ApplianceState struct {
	ContainerPresent  bool `json:"container_present"`
	ContainerRunning  bool `json:"container_running"`
	DatabaseReachable bool `json:"database_reachable"`
	DataInitialized   bool `json:"data_initialized"`
	SchemaPresent     bool `json:"schema_present"`
}

// Decision is the startup path chosen by the initialization gatekeeper.
type Decision int

const (
	// DecisionInit runs the one-time setup command and writes the init marker.
	DecisionInit Decision = iota
	// DecisionSkip starts services against existing data.
	DecisionSkip
	// DecisionWarn starts services but surfaces a warning; the operator decides remediation.
	DecisionWarn
)

func (d Decision) String() string {
	switch d {
	case DecisionInit:
		return "INIT"
	case DecisionSkip:
		return "SKIP"
	case DecisionWarn:
		return "WARN"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// BackupArchive describes one immutable snapshot of all data volumes.
type BackupArchive struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
