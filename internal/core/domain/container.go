package domain

// Container represents the appliance container as reported by the runtime.
type Container struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	Status  string `json:"status"`
	State   string `json:"state"` // running, exited, etc.
	Running bool   `json:"running"`
	// Ports are the host ports the container publishes.
	Ports []PortBinding `json:"ports,omitempty"`
}

// Mount binds a host directory into the container.
type Mount struct {
	Source string // host path
	Target string // container path
}

// PortBinding maps a fixed container port to a host port.
type PortBinding struct {
	ContainerPort int
	HostPort      int
	Protocol      string // tcp or udp
}

// ContainerSpec holds everything needed to create the appliance container.
type ContainerSpec struct {
	Name          string
	Image         string
	Hostname      string
	Env           []string
	Mounts        []Mount
	Ports         []PortBinding
	RestartPolicy string
	Privileged    bool
}

// ExecResult is the captured outcome of a command run inside the container.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// OK reports whether the command exited with status zero.
func (r ExecResult) OK() bool {
	return r.ExitCode == 0
}

// Process is one row of the container process table.
type Process struct {
	PID     string `json:"pid"`
	User    string `json:"user"`
	Command string `json:"command"`
}
