package ports

import "context"

// LivenessProber answers the yes/no questions about services inside the running
// appliance. Process-table answers are evidence only; the database ping is authoritative.
type LivenessProber interface {
	DatabaseProcessAlive(ctx context.Context) bool
	ProxyProcessAlive(ctx context.Context) bool
	PortBound(ctx context.Context, port int, protocol string) bool
	// PingDatabase performs the protocol-level administrative ping.
	PingDatabase(ctx context.Context) bool
}

// SchemaInspector queries the live database schema.
type SchemaInspector interface {
	TablePresent(ctx context.Context, table string) (bool, error)
	RowCount(ctx context.Context, table string) (int, error)
}

// ServiceController issues the application's opaque remote commands.
type ServiceController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	// Init runs the one-time interactive setup. Its output carries credentials and
	// goes straight to the operator's terminal.
	Init(ctx context.Context) error
}
