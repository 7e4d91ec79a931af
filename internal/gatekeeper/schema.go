package gatekeeper

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/melih/lighthouse-appliance/internal/core/ports"
)

var identifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ExecSchemaInspector answers schema questions by running the database client inside
// the container. It only reads.
type ExecSchemaInspector struct {
	rt        ports.ContainerRuntime
	container string
	client    []string
	schema    string
}

// NewExecSchemaInspector creates an inspector. client is the database client command
// line; the query is appended after "-e".
func NewExecSchemaInspector(rt ports.ContainerRuntime, container string, client []string, schema string) *ExecSchemaInspector {
	return &ExecSchemaInspector{rt: rt, container: container, client: client, schema: schema}
}

var _ ports.SchemaInspector = (*ExecSchemaInspector)(nil)

// TablePresent reports whether table exists in the application schema.
func (s *ExecSchemaInspector) TablePresent(ctx context.Context, table string) (bool, error) {
	if err := checkIdentifier(table); err != nil {
		return false, err
	}
	n, err := s.count(ctx, fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema='%s' AND table_name='%s'",
		s.schema, table))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RowCount returns the number of rows in table.
func (s *ExecSchemaInspector) RowCount(ctx context.Context, table string) (int, error) {
	if err := checkIdentifier(table); err != nil {
		return 0, err
	}
	return s.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM `%s`.`%s`", s.schema, table))
}

func (s *ExecSchemaInspector) count(ctx context.Context, query string) (int, error) {
	cmd := append(append([]string(nil), s.client...), "-e", query)
	res, err := s.rt.Exec(ctx, s.container, cmd)
	if err != nil {
		return 0, fmt.Errorf("failed to run schema query: %w", err)
	}
	if !res.OK() {
		return 0, fmt.Errorf("schema query exited %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return parseCount(res.Stdout)
}

// parseCount reads the single value printed by a batch-mode COUNT(*) query.
func parseCount(out string) (int, error) {
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty schema query result")
	}
	n, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return 0, fmt.Errorf("unexpected schema query result %q", strings.TrimSpace(out))
	}
	return n, nil
}

func checkIdentifier(name string) error {
	if !identifier.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}
