// Package gatekeeper decides whether the appliance's one-time setup may run.
//
// Two independent sources are consulted after the database reports ready: the host
// side database directory and the live schema. The schema is authoritative. Setup
// runs only when both say "nothing here" and no init marker claims otherwise.
package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/core/ports"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

// Verdict is the gatekeeper's decision and the evidence behind it.
type Verdict struct {
	Decision        domain.Decision
	DataDirNonEmpty bool
	SchemaPresent   bool
	Marker          *domain.InitMarker
	// TableCounts holds row counts of the key tables that exist.
	TableCounts map[string]int
	Warnings    []string
}

// Decide applies the decision table. schemaPresent always wins over the directory.
func Decide(dataDirNonEmpty, schemaPresent bool) domain.Decision {
	switch {
	case schemaPresent:
		return domain.DecisionSkip
	case dataDirNonEmpty:
		return domain.DecisionWarn
	default:
		return domain.DecisionInit
	}
}

// Gatekeeper evaluates persisted state.
type Gatekeeper struct {
	dataDir   string
	schema    ports.SchemaInspector
	markers   *MarkerStore
	keyTables []string
}

// New creates a Gatekeeper. dataDir is the host path of the database volume.
func New(dataDir string, schema ports.SchemaInspector, markers *MarkerStore, keyTables []string) *Gatekeeper {
	return &Gatekeeper{dataDir: dataDir, schema: schema, markers: markers, keyTables: keyTables}
}

// DataDirNonEmpty samples the database volume. Take the sample before the database
// process starts: a booting server writes its system files into the directory
// before it answers a ping.
func (g *Gatekeeper) DataDirNonEmpty() (bool, error) {
	return DirNonEmpty(g.dataDir)
}

// Evaluate must only be called once the database answers its ping. nonEmpty is the
// DataDirNonEmpty sample taken before the container started.
func (g *Gatekeeper) Evaluate(ctx context.Context, nonEmpty bool) (Verdict, error) {
	v := Verdict{TableCounts: map[string]int{}, DataDirNonEmpty: nonEmpty}

	marker, err := g.markers.Read()
	if err != nil {
		// a corrupt marker is only advisory evidence
		logger.WarnCtx(ctx, "ignoring unreadable init marker", logger.KeyError, err)
		v.Warnings = append(v.Warnings, fmt.Sprintf("init marker unreadable: %v", err))
	}
	v.Marker = marker

	present, missing, err := g.tables(ctx, &v)
	if err != nil {
		if !nonEmpty {
			// never fall through to INIT on an unanswered schema query
			return v, fmt.Errorf("cannot verify schema on an empty data directory: %w", err)
		}
		v.Decision = domain.DecisionWarn
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"schema check failed (%v); starting against existing data without initialization", err))
		return v, nil
	}
	v.SchemaPresent = present > 0

	v.Decision = Decide(nonEmpty, v.SchemaPresent)

	switch {
	case v.SchemaPresent && len(missing) > 0:
		v.Decision = domain.DecisionWarn
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"schema is incomplete, missing tables %v; restore from backup if the panel misbehaves", missing))
	case v.Decision == domain.DecisionWarn:
		v.Warnings = append(v.Warnings,
			"database directory has content but the application schema is missing; the data may be corrupt. "+
				"Services were started without initialization. Restore from a backup to recover")
	case v.Decision == domain.DecisionInit && marker != nil && marker.Initialized:
		v.Decision = domain.DecisionWarn
		v.Warnings = append(v.Warnings, fmt.Sprintf(
			"init marker from %s says the appliance was initialized, but the database is empty. "+
				"Restore from a backup, or remove %s to allow a fresh initialization",
			marker.Timestamp.Format(time.RFC3339), g.markers.Path()))
	}

	logger.InfoCtx(ctx, "initialization decision",
		"decision", v.Decision.String(),
		"data_dir_non_empty", v.DataDirNonEmpty,
		"schema_present", v.SchemaPresent,
		"marker_present", marker != nil)
	return v, nil
}

// RecordInit writes the marker after a successful first-time setup.
func (g *Gatekeeper) RecordInit(p domain.Ports, at time.Time) error {
	return g.markers.Write(domain.InitMarker{
		Timestamp:   at.UTC(),
		PortsAtInit: p,
		Initialized: true,
	})
}

// tables checks every key table and counts the rows of those present.
func (g *Gatekeeper) tables(ctx context.Context, v *Verdict) (present int, missing []string, err error) {
	for _, table := range g.keyTables {
		ok, err := g.schema.TablePresent(ctx, table)
		if err != nil {
			return 0, nil, err
		}
		if !ok {
			missing = append(missing, table)
			continue
		}
		present++

		n, err := g.schema.RowCount(ctx, table)
		if err != nil {
			logger.WarnCtx(ctx, "failed to count rows", "table", table, logger.KeyError, err)
			continue
		}
		v.TableCounts[table] = n
	}
	return present, missing, nil
}

// DirNonEmpty reports whether dir holds anything besides lost+found. A missing
// directory is empty.
func DirNonEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read data directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.Name() != "lost+found" {
			return true, nil
		}
	}
	return false, nil
}
