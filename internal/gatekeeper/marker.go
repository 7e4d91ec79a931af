package gatekeeper

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
)

// MarkerFile is the init marker's name inside the data root.
const MarkerFile = ".lighthouse-init.json"

// MarkerStore reads and writes the init marker.
type MarkerStore struct {
	path string
}

// NewMarkerStore returns a store for the marker inside dataRoot.
func NewMarkerStore(dataRoot string) *MarkerStore {
	return &MarkerStore{path: filepath.Join(dataRoot, MarkerFile)}
}

// Path returns the marker location.
func (m *MarkerStore) Path() string { return m.path }

// Read returns nil when no marker exists.
func (m *MarkerStore) Read() (*domain.InitMarker, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read init marker: %w", err)
	}

	var marker domain.InitMarker
	if err := json.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("failed to parse init marker %s: %w", m.path, err)
	}
	return &marker, nil
}

// Write persists marker atomically.
func (m *MarkerStore) Write(marker domain.InitMarker) error {
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode init marker: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write init marker: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write init marker: %w", err)
	}
	return nil
}
