package volumes

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/pkg/archive"
	"github.com/zeebo/blake3"

	"github.com/melih/lighthouse-appliance/internal/core/domain"
	"github.com/melih/lighthouse-appliance/internal/gatekeeper"
	"github.com/melih/lighthouse-appliance/internal/logger"
)

const (
	archivePrefix    = "backup-"
	archiveSuffix    = ".tar.gz"
	checksumSuffix   = ".blake3"
	archiveTimeFmt   = "20060102-150405"
	stagingDirMarker = ".restore-"
)

// ErrChecksumMismatch means an archive does not match its checksum sidecar.
var ErrChecksumMismatch = errors.New("backup checksum mismatch")

// Archiver snapshots and restores every volume of a Layout.
type Archiver struct {
	layout    *Layout
	backupDir string
	now       func() time.Time
}

// NewArchiver creates an Archiver writing to backupDir.
func NewArchiver(layout *Layout, backupDir string) *Archiver {
	return &Archiver{layout: layout, backupDir: backupDir, now: time.Now}
}

// WithClock overrides the timestamp source for archive names.
func (a *Archiver) WithClock(now func() time.Time) *Archiver {
	a.now = now
	return a
}

// BackupDir returns where archives are written.
func (a *Archiver) BackupDir() string { return a.backupDir }

// Backup packs every volume and the init marker into a timestamped gzip tarball and
// writes its checksum next to it. Services must be quiesced by the caller.
func (a *Archiver) Backup(ctx context.Context) (domain.BackupArchive, error) {
	if err := os.MkdirAll(a.backupDir, 0700); err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to create backup directory: %w", err)
	}

	includes, err := a.includes()
	if err != nil {
		return domain.BackupArchive{}, err
	}
	if len(includes) == 0 {
		return domain.BackupArchive{}, fmt.Errorf("nothing to back up under %s", a.layout.Root())
	}

	created := a.now().UTC()
	name := archivePrefix + created.Format(archiveTimeFmt) + archiveSuffix
	final := filepath.Join(a.backupDir, name)
	if _, err := os.Stat(final); err == nil {
		return domain.BackupArchive{}, fmt.Errorf("backup %s already exists", name)
	}

	logger.InfoCtx(ctx, "creating backup", "archive", final, "volumes", includes)

	stream, err := archive.TarWithOptions(a.layout.Root(), &archive.TarOptions{
		Compression:  archive.Gzip,
		IncludeFiles: includes,
	})
	if err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to pack volumes: %w", err)
	}
	defer stream.Close()

	tmp, err := os.CreateTemp(a.backupDir, name+".partial-*")
	if err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to create archive: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), stream)
	if err != nil {
		tmp.Close()
		return domain.BackupArchive{}, fmt.Errorf("failed to write archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return domain.BackupArchive{}, fmt.Errorf("failed to sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to set archive permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return domain.BackupArchive{}, fmt.Errorf("failed to finalize archive: %w", err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if err := writeChecksum(final, sum); err != nil {
		return domain.BackupArchive{}, err
	}

	return domain.BackupArchive{
		Name:      name,
		Path:      final,
		Size:      size,
		Checksum:  sum,
		CreatedAt: created,
	}, nil
}

// Restore replaces every volume with the archive's content. The archive is unpacked
// into a staging directory first; live volumes are only touched once that succeeded.
// The container must be stopped or removed by the caller.
func (a *Archiver) Restore(ctx context.Context, archivePath string) error {
	if err := VerifyChecksum(archivePath); err != nil {
		return err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	root := a.layout.Root()
	if err := os.MkdirAll(filepath.Dir(root), 0755); err != nil {
		return fmt.Errorf("failed to create data root parent: %w", err)
	}
	staging := root + stagingDirMarker + a.now().UTC().Format(archiveTimeFmt)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	logger.InfoCtx(ctx, "unpacking archive", "archive", archivePath, "staging", staging)
	if err := archive.Untar(f, staging, &archive.TarOptions{}); err != nil {
		return fmt.Errorf("failed to unpack archive: %w", err)
	}

	found := 0
	for _, v := range a.layout.Volumes() {
		if _, err := os.Stat(filepath.Join(staging, v.Name)); err == nil {
			found++
		}
	}
	if found == 0 {
		return fmt.Errorf("%s contains no appliance volumes", archivePath)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create data root: %w", err)
	}
	for _, name := range a.entries() {
		live := filepath.Join(root, name)
		staged := filepath.Join(staging, name)

		if err := os.RemoveAll(live); err != nil {
			return fmt.Errorf("failed to clear %s: %w", name, err)
		}
		if _, err := os.Lstat(staged); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := os.Rename(staged, live); err != nil {
			return fmt.Errorf("failed to restore %s: %w", name, err)
		}
	}

	// volumes absent from the archive come back empty
	return a.layout.EnsureDirs()
}

// List returns the archives in the backup directory, newest first.
func (a *Archiver) List() ([]domain.BackupArchive, error) {
	entries, err := os.ReadDir(a.backupDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var archives []domain.BackupArchive
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, archivePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(a.backupDir, name)
		sum, _ := readChecksum(path)
		archives = append(archives, domain.BackupArchive{
			Name:      name,
			Path:      path,
			Size:      info.Size(),
			Checksum:  sum,
			CreatedAt: info.ModTime(),
		})
	}

	sort.Slice(archives, func(i, j int) bool {
		return archives[i].CreatedAt.After(archives[j].CreatedAt)
	})
	return archives, nil
}

// Prune removes archives older than retention and returns their names.
func (a *Archiver) Prune(ctx context.Context, retention time.Duration) ([]string, error) {
	archives, err := a.List()
	if err != nil {
		return nil, err
	}

	cutoff := a.now().Add(-retention)
	var removed []string
	for _, arc := range archives {
		if !arc.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(arc.Path); err != nil {
			logger.WarnCtx(ctx, "failed to prune backup", "archive", arc.Name, logger.KeyError, err)
			continue
		}
		_ = os.Remove(arc.Path + checksumSuffix)
		removed = append(removed, arc.Name)
	}
	if len(removed) > 0 {
		logger.InfoCtx(ctx, "pruned old backups", "count", len(removed), "retention", retention)
	}
	return removed, nil
}

// entries are the top-level names a backup may contain.
func (a *Archiver) entries() []string {
	names := make([]string, 0, len(a.layout.Volumes())+1)
	for _, v := range a.layout.Volumes() {
		names = append(names, v.Name)
	}
	return append(names, gatekeeper.MarkerFile)
}

func (a *Archiver) includes() ([]string, error) {
	var present []string
	for _, name := range a.entries() {
		_, err := os.Lstat(filepath.Join(a.layout.Root(), name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", name, err)
		}
		present = append(present, name)
	}
	return present, nil
}
