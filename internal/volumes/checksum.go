package volumes

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// Checksum returns the hex BLAKE3 digest of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum compares an archive with its sidecar. Archives without a sidecar
// (copied in by hand) pass.
func VerifyChecksum(archivePath string) error {
	want, err := readChecksum(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	got, err := Checksum(archivePath)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s has %s, sidecar says %s", ErrChecksumMismatch, filepath.Base(archivePath), got, want)
	}
	return nil
}

// writeChecksum writes "<digest>  <name>" like b3sum.
func writeChecksum(archivePath, sum string) error {
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(archivePath))
	if err := os.WriteFile(archivePath+checksumSuffix, []byte(line), 0600); err != nil {
		return fmt.Errorf("failed to write checksum: %w", err)
	}
	return nil
}

func readChecksum(archivePath string) (string, error) {
	data, err := os.ReadFile(archivePath + checksumSuffix)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file for %s", filepath.Base(archivePath))
	}
	return fields[0], nil
}
