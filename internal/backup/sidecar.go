// Snapvault - Encrypted Database Backup Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/snapvault

package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/goccy/go-json"
)

// writeFileAtomic writes data to a temp file next to path, syncs it and
// renames it into place. The temp file is removed on failure.
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp := path + ".tmp"
	//nolint:gosec // G304: path is inside the engine-owned backup root
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()      //nolint:errcheck // already failing
			_ = os.Remove(tmp) //nolint:errcheck // best effort cleanup
		}
	}()

	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// classifyWriteError maps ENOSPC onto ErrDiskFull.
func classifyWriteError(op string, err error) error {
	if errors.Is(err, syscall.ENOSPC) {
		return fmt.Errorf("%s: %w: %w", op, ErrDiskFull, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// checksumFile returns the hex SHA-256 digest and size of the file at path.
//
//nolint:gosec // G304: path is inside the engine-owned backup root
func checksumFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close() //nolint:errcheck // read-only

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

func writeHashSidecar(a *Artifact, write writeFunc) error {
	return write(a.HashPath(), []byte(a.Digest), filePerm)
}

// readHashSidecar returns the stored digest. Surrounding whitespace is
// ignored so a hand-copied sidecar still verifies.
func readHashSidecar(path string) (string, error) {
	//nolint:gosec // G304: path is inside the engine-owned backup root
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeMetaSidecar(a *Artifact, write writeFunc) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return write(a.MetaPath(), data, filePerm)
}

// readMetaSidecar loads the artifact described by the .meta file at path.
func readMetaSidecar(path string) (*Artifact, error) {
	//nolint:gosec // G304: path is inside the engine-owned backup root
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	a.dir = filepath.Dir(path)

	if want := strings.TrimSuffix(filepath.Base(path), metaExt); a.Filename != want {
		return nil, fmt.Errorf("metadata %s names %q", filepath.Base(path), a.Filename)
	}
	return &a, nil
}

// removeIfExists deletes path, treating a missing file as success.
func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// removeArtifactFiles deletes the payload and both sidecars. The .meta is
// removed last so a partially deleted artifact stays visible to listing.
func removeArtifactFiles(a *Artifact) error {
	for _, p := range []string{a.Path(), a.Path() + ".tmp", a.HashPath(), a.HashPath() + ".tmp"} {
		if err := removeIfExists(p); err != nil {
			return err
		}
	}
	if err := removeIfExists(a.MetaPath() + ".tmp"); err != nil {
		return err
	}
	return removeIfExists(a.MetaPath())
}
