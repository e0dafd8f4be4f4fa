// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sink implements atomic, idempotent materialization of a
// resource's decoded files to a directory on disk, per spec.md §4.4.
//
// The temp-file-then-rename idiom is standard Go; the addition here is
// a per-directory advisory file lock via github.com/gofrs/flock,
// grounded on giantswarm-k8senv's internal/crdcache/lock.go
// (acquireFileLock/releaseFileLock), so two writers targeting the same
// shared volume never interleave writes to one resource's directory.
package sink

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"
)

// Kind classifies a Sink failure per spec.md §4.4.
type Kind string

const (
	PathUnwritable Kind = "PATH_UNWRITABLE"
	DiskFull       Kind = "DISK_FULL"
	ModeInvalid    Kind = "MODE_INVALID"
)

// Error wraps a Sink failure with its classification and the path
// that triggered it, so the Dispatcher can log with ResourceRef
// context without string-matching (spec.md §7).
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("sink: %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Batch is a resolved (path → bytes) write for a single resource
// event; Dir is the directory the Dispatcher computed (root/namespace
// or root/namespace/name, per spec.md §4.3 step 5), Files maps the
// final filename (already disambiguated for uniqueFilenames mode) to
// its content.
type Batch struct {
	Dir   string
	Files map[string][]byte
	Mode  os.FileMode
}

// Sink writes Batches atomically.
type Sink struct{}

// New returns a ready-to-use Sink. It is stateless; all coordination
// happens through on-disk file locks scoped to each target directory.
func New() *Sink {
	return &Sink{}
}

// Write applies one Batch: it creates Dir (and parents) with mode
// 0755 if necessary, takes an advisory lock on a sibling lock file,
// then writes every entry via a temp-file-in-same-dir, fsync, rename
// sequence so that a partially written file is never observable
// (spec.md invariant (iii)).
func (s *Sink) Write(b Batch) error {
	if b.Mode == 0 {
		return &Error{Kind: ModeInvalid, Path: b.Dir, Err: fmt.Errorf("file mode must be non-zero")}
	}
	if err := os.MkdirAll(b.Dir, 0o755); err != nil {
		return &Error{Kind: PathUnwritable, Path: b.Dir, Err: err}
	}

	lockPath := filepath.Join(b.Dir, ".k8s-watcher.lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return &Error{Kind: PathUnwritable, Path: lockPath, Err: err}
	}
	defer fl.Unlock()

	for name, content := range b.Files {
		path := filepath.Join(b.Dir, name)
		if err := writeFileAtomic(path, content, b.Mode); err != nil {
			return err
		}
	}
	return nil
}

// writeFileAtomic skips the rewrite if the existing file already has
// identical content and mode (spec.md §4.4's optional optimization),
// otherwise writes to a temp file in the same directory, fsyncs it,
// and renames it over the destination.
func writeFileAtomic(path string, content []byte, mode os.FileMode) error {
	if unchanged(path, content, mode) {
		return nil
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return &Error{Kind: PathUnwritable, Path: path, Err: err}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed away

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		if isDiskFull(err) {
			return &Error{Kind: DiskFull, Path: path, Err: err}
		}
		return &Error{Kind: PathUnwritable, Path: path, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &Error{Kind: PathUnwritable, Path: path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &Error{Kind: PathUnwritable, Path: path, Err: err}
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return &Error{Kind: ModeInvalid, Path: path, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &Error{Kind: PathUnwritable, Path: path, Err: err}
	}
	return nil
}

func unchanged(path string, content []byte, mode os.FileMode) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Mode().Perm() != mode.Perm() {
		return false
	}
	existing, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if len(existing) != len(content) {
		return false
	}
	for i := range existing {
		if existing[i] != content[i] {
			return false
		}
	}
	return true
}

func isDiskFull(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EDQUOT)
}
