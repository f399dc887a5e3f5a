// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
)

type editKind int

const (
	editAdd editKind = iota
	editRemove
	editRename
)

type pendingEdit struct {
	kind    editKind
	name    string
	newName string
	data    []byte
	opts    AddFileOptions
}

// MutableArchive wraps a read-only Archive with a staged edit queue and an
// exclusive file lock, the way a caller that needs to add, replace, rename,
// or remove files from an existing archive does it: edits accumulate in
// memory and Flush rebuilds the whole archive in one pass, the same
// plan-then-emit approach Builder uses, so the two never drift apart.
type MutableArchive struct {
	archive *Archive
	path    string
	lock    *flock.Flock
	opts    *options

	edits []pendingEdit
}

// OpenMutable opens path for modification. It takes an exclusive lock on a
// sibling .lock file for the duration, so concurrent MutableArchive opens
// against the same archive fail fast rather than racing on Flush.
func OpenMutable(path string, opts ...Option) (*MutableArchive, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, newErr(KindIoError, "OpenMutable", path, err)
	}
	if !locked {
		return nil, wrapErr(KindLocked, "OpenMutable", path, "archive is locked by another process")
	}

	a, err := Open(path, func(oo *options) { *oo = *o })
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	return &MutableArchive{archive: a, path: path, lock: lock, opts: o}, nil
}

// Close releases the archive handle and the exclusive lock. Pending edits
// not yet Flushed are discarded.
func (m *MutableArchive) Close() error {
	err := m.archive.Close()
	if unlockErr := m.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// AddFile stages name for addition or replacement with the given content.
// A later edit to the same name overrides an earlier one; both add over
// add and add over a pending remove are allowed.
func (m *MutableArchive) AddFile(name string, data []byte, opts AddFileOptions) {
	name = toBackslash(name)
	m.edits = append(m.edits, pendingEdit{kind: editAdd, name: name, data: data, opts: opts})
}

// RemoveFile stages name for removal.
func (m *MutableArchive) RemoveFile(name string) {
	name = toBackslash(name)
	m.edits = append(m.edits, pendingEdit{kind: editRemove, name: name})
}

// RenameFile stages name to be renamed to newName, carrying its content and
// flags across under the new name.
func (m *MutableArchive) RenameFile(name, newName string) {
	m.edits = append(m.edits, pendingEdit{kind: editRename, name: toBackslash(name), newName: toBackslash(newName)})
}

// HasPendingEdits reports whether any staged edit is waiting on Flush.
func (m *MutableArchive) HasPendingEdits() bool { return len(m.edits) > 0 }

type liveFile struct {
	name string
	data []byte
	opts AddFileOptions
}

// resolveLiveSet replays the archive's current file list plus every staged
// edit, in order, producing the final name -> content mapping Flush should
// write. Special files ((listfile), (attributes), (signature)) are excluded
// since the rebuild regenerates them.
func (m *MutableArchive) resolveLiveSet() (map[string]*liveFile, []string, error) {
	names, err := m.archive.List()
	if err != nil {
		names = nil
	}

	order := make([]string, 0, len(names))
	live := make(map[string]*liveFile, len(names))

	for _, n := range names {
		n = toBackslash(n)
		if isSpecialFile(n) {
			continue
		}
		if !m.archive.HasFile(n) {
			continue
		}
		lf, err := m.readExisting(n)
		if err != nil {
			return nil, nil, err
		}
		if _, exists := live[n]; !exists {
			order = append(order, n)
		}
		live[n] = lf
	}

	for _, e := range m.edits {
		switch e.kind {
		case editAdd:
			if _, exists := live[e.name]; !exists {
				order = append(order, e.name)
			}
			live[e.name] = &liveFile{name: e.name, data: e.data, opts: e.opts}
		case editRemove:
			if _, exists := live[e.name]; exists {
				delete(live, e.name)
				order = removeName(order, e.name)
			}
		case editRename:
			lf, exists := live[e.name]
			if !exists {
				continue
			}
			delete(live, e.name)
			order = removeName(order, e.name)
			renamed := &liveFile{name: e.newName, data: lf.data, opts: lf.opts}
			if _, exists := live[e.newName]; !exists {
				order = append(order, e.newName)
			}
			live[e.newName] = renamed
		}
	}

	return live, order, nil
}

func removeName(order []string, name string) []string {
	for i, n := range order {
		if n == name {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

func isSpecialFile(name string) bool {
	switch name {
	case "(listfile)", "(attributes)", "(signature)":
		return true
	default:
		return false
	}
}

// readExisting reads name's content and the AddFileOptions that reproduce
// its storage flags. Patch-file entries are read via the raw-payload path
// since their content is already a PTCH-format blob, not a plain file.
func (m *MutableArchive) readExisting(name string) (*liveFile, error) {
	block, err := m.archive.findFile(name)
	if err != nil {
		return nil, err
	}

	var data []byte
	if block.Flags&filePatchFile != 0 {
		data, err = m.archive.readPatchPayload(name, block)
	} else {
		data, err = m.archive.readBlock(name, block)
	}
	if err != nil {
		return nil, err
	}

	opts := AddFileOptions{
		Compress:   block.Flags&(fileCompress|fileImplode) != 0,
		Encrypt:    block.Flags&fileEncrypted != 0,
		FixKey:     block.Flags&fileFixKey != 0,
		SingleUnit: block.Flags&fileSingleUnit != 0,
		PatchFile:  block.Flags&filePatchFile != 0,
	}
	return &liveFile{name: name, data: data, opts: opts}, nil
}

// Flush rebuilds the archive with every staged edit applied and atomically
// replaces the file on disk, then reopens it so the MutableArchive stays
// usable for further edits. This is a full rewrite rather than an in-place
// append: MPQ's table-then-data layout makes append-without-relocation only
// a partial optimization (it still requires rewriting the tables every
// time), and a single rebuild path is far less likely to corrupt an archive
// than two separate append and relocate code paths.
func (m *MutableArchive) Flush() error {
	live, order, err := m.resolveLiveSet()
	if err != nil {
		return wrapErr(KindPoisonedPlan, "Flush", m.path, "failed to resolve staged edits: %v", err)
	}

	info := m.archive.GetInfo()
	b := NewBuilder(info.FormatVersion, WithBuilderLogger(m.opts.logger), func(bb *Builder) {
		bb.sectorSizeShift = uint16(log2(info.SectorSize))
	})

	sort.Strings(order)
	for _, name := range order {
		lf := live[name]
		if err := b.AddBytes(lf.name, lf.data, lf.opts); err != nil {
			return wrapErr(KindPoisonedPlan, "Flush", m.path, "failed to stage %q for rebuild: %v", lf.name, err)
		}
	}

	data, err := b.Build()
	if err != nil {
		return newErr(KindIoError, "Flush", m.path, err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".mpq-flush-*")
	if err != nil {
		return newErr(KindIoError, "Flush", m.path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return newErr(KindIoError, "Flush", m.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return newErr(KindIoError, "Flush", m.path, err)
	}

	if err := m.archive.Close(); err != nil {
		os.Remove(tmpPath)
		return newErr(KindIoError, "Flush", m.path, err)
	}

	if err := os.Rename(tmpPath, m.path); err != nil {
		return newErr(KindIoError, "Flush", m.path, err)
	}

	reopened, err := Open(m.path, func(oo *options) { *oo = *m.opts })
	if err != nil {
		return newErr(KindIoError, "Flush", m.path, err)
	}
	m.archive = reopened
	m.edits = nil

	m.opts.logger.Debug("flushed mutable archive", zap.String("path", m.path), zap.Int("fileCount", len(order)))
	return nil
}

// Compact forces a full rebuild even with no staged edits, dropping any
// dead space left by earlier removals. Flush already rewrites the archive
// from scratch, so Compact is just Flush without requiring the caller to
// stage a no-op edit first.
func (m *MutableArchive) Compact() error {
	return m.Flush()
}

func log2(n uint32) uint32 {
	var shift uint32
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}
