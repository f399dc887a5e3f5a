// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FormatVersion identifies an MPQ header layout.
type FormatVersion int

const (
	FormatV1 FormatVersion = iota // original, up to 4GB, 32-byte header
	FormatV2                      // 64-bit offsets, 44-byte header (TBC+)
	FormatV3                      // HET/BET tables, 68-byte header (Cataclysm+)
	FormatV4                      // per-table MD5s, compressed tables, 208-byte header
)

func (v FormatVersion) String() string {
	switch v {
	case FormatV1:
		return "v1"
	case FormatV2:
		return "v2"
	case FormatV3:
		return "v3"
	case FormatV4:
		return "v4"
	default:
		return "unknown"
	}
}

// Option configures Open, OpenMutable, and OpenPatchChain. The builder
// takes BuilderOption instead.
type Option func(*options)

type options struct {
	logger     *zap.Logger
	limits     SecurityLimits
	locale     uint16
	pool       *BufferPool
	loadTables bool
}

func defaultOptions() *options {
	return &options{
		logger:     nopLogger,
		limits:     DefaultSecurityLimits,
		locale:     localeNeutral,
		pool:       NewBufferPool(),
		loadTables: true,
	}
}

// WithLogger attaches a zap.Logger for structured diagnostics. The default
// is a no-op logger, matching the teacher convention of never forcing
// output on a caller that didn't ask for it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSecurityLimits overrides the decompression budget applied to every
// sector read from this archive.
func WithSecurityLimits(limits SecurityLimits) Option {
	return func(o *options) { o.limits = limits }
}

// WithLocale restricts FindFile/ReadFile/List to a specific locale's
// entries when an archive carries more than one localized copy of a file.
func WithLocale(locale uint16) Option {
	return func(o *options) { o.locale = locale }
}

// WithBufferPool stores a shared BufferPool in the archive's options. The
// read path allocates its own buffers and does not draw from this pool.
func WithBufferPool(pool *BufferPool) Option {
	return func(o *options) {
		if pool != nil {
			o.pool = pool
		}
	}
}

// WithLoadTables controls whether Open loads the hash/block and HET/BET
// tables. Defaults to true; callers inspecting a malformed archive (e.g. one
// whose tables fail to decode) can disable loading and fall back to header
// inspection alone.
func WithLoadTables(load bool) Option {
	return func(o *options) { o.loadTables = load }
}

// Info summarizes an open archive's layout, the kind of thing GetInfo
// reports for diagnostics or tooling without walking every table entry.
type Info struct {
	FormatVersion    FormatVersion
	SectorSize       uint32
	HashTableSize    uint32
	BlockTableSize   uint32
	HasHetBet        bool
	ArchiveOffset    uint64
	ArchiveSize      uint64
}

// Archive is a read-only, opened MPQ archive.
type Archive struct {
	file   *os.File
	path   string
	header *archiveHeader

	hashTable  []hashTableEntry
	blockTable []blockTableEntryEx
	het        *hetTable
	bet        *betTable

	opts *options
}

// Open opens path read-only and loads its header and tables.
func Open(path string, opts ...Option) (*Archive, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, newErr(KindIoError, "Open", path, err)
	}

	a, err := openFile(f, path, o)
	if err != nil {
		f.Close()
		return nil, err
	}
	return a, nil
}

func openFile(f *os.File, path string, o *options) (*Archive, error) {
	header, err := findArchiveHeader(f)
	if err != nil {
		return nil, newErr(KindInvalidFormat, "Open", path, err)
	}
	if header.FormatVersion > uint16(FormatV4) {
		return nil, wrapErr(KindUnsupportedVersion, "Open", path, "unsupported format version %d", header.FormatVersion)
	}

	a := &Archive{file: f, path: path, header: header, opts: o}

	if o.loadTables {
		if header.getHashTableOffset64() != 0 && header.HashTableSize != 0 {
			a.hashTable, err = loadHashTable(f, header)
			if err != nil {
				return nil, err
			}
		}
		if header.getBlockTableOffset64() != 0 && header.BlockTableSize != 0 {
			a.blockTable, err = loadBlockTable(f, header)
			if err != nil {
				return nil, err
			}
		}
		if header.hasHetBet() {
			a.het, err = readHetTable(f, header)
			if err != nil {
				o.logger.Warn("failed to read HET table, falling back to traditional hash table", zap.Error(err))
			}
			a.bet, err = readBetTable(f, header)
			if err != nil {
				o.logger.Warn("failed to read BET table, falling back to traditional block table", zap.Error(err))
			}
		}
	} else {
		o.logger.Debug("table loading disabled, archive opened header-only", zap.String("path", path))
	}

	o.logger.Debug("opened archive",
		zap.String("path", path),
		zap.String("version", FormatVersion(header.FormatVersion).String()),
		zap.Uint32("hashTableSize", header.HashTableSize),
		zap.Uint32("blockTableSize", header.BlockTableSize),
	)

	return a, nil
}

// Close releases the archive's file handle.
func (a *Archive) Close() error {
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}

// GetInfo returns a summary of the archive's layout.
func (a *Archive) GetInfo() Info {
	archiveSize := a.header.ArchiveSize64
	if archiveSize == 0 {
		archiveSize = a.header.getBlockTableOffset64() // conservative lower bound when ArchiveSize64 is unset
	}
	return Info{
		FormatVersion:  FormatVersion(a.header.FormatVersion),
		SectorSize:     a.header.sectorSize(),
		HashTableSize:  a.header.HashTableSize,
		BlockTableSize: a.header.BlockTableSize,
		HasHetBet:      a.header.hasHetBet(),
		ArchiveOffset:  a.header.ArchiveOffset,
		ArchiveSize:    archiveSize,
	}
}

// findFile resolves name to its block table entry, preferring HET/BET when
// the archive has it and falling back to the traditional tables.
func (a *Archive) findFile(name string) (*blockTableEntryEx, error) {
	name = toBackslash(name)

	if a.het != nil && a.bet != nil {
		if idx, ok := lookupHet(a.het, name); ok {
			rec, ok := a.bet.record(idx)
			if ok {
				return &blockTableEntryEx{
					blockTableEntry: blockTableEntry{
						FilePos:        uint32(rec.FilePos),
						CompressedSize: uint32(rec.CompressedSize),
						FileSize:       uint32(rec.FileSize),
						Flags:          rec.Flags,
					},
					FilePosHi: uint16(rec.FilePos >> 32),
				}, nil
			}
		}
	}

	idx, ok := lookupTraditional(a.hashTable, name, a.opts.locale, 0)
	if !ok {
		return nil, wrapErr(KindFileNotFound, "findFile", name, "file not found")
	}
	blockIdx := a.hashTable[idx].BlockIndex
	if int(blockIdx) >= len(a.blockTable) {
		return nil, wrapErr(KindInvalidFormat, "findFile", name, "hash table entry points past block table")
	}
	return &a.blockTable[blockIdx], nil
}

// FileEntry is the metadata FindFile resolves a name to: everything a
// caller needs to decide how to read (or skip) a member without yet
// reading its bytes.
type FileEntry struct {
	Name           string
	FileSize       uint32
	CompressedSize uint32
	Flags          uint32
}

// IsPatchFile reports whether e is a PATCH_FILE entry, readable only
// through a PatchChain.
func (e *FileEntry) IsPatchFile() bool { return e.Flags&filePatchFile != 0 }

// IsDeleteMarker reports whether e is a deletion tombstone rather than a
// live file.
func (e *FileEntry) IsDeleteMarker() bool { return e.Flags&fileDeleteMarker != 0 }

// IsEncrypted reports whether e's sectors are stored encrypted.
func (e *FileEntry) IsEncrypted() bool { return e.Flags&fileEncrypted != 0 }

// IsCompressed reports whether e's sectors are stored compressed.
func (e *FileEntry) IsCompressed() bool { return e.Flags&fileCompress != 0 }

// FindFile resolves name to its archive entry, preferring HET/BET when the
// archive carries it and falling back to the traditional hash/block
// tables. The second return reports whether name resolved at all; a
// resolved entry can still be a deletion marker or a patch file, see
// FileEntry.IsDeleteMarker and FileEntry.IsPatchFile.
func (a *Archive) FindFile(name string) (*FileEntry, bool) {
	block, err := a.findFile(name)
	if err != nil {
		return nil, false
	}
	return &FileEntry{
		Name:           toBackslash(name),
		FileSize:       block.FileSize,
		CompressedSize: block.CompressedSize,
		Flags:          block.Flags,
	}, true
}

// HasFile reports whether name resolves to a live (non-deleted) entry.
func (a *Archive) HasFile(name string) bool {
	e, ok := a.FindFile(name)
	return ok && !e.IsDeleteMarker()
}

// IsPatchFile reports whether name's entry carries the PATCH_FILE flag.
func (a *Archive) IsPatchFile(name string) bool {
	block, err := a.findFile(name)
	return err == nil && block.Flags&filePatchFile != 0
}

// IsDeleteMarker reports whether name's entry is a deletion tombstone.
func (a *Archive) IsDeleteMarker(name string) bool {
	block, err := a.findFile(name)
	return err == nil && block.Flags&fileDeleteMarker != 0
}

// ReadFile extracts and returns the full contents of name.
//
// A direct read of a PATCH_FILE entry fails with KindPatchFileRequiresChain:
// patch entries only make sense applied on top of a base file via
// PatchChain.ExtractFile.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	block, err := a.findFile(name)
	if err != nil {
		return nil, err
	}
	return a.readBlock(name, block)
}

func (a *Archive) readBlock(name string, block *blockTableEntryEx) ([]byte, error) {
	if block.Flags&fileDeleteMarker != 0 {
		return nil, wrapErr(KindFileNotFound, "ReadFile", name, "file is a deletion marker")
	}
	if block.Flags&filePatchFile != 0 {
		return nil, wrapErr(KindPatchFileRequiresChain, "ReadFile", name, "patch entry requires a PatchChain")
	}
	return a.readBlockBytes(name, block)
}

// readPatchPayload reads a PATCH_FILE entry's raw (PTCH-format) bytes,
// bypassing the KindPatchFileRequiresChain guard readBlock enforces for
// ordinary reads. Its callers are PatchChain.ExtractFile and
// MutableArchive's carry-forward of existing patch entries on Flush.
func (a *Archive) readPatchPayload(name string, block *blockTableEntryEx) ([]byte, error) {
	if block.Flags&filePatchFile == 0 {
		return nil, wrapErr(KindInvalidFormat, "readPatchPayload", name, "entry is not a patch file")
	}
	return a.readBlockBytes(name, block)
}

func (a *Archive) readBlockBytes(name string, block *blockTableEntryEx) ([]byte, error) {
	blockStart := int64(block.getFilePos64() + a.header.ArchiveOffset)
	key := uint32(0)
	if block.Flags&fileEncrypted != 0 {
		key = getFileKey(baseName(name), block.getFilePos64(), block.FileSize, block.Flags)
	}

	if block.Flags&fileSingleUnit != 0 {
		return a.readSingleUnit(blockStart, block, key)
	}

	sectorSize := a.header.sectorSize()
	plan, err := readSectorPlan(a.file, blockStart, block.FileSize, sectorSize, block.Flags, key)
	if err != nil {
		return nil, err
	}
	if len(plan.offsets) == 0 {
		return nil, nil
	}

	out := make([]byte, 0, block.FileSize)
	n := sectorCount(block.FileSize, sectorSize)
	for i := 0; i < n; i++ {
		sector, err := readSector(a.file, blockStart, plan, i, block.Flags, key, a.opts.limits)
		if err != nil {
			return nil, err
		}
		out = append(out, sector...)
	}
	if uint32(len(out)) > block.FileSize {
		out = out[:block.FileSize] // drop the word padding added for encryption
	}
	return out, nil
}

func (a *Archive) readSingleUnit(blockStart int64, block *blockTableEntryEx, key uint32) ([]byte, error) {
	raw := make([]byte, block.CompressedSize)
	if _, err := a.file.Seek(blockStart, io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "ReadFile", "", err)
	}
	if _, err := io.ReadFull(a.file, raw); err != nil {
		return nil, newErr(KindIoError, "ReadFile", "", err)
	}

	if block.Flags&fileEncrypted != 0 {
		decryptBytes(raw, key)
	}

	if block.Flags&(fileCompress|fileImplode) == 0 || block.CompressedSize == block.FileSize {
		if uint32(len(raw)) > block.FileSize {
			raw = raw[:block.FileSize] // drop the word padding added for encryption
		}
		return raw, nil
	}
	return decompressData(raw, block.FileSize, a.opts.limits)
}

func (a *Archive) listfileNames() ([]string, error) {
	data, err := a.ReadFile("(listfile)")
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out, nil
}

// List returns the names of every currently-resolvable, non-deleted member
// named in (listfile), one path per line. An archive carrying no
// (listfile) returns the error ReadFile("(listfile)") produces.
func (a *Archive) List() ([]string, error) {
	names, err := a.listfileNames()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(names))
	for _, n := range names {
		if a.HasFile(n) {
			out = append(out, n)
		}
	}
	return out, nil
}

// ListAll returns every name in (listfile), trimmed and sorted, including names whose
// entries no longer resolve to a live file (e.g. stale listfile entries in
// a hand-edited or malformed archive). Use List for the common case of
// "what can I actually read right now".
func (a *Archive) ListAll() ([]string, error) {
	return a.listfileNames()
}
