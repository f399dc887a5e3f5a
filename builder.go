// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/rsa"
	"encoding/binary"
	"os"

	"go.uber.org/zap"
)

// AddFileOptions controls how a single file is stored by Builder.AddBytes.
type AddFileOptions struct {
	Compress   bool   // apply CompressionMethod per sector
	Method     byte   // compression method bitmask; defaults to zlib when Compress is set and Method is 0
	Encrypt    bool
	FixKey     bool // KEY-ADJUSTED: perturb the encryption key with block offset/size
	SingleUnit bool
	PatchFile  bool
	Locale     uint16
}

type builderFile struct {
	name string
	data []byte
	opts AddFileOptions
}

// ListfilePolicy controls whether and how Build synthesizes the
// (listfile) special file.
type ListfilePolicy int

const (
	// ListfileGenerate derives (listfile) from the names passed to
	// AddBytes, plus the listfile's own name and the attributes file's
	// name when attributes are enabled. Default.
	ListfileGenerate ListfilePolicy = iota
	// ListfileNone omits (listfile) entirely; the archive carries no
	// file listing of its own.
	ListfileNone
	// ListfileExternal skips auto-generation because the caller already
	// staged its own (listfile) via AddBytes.
	ListfileExternal
)

// Builder plans and emits a complete MPQ archive in two passes: AddBytes
// collects inputs, Build lays out the header, tables, and file data, then
// serializes everything in one pass since offsets are now all known.
type Builder struct {
	version         FormatVersion
	sectorSizeShift uint16
	files           []builderFile
	attributesFlags uint32
	listfilePolicy  ListfilePolicy
	strongKey       *rsa.PrivateKey
	logger          *zap.Logger
	limits          SecurityLimits
}

// BuilderOption configures a Builder at construction time.
type BuilderOption func(*Builder)

// WithListfilePolicy controls whether Build synthesizes a (listfile)
// special file. Defaults to ListfileGenerate.
func WithListfilePolicy(p ListfilePolicy) BuilderOption {
	return func(b *Builder) { b.listfilePolicy = p }
}

// WithBuilderLogger attaches a logger for build diagnostics.
func WithBuilderLogger(l *zap.Logger) BuilderOption {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithSectorSizeShift overrides the default sector size (4096 bytes).
func WithSectorSizeShift(shift uint16) BuilderOption {
	return func(b *Builder) { b.sectorSizeShift = shift }
}

// WithAttributes sets which (attributes) columns are written, e.g.
// attributesFlagCRC32|attributesFlagMD5|attributesFlagTime. The flags
// replace the CRC32-only default; 0 omits (attributes) entirely.
func WithAttributes(flags uint32) BuilderOption {
	return func(b *Builder) { b.attributesFlags = flags }
}

// NewBuilder starts a new archive plan targeting the given format version.
func NewBuilder(version FormatVersion, opts ...BuilderOption) *Builder {
	b := &Builder{
		version:         version,
		sectorSizeShift: defaultSectorSizeShift,
		attributesFlags: attributesFlagCRC32,
		logger:          nopLogger,
		limits:          DefaultSecurityLimits,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddBytes stages a file for inclusion in the archive. name is normalized
// to backslashes; the mapping from name to block/hash table entry is
// computed during Build.
func (b *Builder) AddBytes(name string, data []byte, opts AddFileOptions) error {
	name = toBackslash(name)
	for _, f := range b.files {
		if f.name == name {
			return wrapErr(KindInvalidFormat, "AddBytes", name, "duplicate file name")
		}
	}
	if opts.Compress && opts.Method == 0 {
		opts.Method = compressionZlib
	}
	b.files = append(b.files, builderFile{name: name, data: data, opts: opts})
	return nil
}

// SignStrong arranges for the built archive to carry a strong
// (RSA-2048/SHA-1) signature appended after the archive body.
//
// Weak signatures live inside a (signature) special file whose own bytes
// participate in the digest it certifies, which requires laying out the
// archive body before the signature can be computed and then splicing it
// back in; this builder doesn't do that two-pass dance. Callers that need
// a weak signature can Build a chain without one, compute SignWeak over
// the result, and AddBytes("(signature)", ...) in a second Build pass.
func (b *Builder) SignStrong(key *rsa.PrivateKey) { b.strongKey = key }

type plannedFile struct {
	builderFile
	blockIdx   int
	sectorData []byte // fully assembled on-disk bytes: sector offset table + sectors, or single-unit payload
	flags      uint32
}

// Build lays out and serializes the archive, returning its bytes.
func (b *Builder) Build() ([]byte, error) {
	sectorSize := uint32(1) << b.sectorSizeShift

	userFiles := make([]builderFile, len(b.files))
	copy(userFiles, b.files)

	all := append([]builderFile{}, userFiles...)
	if b.listfilePolicy == ListfileGenerate {
		includeAttributes := b.attributesFlags != 0
		listfile := buildListfile(userFiles, includeAttributes)
		all = append(all, builderFile{
			name: "(listfile)",
			data: listfile,
			opts: AddFileOptions{Compress: true},
		})
	}

	aw := newAttributesWriter(len(all)+1, b.attributesFlags) // +1 for the attributes file's own slot
	planned := make([]plannedFile, len(all))

	for i, f := range all {
		pf, err := planFile(f, sectorSize, b.limits)
		if err != nil {
			return nil, err
		}
		pf.blockIdx = i
		planned[i] = pf
		aw.setEntry(i, f.data, 0)
	}

	attrData, err := aw.build()
	if err != nil {
		return nil, err
	}
	if attrData != nil {
		attrFile := builderFile{name: "(attributes)", data: attrData, opts: AddFileOptions{Compress: true}}
		pf, err := planFile(attrFile, sectorSize, b.limits)
		if err != nil {
			return nil, err
		}
		pf.blockIdx = len(planned)
		planned = append(planned, pf)
	}

	return b.emit(planned, sectorSize)
}

// buildListfile renders the (listfile) content: every user-added name plus
// the listfile's own entry and, when attributes generation is enabled, the
// (attributes) entry — both special files are archive members too and a
// caller walking list() must see them.
func buildListfile(files []builderFile, includeAttributes bool) []byte {
	var out []byte
	for _, f := range files {
		out = append(out, []byte(f.name)...)
		out = append(out, '\r', '\n')
	}
	out = append(out, []byte("(listfile)")...)
	out = append(out, '\r', '\n')
	if includeAttributes {
		out = append(out, []byte("(attributes)")...)
		out = append(out, '\r', '\n')
	}
	return out
}

// planFile compresses f's data into its final on-disk representation
// (single-unit payload, or a sector offset table followed by sectors),
// without yet knowing the file's absolute position in the archive.
func planFile(f builderFile, sectorSize uint32, limits SecurityLimits) (plannedFile, error) {
	var flags uint32
	if f.opts.Encrypt {
		flags |= fileEncrypted
	}
	if f.opts.FixKey {
		flags |= fileFixKey
	}
	if f.opts.PatchFile {
		flags |= filePatchFile
	}

	key := uint32(0)
	if f.opts.Encrypt {
		key = getFileKey(f.name, 0, uint32(len(f.data)), flags)
	}

	if f.opts.SingleUnit || len(f.data) <= int(sectorSize) {
		flags |= fileSingleUnit
		payload := f.data
		if f.opts.Compress && len(f.data) > 0 {
			compressed, err := compressData(f.data, f.opts.Method, limits)
			if err != nil {
				return plannedFile{}, err
			}
			if len(compressed) < len(f.data) {
				flags |= fileCompress
				payload = compressed
			}
		}
		if f.opts.Encrypt {
			payload = encryptCopy(payload, key)
		}
		return plannedFile{builderFile: f, sectorData: payload, flags: flags}, nil
	}

	n := sectorCount(uint32(len(f.data)), sectorSize)
	offsets := make([]uint32, n+1)
	var sectors []byte
	tableSize := uint32(n+1) * 4

	if f.opts.Compress {
		flags |= fileCompress
	}

	cur := tableSize
	for i := 0; i < n; i++ {
		start := i * int(sectorSize)
		end := start + int(sectorSize)
		if end > len(f.data) {
			end = len(f.data)
		}
		raw := f.data[start:end]

		var out []byte
		if f.opts.Compress {
			compressed, err := compressData(raw, f.opts.Method, limits)
			if err != nil {
				return plannedFile{}, err
			}
			if len(compressed) < len(raw) {
				out = compressed
			} else {
				out = raw
			}
		} else {
			out = raw
		}

		if f.opts.Encrypt {
			out = encryptCopy(out, key+uint32(i))
		}

		offsets[i] = cur
		sectors = append(sectors, out...)
		cur += uint32(len(out))
	}
	offsets[n] = cur

	tableBytes := writeSectorOffsetTable(offsets, nil)
	if f.opts.Encrypt {
		tableBytes = encryptCopy(tableBytes, key-1)
	}

	full := append(tableBytes, sectors...)
	return plannedFile{builderFile: f, sectorData: full, flags: flags}, nil
}

// encryptCopy pads to a 4-byte boundary, encrypts, and returns a fresh
// slice so callers never mutate shared input buffers in place.
func encryptCopy(data []byte, key uint32) []byte {
	padded := make([]byte, (len(data)+3)&^3)
	copy(padded, data)
	encryptBytes(padded, key)
	return padded
}

func (b *Builder) emit(files []plannedFile, sectorSize uint32) ([]byte, error) {
	headerSize := headerSizeForVersion(b.version)

	hashTableSize := nextPowerOf2(uint32(len(files)) * 2)
	if hashTableSize < 4 {
		hashTableSize = 4
	}

	hashTable := make([]hashTableEntry, hashTableSize)
	for i := range hashTable {
		hashTable[i] = hashTableEntry{HashA: hashTableEmpty, HashB: hashTableEmpty, BlockIndex: hashTableEmpty}
	}

	for _, f := range files {
		idx, ok := insertTraditional(hashTable, f.name)
		if !ok {
			return nil, wrapErr(KindTable, "Build", f.name, "hash table full")
		}
		hashTable[idx] = hashTableEntry{
			HashA:      hashString(f.name, hashTypeNameA),
			HashB:      hashString(f.name, hashTypeNameB),
			Locale:     f.opts.Locale,
			Platform:   0,
			BlockIndex: uint32(f.blockIdx),
		}
	}

	hashTableBytes := hashTableSize * 16
	blockTableBytes := uint32(len(files)) * 16
	hiBlockBytes := uint32(0)
	if b.version >= FormatV2 {
		hiBlockBytes = uint32(len(files)) * 2
	}

	fileDataStart := headerSize + hashTableBytes + blockTableBytes + hiBlockBytes

	blockTable := make([]blockTableEntryEx, len(files))
	pos := fileDataStart
	for i, f := range files {
		blockTable[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        pos,
				CompressedSize: uint32(len(f.sectorData)),
				FileSize:       uint32(len(f.data)),
				Flags:          f.flags | fileExists,
			},
		}
		pos += uint32(len(f.sectorData))
	}
	archiveSize := pos

	out := make([]byte, fileDataStart)

	hashRaw := encodeHashTable(hashTable)
	decryptedHash := make([]uint32, len(hashRaw))
	copy(decryptedHash, hashRaw)
	encryptBlock(decryptedHash, hashString("(hash table)", hashTypeFileKey))
	binary.Write(sliceWriter{out[headerSize:]}, binary.LittleEndian, decryptedHash)

	blockRaw := encodeBlockTable(blockTable)
	encryptBlock(blockRaw, hashString("(block table)", hashTypeFileKey))
	binary.Write(sliceWriter{out[headerSize+hashTableBytes:]}, binary.LittleEndian, blockRaw)

	if hiBlockBytes > 0 {
		hi := make([]uint16, len(files))
		binary.Write(sliceWriter{out[headerSize+hashTableBytes+blockTableBytes:]}, binary.LittleEndian, hi)
	}

	for _, f := range files {
		out = append(out, f.sectorData...)
	}

	header := &archiveHeader{}
	header.Magic = mpqMagic
	header.HeaderSize = headerSize
	header.ArchiveSize = archiveSize
	header.FormatVersion = uint16(b.version)
	header.SectorSizeShift = b.sectorSizeShift
	header.HashTableOffset = headerSize
	header.BlockTableOffset = headerSize + hashTableBytes
	header.HashTableSize = hashTableSize
	header.BlockTableSize = uint32(len(files))
	if b.version >= FormatV2 {
		header.ArchiveSize64 = uint64(archiveSize)
		if hiBlockBytes > 0 {
			header.HiBlockTableOffset64 = uint64(headerSize + hashTableBytes + blockTableBytes)
		}
	}

	hw := &growBuf{}
	if err := writeArchiveHeader(hw, header); err != nil {
		return nil, newErr(KindIoError, "Build", "", err)
	}
	copy(out[0:headerSize], hw.buf)

	if b.strongKey != nil {
		b.logger.Debug("signing archive", zap.Bool("strong", true))
		sig := SignStrong(b.strongKey, out)
		out = append(out, []byte(strongSignatureTail)...)
		out = append(out, sig...)
	}

	return out, nil
}

// Write builds the archive and writes it to path.
func (b *Builder) Write(path string) error {
	data, err := b.Build()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return newErr(KindIoError, "Write", path, err)
	}
	return nil
}

// sliceWriter adapts a fixed byte slice to io.Writer for binary.Write,
// writing at offset 0. It does not advance, so each value takes exactly
// one Write call (binary.Write issues one per slice).
type sliceWriter struct{ buf []byte }

func (w sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf, p)
	return n, nil
}

// growBuf is a minimal growable io.Writer, used where bytes.Buffer would
// otherwise be the obvious choice but the call site only ever appends.
type growBuf struct{ buf []byte }

func (g *growBuf) Write(p []byte) (int, error) {
	g.buf = append(g.buf, p...)
	return len(p), nil
}
