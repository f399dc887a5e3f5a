// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// MPQ format constants.
const (
	// mpqMagic is the archive header signature "MPQ\x1A".
	mpqMagic = 0x1A51504D
	// userDataMagic marks a user-data block preceding the real header.
	userDataMagic = 0x1B51504D
	// hetMagic and betMagic are the HET/BET table signatures.
	hetMagic = 0x1A544548
	betMagic = 0x1A544542
	// strongSignatureTail is appended after strong-signed archive bytes.
	strongSignatureTail = "NGIS"

	// Format versions.
	formatVersion1 = 0 // original, up to 4GB
	formatVersion2 = 1 // extended 64-bit offsets (TBC+)
	formatVersion3 = 2 // HET/BET tables (Cataclysm+)
	formatVersion4 = 3 // per-table MD5s, compressed tables

	// Header sizes.
	headerSizeV1 = 0x20  // 32 bytes
	headerSizeV2 = 0x2C  // 44 bytes
	headerSizeV3 = 0x44  // 68 bytes
	headerSizeV4 = 0xD0  // 208 bytes

	// Block table entry flags.
	fileImplode      = 0x00000100 // PKWARE DCL "implode"
	fileCompress     = 0x00000200 // one or more codecs stacked, method byte present
	fileEncrypted    = 0x00010000
	fileFixKey       = 0x00020000 // key = (key + block position) XOR file size ("KEY-ADJUSTED")
	filePatchFile    = 0x00100000
	fileSingleUnit   = 0x01000000
	fileDeleteMarker = 0x02000000
	fileSectorCRC    = 0x04000000
	fileExists       = 0x80000000

	// Hash table entry sentinels.
	hashTableEmpty   = 0xFFFFFFFF
	hashTableDeleted = 0xFFFFFFFE

	localeNeutral = 0x00000000

	// Default sector size (4096 bytes, shift 12) used by the builder.
	defaultSectorSizeShift = 12
	defaultSectorSize      = 1 << defaultSectorSizeShift

	// archiveHeaderScanStep is the alignment at which findArchiveHeader
	// probes for the MPQ signature.
	archiveHeaderScanStep = 0x200
)

// baseHeader is the common 32-byte V1 header.
type baseHeader struct {
	Magic            uint32
	HeaderSize       uint32
	ArchiveSize      uint32 // 32-bit, deprecated from V2 on
	FormatVersion    uint16
	SectorSizeShift  uint16
	HashTableOffset  uint32
	BlockTableOffset uint32
	HashTableSize    uint32
	BlockTableSize   uint32
}

// extendedHeaderV2 adds the V2 64-bit offset extension (12 bytes).
type extendedHeaderV2 struct {
	HiBlockTableOffset64 uint64
	HashTableOffsetHi    uint16
	BlockTableOffsetHi   uint16
}

// extendedHeaderV3 adds the V3 extension (24 bytes): 64-bit archive size and
// HET/BET table offsets.
type extendedHeaderV3 struct {
	ArchiveSize64  uint64
	BetTableOffset uint64
	HetTableOffset uint64
}

// extendedHeaderV4 adds the V4 extension (140 bytes): compressed table sizes,
// per-table MD5s, and the raw chunk size used to verify table reads.
type extendedHeaderV4 struct {
	HashTableSizeCompressed  uint64
	BlockTableSizeCompressed uint64
	HiBlockTableSize64       uint64
	HetTableSizeCompressed   uint64
	BetTableSizeCompressed   uint64
	RawChunkSize             uint32
	MD5BlockTable            [16]byte
	MD5HashTable             [16]byte
	MD5HiBlockTable          [16]byte
	MD5BetTable              [16]byte
	MD5HetTable              [16]byte
	MD5MpqHeader             [16]byte
}

// archiveHeader is the union of all four on-disk header layouts. Fields
// beyond a given FormatVersion's extension are simply left zero.
type archiveHeader struct {
	baseHeader
	extendedHeaderV2
	extendedHeaderV3
	extendedHeaderV4

	// ArchiveOffset is the absolute file offset at which this header (and
	// therefore the whole archive) begins, i.e. the size of any preceding
	// user-data block. Not part of the on-disk layout.
	ArchiveOffset uint64
}

func (h *archiveHeader) getHashTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.HashTableOffset) | (uint64(h.HashTableOffsetHi) << 32)
	}
	return uint64(h.HashTableOffset)
}

func (h *archiveHeader) getBlockTableOffset64() uint64 {
	if h.FormatVersion >= formatVersion2 {
		return uint64(h.BlockTableOffset) | (uint64(h.BlockTableOffsetHi) << 32)
	}
	return uint64(h.BlockTableOffset)
}

func (h *archiveHeader) setHashTableOffset64(offset uint64) {
	h.HashTableOffset = uint32(offset)
	h.HashTableOffsetHi = uint16(offset >> 32)
}

func (h *archiveHeader) setBlockTableOffset64(offset uint64) {
	h.BlockTableOffset = uint32(offset)
	h.BlockTableOffsetHi = uint16(offset >> 32)
}

func (h *archiveHeader) hasHetBet() bool {
	return h.FormatVersion >= formatVersion3 && h.HetTableOffset != 0 && h.BetTableOffset != 0
}

func (h *archiveHeader) sectorSize() uint32 {
	return uint32(1) << h.SectorSizeShift
}

// hashTableEntry is a 16-byte hash table record.
type hashTableEntry struct {
	HashA      uint32
	HashB      uint32
	Locale     uint16
	Platform   uint16
	BlockIndex uint32
}

// blockTableEntry is a 16-byte block table record.
type blockTableEntry struct {
	FilePos        uint32
	CompressedSize uint32
	FileSize       uint32
	Flags          uint32
}

// blockTableEntryEx carries the hi-block-table high word alongside a block
// table entry, giving 48-bit file offsets for V2+.
type blockTableEntryEx struct {
	blockTableEntry
	FilePosHi uint16
}

func (b *blockTableEntryEx) getFilePos64() uint64 {
	return uint64(b.FilePos) | (uint64(b.FilePosHi) << 32)
}

func (b *blockTableEntryEx) setFilePos64(pos uint64) {
	b.FilePos = uint32(pos)
	b.FilePosHi = uint16(pos >> 32)
}

// readArchiveHeader reads whichever header extensions FormatVersion and
// HeaderSize indicate are present, leaving later extensions zeroed.
func readArchiveHeader(r io.Reader) (*archiveHeader, error) {
	h := &archiveHeader{}

	if err := binary.Read(r, binary.LittleEndian, &h.baseHeader); err != nil {
		return nil, err
	}
	if h.HeaderSize >= headerSizeV2 {
		if err := binary.Read(r, binary.LittleEndian, &h.extendedHeaderV2); err != nil {
			return nil, err
		}
	}
	if h.HeaderSize >= headerSizeV3 {
		if err := binary.Read(r, binary.LittleEndian, &h.extendedHeaderV3); err != nil {
			return nil, err
		}
	}
	if h.HeaderSize >= headerSizeV4 {
		if err := binary.Read(r, binary.LittleEndian, &h.extendedHeaderV4); err != nil {
			return nil, err
		}
	}

	return h, nil
}

// writeArchiveHeader writes the header extensions appropriate to
// h.FormatVersion.
func writeArchiveHeader(w io.Writer, h *archiveHeader) error {
	if err := binary.Write(w, binary.LittleEndian, &h.baseHeader); err != nil {
		return err
	}
	if h.FormatVersion >= formatVersion2 {
		if err := binary.Write(w, binary.LittleEndian, &h.extendedHeaderV2); err != nil {
			return err
		}
	}
	if h.FormatVersion >= formatVersion3 {
		if err := binary.Write(w, binary.LittleEndian, &h.extendedHeaderV3); err != nil {
			return err
		}
	}
	if h.FormatVersion >= formatVersion4 {
		if err := binary.Write(w, binary.LittleEndian, &h.extendedHeaderV4); err != nil {
			return err
		}
	}
	return nil
}

func headerSizeForVersion(v FormatVersion) uint32 {
	switch v {
	case FormatV1:
		return headerSizeV1
	case FormatV2:
		return headerSizeV2
	case FormatV3:
		return headerSizeV3
	case FormatV4:
		return headerSizeV4
	default:
		return headerSizeV1
	}
}

func readUint32Array(r io.Reader, data []uint32) error {
	return binary.Read(r, binary.LittleEndian, data)
}

func readUint16Array(r io.Reader, data []uint16) error {
	return binary.Read(r, binary.LittleEndian, data)
}

func writeUint32Array(w io.Writer, data []uint32) error {
	return binary.Write(w, binary.LittleEndian, data)
}

func writeUint16Array(w io.Writer, data []uint16) error {
	return binary.Write(w, binary.LittleEndian, data)
}
