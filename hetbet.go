// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// hetHeader and betHeader mirror the V3+ extended table layout: HET maps a
// 64-bit Jenkins name hash to a BET file index via open addressing over an
// array of truncated hash fragments; BET stores the actual per-file record
// fields (position, sizes, flags) as packed bit-fields so V3+
// archives avoid the 16-byte-per-entry cost of the traditional tables.
type hetHeader struct {
	Magic              uint32
	Version            uint32
	DataSize           uint32
	TableSize          uint32
	MaxFileCount       uint32
	HashTableSize      uint32
	HashEntrySize      uint32
	TotalIndexSize     uint32
	IndexSizeExtra     uint32
	IndexSize          uint32
	BlockTableSize     uint32
}

type hetTable struct {
	header    hetHeader
	nameHash1 []byte   // 1 byte per slot: the high bits of each slot's 64-bit hash
	fileIndex []uint32 // decoded bit-packed indices, one per slot
	hashMask  uint64   // NameHash1 uses the bits above this table's bucket count
}

type betHeader struct {
	Magic             uint32
	Version           uint32
	DataSize          uint32
	TableSize         uint32
	FileCount         uint32
	Unknown1          uint32
	TableEntrySize    uint32
	FilePosBits       uint32
	FilePosOffset     uint32
	FileSizeBits      uint32
	FileSizeOffset    uint32
	CompressedBits    uint32
	CompressedOffset  uint32
	FlagIndexBits     uint32
	FlagIndexOffset   uint32
	Unknown2Bits      uint32
	Unknown2Offset    uint32
	TotalBits         uint32
}

type betTable struct {
	header  betHeader
	entries []uint64 // each entry's bit-packed fields, TotalBits wide, stored in a uint64
	flags   []uint32 // flag table, indexed by the FlagIndex field unpacked from entries
}

// readHetTable reads the HET block at hetOffset: uint32 magic, uint32
// version, uint32 dataSize, then the header fields, then the name-hash
// array, then the bit-packed index array. The block is parsed exactly as
// stored; it is neither decrypted nor decompressed.
func readHetTable(r io.ReadSeeker, h *archiveHeader) (*hetTable, error) {
	if h.HetTableOffset == 0 {
		return nil, nil
	}
	if _, err := r.Seek(int64(h.HetTableOffset+h.ArchiveOffset), io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "readHetTable", "", err)
	}

	var hdr hetHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, newErr(KindIoError, "readHetTable", "", err)
	}
	if hdr.Magic != hetMagic {
		return nil, wrapErr(KindInvalidFormat, "readHetTable", "", "bad HET magic 0x%08X", hdr.Magic)
	}

	nameHash1 := make([]byte, hdr.HashTableSize)
	if _, err := io.ReadFull(r, nameHash1); err != nil {
		return nil, newErr(KindIoError, "readHetTable", "", err)
	}

	indexBytes := make([]byte, hdr.TotalIndexSize)
	if _, err := io.ReadFull(r, indexBytes); err != nil {
		return nil, newErr(KindIoError, "readHetTable", "", err)
	}
	fileIndex := unpackBits(indexBytes, hdr.HashTableSize, uint(hdr.IndexSize+hdr.IndexSizeExtra))

	return &hetTable{
		header:    hdr,
		nameHash1: nameHash1,
		fileIndex: fileIndex,
		hashMask:  uint64(1)<<uint(64-8) - 1,
	}, nil
}

// readBetTable reads and decodes the BET block at betOffset.
func readBetTable(r io.ReadSeeker, h *archiveHeader) (*betTable, error) {
	if h.BetTableOffset == 0 {
		return nil, nil
	}
	if _, err := r.Seek(int64(h.BetTableOffset+h.ArchiveOffset), io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "readBetTable", "", err)
	}

	var hdr betHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, newErr(KindIoError, "readBetTable", "", err)
	}
	if hdr.Magic != betMagic {
		return nil, wrapErr(KindInvalidFormat, "readBetTable", "", "bad BET magic 0x%08X", hdr.Magic)
	}

	entryBytes := make([]byte, (uint64(hdr.TableEntrySize)*uint64(hdr.TotalBits)+7)/8)
	if _, err := io.ReadFull(r, entryBytes); err != nil {
		return nil, newErr(KindIoError, "readBetTable", "", err)
	}
	entries := unpackEntries(entryBytes, hdr.FileCount, uint(hdr.TotalBits))

	flags := make([]uint32, hdr.FlagIndexBits)
	if hdr.FlagIndexBits > 0 {
		if err := binary.Read(r, binary.LittleEndian, flags); err != nil {
			return nil, newErr(KindIoError, "readBetTable", "", err)
		}
	}

	return &betTable{header: hdr, entries: entries, flags: flags}, nil
}

// lookupHet resolves name to a BET file index via HET's open-addressed
// probe: bucket = hash mod bucket count, fragment = the top 8 bits of the
// hash with the high bit forced set (so a stored fragment is never the
// empty-slot value 0), linear probe on fragment mismatch.
func lookupHet(t *hetTable, name string) (uint32, bool) {
	if t == nil || t.header.HashTableSize == 0 {
		return 0, false
	}
	h := hetHash64(name)
	fragment := byte(h>>56) | 0x80
	bucket := uint32(h % uint64(t.header.HashTableSize))

	for i := uint32(0); i < t.header.HashTableSize; i++ {
		slot := (bucket + i) % t.header.HashTableSize
		if t.nameHash1[slot] == 0 {
			return 0, false
		}
		if t.nameHash1[slot] == fragment {
			if int(slot) < len(t.fileIndex) {
				return t.fileIndex[slot], true
			}
		}
	}
	return 0, false
}

// betFileRecord is the unpacked form of one BET entry.
type betFileRecord struct {
	FilePos        uint64
	FileSize       uint64
	CompressedSize uint64
	Flags          uint32
}

func (t *betTable) record(index uint32) (betFileRecord, bool) {
	if t == nil || int(index) >= len(t.entries) {
		return betFileRecord{}, false
	}
	packed := t.entries[index]

	filePos := extractBits(packed, t.header.FilePosOffset, t.header.FilePosBits)
	fileSize := extractBits(packed, t.header.FileSizeOffset, t.header.FileSizeBits)
	compSize := extractBits(packed, t.header.CompressedOffset, t.header.CompressedBits)
	flagIdx := extractBits(packed, t.header.FlagIndexOffset, t.header.FlagIndexBits)

	var flags uint32
	if int(flagIdx) < len(t.flags) {
		flags = t.flags[flagIdx]
	}

	return betFileRecord{
		FilePos:        filePos,
		FileSize:       fileSize,
		CompressedSize: compSize,
		Flags:          flags,
	}, true
}

func extractBits(v uint64, offset, bits uint32) uint64 {
	if bits == 0 {
		return 0
	}
	mask := uint64(1)<<bits - 1
	return (v >> offset) & mask
}

// unpackBits reads count values of width bits each from a tightly packed
// little-endian bitstream, as the HET index array and the BET flag/name
// fragments are stored on disk.
func unpackBits(data []byte, count uint32, width uint) []uint32 {
	out := make([]uint32, count)
	if width == 0 {
		return out
	}
	bitPos := uint(0)
	for i := uint32(0); i < count; i++ {
		out[i] = uint32(readBitsLE(data, bitPos, width))
		bitPos += width
	}
	return out
}

func unpackEntries(data []byte, count uint32, width uint) []uint64 {
	out := make([]uint64, count)
	bitPos := uint(0)
	for i := uint32(0); i < count; i++ {
		out[i] = readBitsLE(data, bitPos, width)
		bitPos += width
	}
	return out
}

// readBitsLE reads a little-endian bitfield of the given width starting at
// bitPos from a byte slice, the same convention StormLib uses for packed
// HET/BET records.
func readBitsLE(data []byte, bitPos uint, width uint) uint64 {
	var v uint64
	for b := uint(0); b < width; b++ {
		pos := bitPos + b
		byteIdx := pos / 8
		bitIdx := pos % 8
		if int(byteIdx) >= len(data) {
			break
		}
		if data[byteIdx]&(1<<bitIdx) != 0 {
			v |= 1 << b
		}
	}
	return v
}
