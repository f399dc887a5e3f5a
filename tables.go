// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"io"
)

// loadHashTable reads, decrypts, and decodes the hash table at its header
// offset. Shared by Open, OpenMutable, and the patch chain so the
// decrypt-then-reinterpret steps aren't copy-pasted at each call site the
// way the teacher's mpq.go repeated them across Open/OpenForModify.
func loadHashTable(r io.ReadSeeker, h *archiveHeader) ([]hashTableEntry, error) {
	offset := int64(h.getHashTableOffset64() + h.ArchiveOffset)
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "loadHashTable", "", err)
	}

	raw := make([]uint32, uint64(h.HashTableSize)*4)
	if err := readUint32Array(r, raw); err != nil {
		return nil, newErr(KindIoError, "loadHashTable", "", err)
	}
	decryptBlock(raw, hashString("(hash table)", hashTypeFileKey))

	table := make([]hashTableEntry, h.HashTableSize)
	for i := range table {
		table[i] = hashTableEntry{
			HashA:      raw[i*4],
			HashB:      raw[i*4+1],
			Locale:     uint16(raw[i*4+2] & 0xFFFF),
			Platform:   uint16(raw[i*4+2] >> 16),
			BlockIndex: raw[i*4+3],
		}
	}
	return table, nil
}

// loadBlockTable reads, decrypts, and decodes the block table (and, for
// V2+, the hi-block table that extends it to 48-bit offsets). A V2+ archive
// missing its hi-block table is tolerated per spec: FilePosHi stays zero.
func loadBlockTable(r io.ReadSeeker, h *archiveHeader) ([]blockTableEntryEx, error) {
	offset := int64(h.getBlockTableOffset64() + h.ArchiveOffset)
	if _, err := r.Seek(offset, io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "loadBlockTable", "", err)
	}

	raw := make([]uint32, uint64(h.BlockTableSize)*4)
	if err := readUint32Array(r, raw); err != nil {
		return nil, newErr(KindIoError, "loadBlockTable", "", err)
	}
	decryptBlock(raw, hashString("(block table)", hashTypeFileKey))

	table := make([]blockTableEntryEx, h.BlockTableSize)
	for i := range table {
		table[i] = blockTableEntryEx{
			blockTableEntry: blockTableEntry{
				FilePos:        raw[i*4],
				CompressedSize: raw[i*4+1],
				FileSize:       raw[i*4+2],
				Flags:          raw[i*4+3],
			},
		}
	}

	if h.FormatVersion >= formatVersion2 && h.HiBlockTableOffset64 != 0 {
		if _, err := r.Seek(int64(h.HiBlockTableOffset64+h.ArchiveOffset), io.SeekStart); err != nil {
			return nil, newErr(KindIoError, "loadBlockTable", "", err)
		}
		hi := make([]uint16, h.BlockTableSize)
		if err := readUint16Array(r, hi); err != nil {
			return nil, newErr(KindIoError, "loadBlockTable", "", err)
		}
		for i := range table {
			table[i].FilePosHi = hi[i]
		}
	}

	return table, nil
}

// lookupTraditional performs the open-addressed probe spec.md §4.3
// describes: start at hash_string(name, TABLE_OFFSET) & (size-1), linear
// probe with wraparound, stop at FREE, skip DELETED, match on (hashA,
// hashB, locale, platform).
func lookupTraditional(table []hashTableEntry, name string, locale, platform uint16) (int, bool) {
	size := uint32(len(table))
	if size == 0 {
		return 0, false
	}
	hashA := hashString(name, hashTypeNameA)
	hashB := hashString(name, hashTypeNameB)
	start := hashString(name, hashTypeTableOffset) & (size - 1)

	for i := uint32(0); i < size; i++ {
		idx := (start + i) & (size - 1)
		entry := &table[idx]

		if entry.BlockIndex == hashTableEmpty {
			return 0, false
		}
		if entry.BlockIndex == hashTableDeleted {
			continue
		}
		if entry.HashA == hashA && entry.HashB == hashB &&
			(locale == 0 || entry.Locale == locale) &&
			entry.Platform == platform {
			return int(idx), true
		}
	}
	return 0, false
}

// insertTraditional finds the first FREE or DELETED slot along the name's
// probe sequence and returns its index, or false if the table is full.
func insertTraditional(table []hashTableEntry, name string) (int, bool) {
	size := uint32(len(table))
	if size == 0 {
		return 0, false
	}
	start := hashString(name, hashTypeTableOffset) & (size - 1)

	for i := uint32(0); i < size; i++ {
		idx := (start + i) & (size - 1)
		if table[idx].BlockIndex == hashTableEmpty || table[idx].BlockIndex == hashTableDeleted {
			return int(idx), true
		}
	}
	return 0, false
}

func encodeHashTable(table []hashTableEntry) []uint32 {
	raw := make([]uint32, len(table)*4)
	for i, e := range table {
		raw[i*4] = e.HashA
		raw[i*4+1] = e.HashB
		raw[i*4+2] = uint32(e.Locale) | (uint32(e.Platform) << 16)
		raw[i*4+3] = e.BlockIndex
	}
	return raw
}

func encodeBlockTable(table []blockTableEntryEx) []uint32 {
	raw := make([]uint32, len(table)*4)
	for i, e := range table {
		raw[i*4] = e.FilePos
		raw[i*4+1] = e.CompressedSize
		raw[i*4+2] = e.FileSize
		raw[i*4+3] = e.Flags
	}
	return raw
}

// nextPowerOf2 returns the smallest power of 2 >= n, with a floor of 1.
func nextPowerOf2(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return n + 1
}
