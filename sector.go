// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"hash/crc32"
	"io"
)

// sectorPlan describes how a stored (non-single-unit) file is split into
// fixed-size sectors: a leading offset table gives each sector's
// compressed byte range within the file's block, optionally followed by a
// CRC-32 per sector when fileSectorCRC is set.
type sectorPlan struct {
	sectorSize   uint32
	offsets      []uint32 // len = sectorCount+1; last entry is the block's total compressed size
	sectorCRCs   []uint32 // len = sectorCount, present only when fileSectorCRC is set
	uncompressed uint32
}

func sectorCount(uncompressedSize, sectorSize uint32) int {
	if sectorSize == 0 {
		return 0
	}
	n := uncompressedSize / sectorSize
	if uncompressedSize%sectorSize != 0 {
		n++
	}
	return int(n)
}

// readSectorPlan reads the sector offset table for a file whose block
// data begins at blockStart. The offset table is itself encrypted under
// the file's key when the file is encrypted.
func readSectorPlan(r io.ReadSeeker, blockStart int64, uncompressedSize, sectorSize uint32, flags uint32, key uint32) (*sectorPlan, error) {
	n := sectorCount(uncompressedSize, sectorSize)
	if n == 0 {
		return &sectorPlan{sectorSize: sectorSize, uncompressed: uncompressedSize}, nil
	}

	entries := n + 1
	hasCRC := flags&fileSectorCRC != 0
	if hasCRC {
		entries++ // StormLib appends one more offset marking the CRC block's end
	}

	if _, err := r.Seek(blockStart, io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "readSectorPlan", "", err)
	}
	raw := make([]uint32, entries)
	if err := readUint32Array(r, raw); err != nil {
		return nil, newErr(KindIoError, "readSectorPlan", "", err)
	}
	if flags&fileEncrypted != 0 {
		decryptBlock(raw, key-1)
	}

	plan := &sectorPlan{sectorSize: sectorSize, uncompressed: uncompressedSize, offsets: raw[:n+1]}

	if hasCRC {
		crcStart := blockStart + int64(raw[n])
		if _, err := r.Seek(crcStart, io.SeekStart); err != nil {
			return nil, newErr(KindIoError, "readSectorPlan", "", err)
		}
		crcs := make([]uint32, n)
		if err := readUint32Array(r, crcs); err != nil {
			return nil, newErr(KindIoError, "readSectorPlan", "", err)
		}
		plan.sectorCRCs = crcs
	}

	return plan, nil
}

// readSector reads, decrypts, decompresses, and verifies sector index i of
// a file whose block begins at blockStart.
func readSector(r io.ReadSeeker, blockStart int64, plan *sectorPlan, i int, flags uint32, key uint32, limits SecurityLimits) ([]byte, error) {
	start := int64(plan.offsets[i])
	end := int64(plan.offsets[i+1])
	if end < start {
		return nil, wrapErr(KindInvalidFormat, "readSector", "", "sector %d has negative length", i)
	}

	raw := make([]byte, end-start)
	if _, err := r.Seek(blockStart+start, io.SeekStart); err != nil {
		return nil, newErr(KindIoError, "readSector", "", err)
	}
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, newErr(KindIoError, "readSector", "", err)
	}

	if flags&fileEncrypted != 0 {
		decryptBytes(raw, key+uint32(i))
	}

	sectorSize := plan.sectorSize
	if i == len(plan.offsets)-2 {
		if rem := plan.uncompressed % sectorSize; rem != 0 {
			sectorSize = rem
		}
	}

	out := raw
	// Compression that didn't shrink the sector is stored raw, with no
	// method byte, exactly as long as the plaintext size.
	if (flags&fileCompress != 0 || flags&fileImplode != 0) && uint32(len(raw)) != sectorSize {
		var err error
		if out, err = decompressData(raw, sectorSize, limits); err != nil {
			return nil, err
		}
	}

	if plan.sectorCRCs != nil && crc32.ChecksumIEEE(out) != plan.sectorCRCs[i] {
		return nil, wrapErr(KindChecksumMismatch, "readSector", "", "sector %d CRC mismatch", i)
	}
	return out, nil
}

// writeSectorOffsetTable serializes a sector plan's offsets ready for
// encryption by the caller. crcs only sizes the buffer; the CRC words are
// not written.
func writeSectorOffsetTable(offsets []uint32, crcs []uint32) []byte {
	buf := make([]byte, 0, (len(offsets)+len(crcs))*4)
	for _, o := range offsets {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], o)
		buf = append(buf, tmp[:]...)
	}
	return buf
}
