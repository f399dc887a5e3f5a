// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"io"
)

// findArchiveHeader scans r at archiveHeaderScanStep-aligned offsets for the
// MPQ signature. A leading user-data block (signature userDataMagic) is
// skipped first; its own header tells us how far to jump before resuming
// the scan. The returned header's ArchiveOffset is the absolute offset of
// the real MPQ header, which every table/file offset in the archive is
// relative to.
func findArchiveHeader(r io.ReadSeeker) (*archiveHeader, error) {
	offset := int64(0)

	for {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return nil, err
		}

		var magic uint32
		if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
			if err == io.EOF {
				return nil, wrapErr(KindInvalidFormat, "findArchiveHeader", "", "no MPQ header found")
			}
			return nil, err
		}

		switch magic {
		case userDataMagic:
			// userDataHeader: magic(4) + userDataSize(4) + headerOffset(4) + userDataHeaderSize(4)
			var userDataSize, headerOffset, userDataHeaderSize uint32
			if err := binary.Read(r, binary.LittleEndian, &userDataSize); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &headerOffset); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &userDataHeaderSize); err != nil {
				return nil, err
			}
			offset += int64(headerOffset)
			continue

		case mpqMagic:
			if _, err := r.Seek(offset, io.SeekStart); err != nil {
				return nil, err
			}
			h, err := readArchiveHeader(r)
			if err != nil {
				return nil, err
			}
			h.ArchiveOffset = uint64(offset)
			return h, nil

		default:
			offset += archiveHeaderScanStep
			if offset > 0x10_0000_0000 { // 64GB ceiling guards against scanning garbage forever
				return nil, wrapErr(KindInvalidFormat, "findArchiveHeader", "", "no MPQ header found within scan ceiling")
			}
		}
	}
}
