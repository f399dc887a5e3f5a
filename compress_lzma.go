// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// MPQ's LZMA sectors carry only the 5-byte raw LZMA properties header
// (1 byte lc/lp/pb, 4 bytes little-endian dictionary size) with no encoded
// uncompressed size and no end-of-stream marker; the real size is already
// known from the block/sector table, so ReaderConfig.Size and
// SizeInHeader=false tell the decoder to stop exactly there instead of
// scanning for a marker that was never written.
func decodeLZMA(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) < 5 {
		return nil, wrapErr(KindCompression, "decodeLZMA", "", "truncated LZMA properties header")
	}

	cfg := lzma.ReaderConfig{
		SizeInHeader: false,
		Size:         int64(uncompressedSize),
	}
	r, err := cfg.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	result := make([]byte, uncompressedSize)
	n, err := io.ReadFull(r, result)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, err
	}
	return result[:n], nil
}

func encodeLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{
		SizeInHeader: false,
		EOSMarker:    false,
		Size:         int64(len(data)),
	}
	w, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
