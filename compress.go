// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

// Compression method byte values. A sector's first byte is a bitmask of
// these. Decompression undoes them in a fixed order: sparse, then ADPCM,
// then huffman, then whichever primary codec (implode/lzma/bzip2/zlib) is
// set. Compression applies the primary codec first and sparse last, the
// exact reverse, so the stack always round-trips regardless of which
// subset of bits a given sector sets.
const (
	compressionHuffman   = 0x01 // Huffman (WAVE files only)
	compressionZlib      = 0x02
	compressionImplode   = 0x08 // PKWARE DCL "implode"
	compressionBzip2     = 0x10
	compressionSparse    = 0x20 // RLE, SC2+
	compressionADPCMMono = 0x40
	compressionADPCM     = 0x80 // ADPCM stereo
	compressionLZMA      = 0x12 // SC2+; never combined with other bits in practice
)

// SecurityLimits bounds the work a single decompressData call will do,
// protecting callers that feed archives from untrusted sources against
// decompression-bomb sectors. Zero values disable the corresponding check.
type SecurityLimits struct {
	// MaxDecompressedSize caps the final output of a decompressData call.
	MaxDecompressedSize uint32
	// MaxExpansionRatio caps the final output size relative to the whole
	// compressed sector; a sparse/RLE sector can legitimately expand by a
	// large factor, so this is generous by default. Both limits are checked
	// once, after every stage has run; intermediate stages are not checked.
	MaxExpansionRatio uint32
}

// DefaultSecurityLimits matches what the builder itself ever produces:
// sectors never exceed the archive's configured sector size, so 16MiB and
// a 1024x expansion ratio are generous upper bounds for hostile input.
var DefaultSecurityLimits = SecurityLimits{
	MaxDecompressedSize: 16 << 20,
	MaxExpansionRatio:   1024,
}

func (l SecurityLimits) check(op string, inLen int, outLen uint32) error {
	if l.MaxDecompressedSize != 0 && outLen > l.MaxDecompressedSize {
		return wrapErr(KindSecurityLimitExceeded, op, "", "decompressed size %d exceeds limit %d", outLen, l.MaxDecompressedSize)
	}
	if l.MaxExpansionRatio != 0 && inLen > 0 && uint64(outLen) > uint64(inLen)*uint64(l.MaxExpansionRatio) {
		return wrapErr(KindSecurityLimitExceeded, op, "", "expansion ratio exceeds limit %d", l.MaxExpansionRatio)
	}
	return nil
}

// compressData compresses a sector's worth of data for the given method
// bitmask and prefixes the method byte. method 0 means store-raw; callers
// decide that by comparing against the raw length (MPQ falls back to an
// uncompressed sector whenever compression doesn't actually shrink it).
func compressData(data []byte, method byte, limits SecurityLimits) ([]byte, error) {
	cur := data
	var err error

	switch {
	case method == compressionLZMA:
		cur, err = encodeLZMA(cur)
	case method&compressionBzip2 != 0:
		cur, err = encodeBzip2(cur)
	case method&compressionImplode != 0:
		cur, err = encodeImplode(cur)
	case method&compressionZlib != 0:
		cur, err = encodeZlib(cur)
	}
	if err != nil {
		return nil, newErr(KindCompression, "compressData", "", err)
	}

	if method&compressionHuffman != 0 {
		if cur, err = encodeHuffman(cur); err != nil {
			return nil, newErr(KindCompression, "compressData", "", err)
		}
	}

	if method&compressionADPCMMono != 0 {
		if cur, err = encodeADPCM(cur, 1); err != nil {
			return nil, newErr(KindCompression, "compressData", "", err)
		}
	} else if method&compressionADPCM != 0 {
		if cur, err = encodeADPCM(cur, 2); err != nil {
			return nil, newErr(KindCompression, "compressData", "", err)
		}
	}

	if method&compressionSparse != 0 {
		cur = encodeSparse(cur)
	}

	out := make([]byte, 0, len(cur)+1)
	out = append(out, method)
	out = append(out, cur...)
	return out, nil
}

// decompressData reverses compressData. data includes the leading method
// byte; uncompressedSize is the sector's known plaintext size, used to size
// the primary codec's output and to check the final length. limits is
// applied to the final output only.
func decompressData(data []byte, uncompressedSize uint32, limits SecurityLimits) ([]byte, error) {
	if len(data) == 0 {
		if uncompressedSize == 0 {
			return nil, nil
		}
		return nil, wrapErr(KindCompression, "decompressData", "", "empty compressed sector with nonzero size")
	}

	method := data[0]
	cur := data[1:]
	if method == 0 {
		return cur, nil
	}

	var err error

	if method&compressionSparse != 0 {
		if cur, err = decodeSparse(cur); err != nil {
			return nil, newErr(KindCompression, "decompressData", "", err)
		}
	}

	if method&compressionADPCMMono != 0 {
		if cur, err = decodeADPCM(cur, 1); err != nil {
			return nil, newErr(KindCompression, "decompressData", "", err)
		}
	} else if method&compressionADPCM != 0 {
		if cur, err = decodeADPCM(cur, 2); err != nil {
			return nil, newErr(KindCompression, "decompressData", "", err)
		}
	}

	if method&compressionHuffman != 0 {
		if cur, err = decodeHuffman(cur); err != nil {
			return nil, newErr(KindCompression, "decompressData", "", err)
		}
	}

	switch {
	case method == compressionLZMA:
		cur, err = decodeLZMA(cur, uncompressedSize)
	case method&compressionBzip2 != 0:
		cur, err = decodeBzip2(cur, uncompressedSize)
	case method&compressionImplode != 0:
		cur, err = decodeImplode(cur, uncompressedSize)
	case method&compressionZlib != 0:
		cur, err = decodeZlib(cur, uncompressedSize)
	}
	if err != nil {
		return nil, newErr(KindCompression, "decompressData", "", err)
	}

	if err := limits.check("decompressData", len(data), uint32(len(cur))); err != nil {
		return nil, err
	}

	if uncompressedSize != 0 && uint32(len(cur)) != uncompressedSize {
		if uint32(len(cur)) > uncompressedSize {
			cur = cur[:uncompressedSize]
		} else {
			return nil, wrapErr(KindChecksumMismatch, "decompressData", "", "decompressed %d bytes, expected %d", len(cur), uncompressedSize)
		}
	}

	return cur, nil
}
