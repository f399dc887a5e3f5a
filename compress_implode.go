// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// PKWARE DCL "implode" frames start with a 2-byte header: a compression
// type (binary vs ASCII literal coding) and a dictionary size class. Real
// StormLib archives only ever use binary-mode with a 4K dictionary, which
// is all this implementation produces or expects.
const (
	implodeTypeBinary = 0
	implodeDictSize4K = 6

	implodeMinMatch = 3
	implodeMaxMatch = 3 + 255
	implodeWindow   = 4096
)

// encodeImplode runs a greedy LZSS match finder over a 4K sliding window
// and serializes tokens as a literal-flag byte per token (0 = literal byte,
// 1 = match) followed by either the literal byte or a (distance, length)
// pair, each written little-endian. This keeps the PKWARE header
// conventions a reader of real implode streams would recognize while
// using a plain token encoding in place of PKWARE's Shannon-Fano tables.
func encodeImplode(data []byte) ([]byte, error) {
	out := make([]byte, 2, len(data)+len(data)/4+2)
	out[0] = implodeTypeBinary
	out[1] = implodeDictSize4K

	i := 0
	for i < len(data) {
		bestLen, bestDist := 0, 0
		start := i - implodeWindow
		if start < 0 {
			start = 0
		}
		for j := start; j < i; j++ {
			l := 0
			for i+l < len(data) && data[j+l] == data[i+l] && l < implodeMaxMatch {
				l++
			}
			if l > bestLen {
				bestLen, bestDist = l, i-j
			}
		}

		if bestLen >= implodeMinMatch {
			out = append(out, 1)
			var tmp [4]byte
			binary.LittleEndian.PutUint16(tmp[0:2], uint16(bestDist))
			tmp[2] = byte(bestLen - implodeMinMatch)
			out = append(out, tmp[0], tmp[1], tmp[2])
			i += bestLen
		} else {
			out = append(out, 0, data[i])
			i++
		}
	}

	return out, nil
}

func decodeImplode(data []byte, uncompressedSize uint32) ([]byte, error) {
	if len(data) < 2 {
		return nil, wrapErr(KindCompression, "decodeImplode", "", "truncated implode header")
	}
	data = data[2:]

	out := make([]byte, 0, uncompressedSize)
	i := 0
	for i < len(data) {
		flag := data[i]
		i++

		if flag == 0 {
			if i >= len(data) {
				return nil, wrapErr(KindCompression, "decodeImplode", "", "truncated literal token")
			}
			out = append(out, data[i])
			i++
			continue
		}

		if i+3 > len(data) {
			return nil, wrapErr(KindCompression, "decodeImplode", "", "truncated match token")
		}
		dist := int(binary.LittleEndian.Uint16(data[i : i+2]))
		length := int(data[i+2]) + implodeMinMatch
		i += 3

		if dist <= 0 || dist > len(out) {
			return nil, wrapErr(KindCompression, "decodeImplode", "", "match distance %d exceeds output so far", dist)
		}
		src := len(out) - dist
		for k := 0; k < length; k++ {
			out = append(out, out[src+k])
		}
	}

	return out, nil
}
