// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"math/rand"
	"testing"
)

func sampleCompressibleData(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte('A' + (i/7)%4) // runs, not pure repetition, but still compressible
	}
	return out
}

func sampleRandomData(n int, seed int64) []byte {
	r := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	r.Read(out)
	return out
}

func TestCompressDecompressRoundTrip(t *testing.T) {
	methods := map[string]byte{
		"zlib":    compressionZlib,
		"bzip2":   compressionBzip2,
		"lzma":    compressionLZMA,
		"implode": compressionImplode,
		"sparse":  compressionSparse,
		"huffman": compressionHuffman,
	}

	inputs := map[string][]byte{
		"text":   []byte("the quick brown fox jumps over the lazy dog, the quick brown fox jumps again"),
		"runs":   sampleCompressibleData(4096),
		"random": sampleRandomData(2048, 42),
		"empty":  {},
		"zeros":  make([]byte, 1024),
	}

	// lzma's writer derives its dictionary size from a nonzero Size hint;
	// an empty sector is never compressed in practice (MPQ always stores a
	// zero-length file as a zero-sector single-unit entry), so skip it here
	// rather than rely on an LZMA edge case this package never exercises.
	skip := map[string]bool{"lzma/empty": true}

	for name, method := range methods {
		for inputName, data := range inputs {
			if skip[name+"/"+inputName] {
				continue
			}
			t.Run(name+"/"+inputName, func(t *testing.T) {
				compressed, err := compressData(data, method, DefaultSecurityLimits)
				if err != nil {
					t.Fatalf("compressData: %v", err)
				}
				decompressed, err := decompressData(compressed, uint32(len(data)), DefaultSecurityLimits)
				if err != nil {
					t.Fatalf("decompressData: %v", err)
				}
				if !bytes.Equal(decompressed, data) && !(len(data) == 0 && len(decompressed) == 0) {
					t.Fatalf("round trip mismatch: got %d bytes, want %d", len(decompressed), len(data))
				}
			})
		}
	}
}

func TestCompressDataStoresMethodByte(t *testing.T) {
	data := []byte("hello world")
	compressed, err := compressData(data, compressionZlib, DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("compressData: %v", err)
	}
	if compressed[0] != compressionZlib {
		t.Errorf("method byte = %#x, want %#x", compressed[0], compressionZlib)
	}
}

func TestDecompressDataStoredRaw(t *testing.T) {
	data := []byte("stored as-is")
	raw := append([]byte{0}, data...)
	out, err := decompressData(raw, uint32(len(data)), DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("decompressData: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("got %q, want %q", out, data)
	}
}

func TestSecurityLimitsRejectOversizedExpansion(t *testing.T) {
	limits := SecurityLimits{MaxDecompressedSize: 100, MaxExpansionRatio: 2}
	data := sampleCompressibleData(10000)
	compressed, err := compressData(data, compressionZlib, DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("compressData: %v", err)
	}
	if _, err := decompressData(compressed, uint32(len(data)), limits); err == nil {
		t.Fatalf("expected decompressData to reject output exceeding limits")
	} else if !IsKind(err, KindSecurityLimitExceeded) {
		t.Errorf("error kind = %v, want SecurityLimitExceeded", err)
	}
}

func TestStackedCompressionMethods(t *testing.T) {
	data := sampleCompressibleData(8192)
	method := compressionZlib | compressionHuffman
	compressed, err := compressData(data, method, DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("compressData: %v", err)
	}
	decompressed, err := decompressData(compressed, uint32(len(data)), DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("decompressData: %v", err)
	}
	if !bytes.Equal(decompressed, data) {
		t.Fatalf("stacked round trip mismatch")
	}
}
