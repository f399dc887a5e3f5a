// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"encoding/binary"
	"math"
	"testing"
)

// genSinePCM generates mono or interleaved-stereo 16-bit PCM samples along a
// sine wave, the kind of signal ADPCM's adaptive step size is designed for.
func genSinePCM(frames, channels int) []byte {
	buf := make([]byte, frames*channels*2)
	for f := 0; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			v := int16(8000 * math.Sin(float64(f)/6.0+float64(ch)))
			binary.LittleEndian.PutUint16(buf[(f*channels+ch)*2:], uint16(v))
		}
	}
	return buf
}

func TestADPCMMonoRoundTripLengthAndBoundedError(t *testing.T) {
	pcm := genSinePCM(200, 1)
	compressed, err := compressData(pcm, compressionADPCMMono, DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("compressData: %v", err)
	}
	decoded, err := decompressData(compressed, uint32(len(pcm)), DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("decompressData: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pcm))
	}
	if len(compressed) >= len(pcm) {
		t.Errorf("ADPCM should shrink a smooth waveform: compressed %d >= original %d", len(compressed), len(pcm))
	}
	assertBoundedSampleError(t, pcm, decoded, 1, 4000)
}

func TestADPCMStereoRoundTripLengthAndBoundedError(t *testing.T) {
	pcm := genSinePCM(200, 2)
	compressed, err := compressData(pcm, compressionADPCM, DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("compressData: %v", err)
	}
	decoded, err := decompressData(compressed, uint32(len(pcm)), DefaultSecurityLimits)
	if err != nil {
		t.Fatalf("decompressData: %v", err)
	}
	if len(decoded) != len(pcm) {
		t.Fatalf("decoded length = %d, want %d", len(decoded), len(pcm))
	}
	assertBoundedSampleError(t, pcm, decoded, 2, 4000)
}

func assertBoundedSampleError(t *testing.T, original, decoded []byte, channels int, maxError int) {
	t.Helper()
	n := len(original) / 2
	for i := 0; i < n; i++ {
		want := int16(binary.LittleEndian.Uint16(original[i*2:]))
		got := int16(binary.LittleEndian.Uint16(decoded[i*2:]))
		diff := int(want) - int(got)
		if diff < 0 {
			diff = -diff
		}
		// First frame per channel is stored verbatim in the header, so it
		// must match exactly; later frames are lossy and only bounded.
		if i < channels && diff != 0 {
			t.Fatalf("sample %d (header frame) mismatch: want %d got %d", i, want, got)
		}
		if diff > maxError {
			t.Fatalf("sample %d error %d exceeds bound %d (want %d got %d)", i, diff, maxError, want, got)
		}
	}
}
