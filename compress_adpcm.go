// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "encoding/binary"

// ADPCM mono/stereo compression is the one lossy codec in the stack: it
// quantizes 16-bit PCM samples to 4-bit deltas against a per-channel
// adaptive step size, IMA-ADPCM style. Channels are interleaved
// sample-by-sample in the input and encoded independently per channel.
var adpcmStepTable = [89]int{
	7, 8, 9, 10, 11, 12, 13, 14, 16, 17,
	19, 21, 23, 25, 28, 31, 34, 37, 41, 45,
	50, 55, 60, 66, 73, 80, 88, 97, 107, 118,
	130, 143, 157, 173, 190, 209, 230, 253, 279, 307,
	337, 371, 408, 449, 494, 544, 598, 658, 724, 796,
	876, 963, 1060, 1166, 1282, 1411, 1552, 1707, 1878, 2066,
	2272, 2499, 2749, 3024, 3327, 3660, 4026, 4428, 4871, 5358,
	5894, 6484, 7132, 7845, 8630, 9493, 10442, 11487, 12635, 13899,
	15289, 16818, 18500, 20350, 22385, 24623, 27086, 29794, 32767,
}

var adpcmIndexTable = [16]int{-1, -1, -1, -1, 2, 4, 6, 8, -1, -1, -1, -1, 2, 4, 6, 8}

func clampIndex(i int) int {
	if i < 0 {
		return 0
	}
	if i > len(adpcmStepTable)-1 {
		return len(adpcmStepTable) - 1
	}
	return i
}

func clampSample(s int) int16 {
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}

type adpcmChannel struct {
	predicted int
	index     int
}

func (c *adpcmChannel) encodeSample(sample int16) byte {
	step := adpcmStepTable[c.index]
	diff := int(sample) - c.predicted

	nibble := 0
	if diff < 0 {
		nibble = 8
		diff = -diff
	}

	tempStep := step
	if diff >= tempStep {
		nibble |= 4
		diff -= tempStep
	}
	tempStep >>= 1
	if diff >= tempStep {
		nibble |= 2
		diff -= tempStep
	}
	tempStep >>= 1
	if diff >= tempStep {
		nibble |= 1
	}

	c.applyNibble(byte(nibble))
	return byte(nibble)
}

func (c *adpcmChannel) applyNibble(nibble byte) {
	step := adpcmStepTable[c.index]

	diff := step >> 3
	if nibble&4 != 0 {
		diff += step
	}
	if nibble&2 != 0 {
		diff += step >> 1
	}
	if nibble&1 != 0 {
		diff += step >> 2
	}
	if nibble&8 != 0 {
		diff = -diff
	}

	c.predicted = int(clampSample(c.predicted + diff))
	c.index = clampIndex(c.index + adpcmIndexTable[nibble])
}

// encodeADPCM takes little-endian 16-bit PCM samples (channels interleaved)
// and returns a header of per-channel initial predictors followed by one
// nibble per input sample, two nibbles packed per output byte.
func encodeADPCM(data []byte, channels int) ([]byte, error) {
	if len(data)%(2*channels) != 0 {
		return nil, wrapErr(KindCompression, "encodeADPCM", "", "input length %d not a multiple of %d-byte frame", len(data), 2*channels)
	}
	frames := len(data) / (2 * channels)

	chans := make([]adpcmChannel, channels)
	header := make([]byte, channels*4)
	for ch := range chans {
		first := int16(binary.LittleEndian.Uint16(data[ch*2:]))
		chans[ch].predicted = int(first)
		chans[ch].index = 0
		binary.LittleEndian.PutUint16(header[ch*4:], uint16(first))
		header[ch*4+2] = 0
		header[ch*4+3] = 0
	}

	out := append([]byte{}, header...)
	var pending byte
	havePending := false

	// Frame 0 is already captured verbatim in header; only frames 1..N-1
	// are delta-coded.
	for f := 1; f < frames; f++ {
		for ch := 0; ch < channels; ch++ {
			idx := (f*channels + ch) * 2
			sample := int16(binary.LittleEndian.Uint16(data[idx:]))
			nibble := chans[ch].encodeSample(sample)
			if !havePending {
				pending = nibble
				havePending = true
			} else {
				out = append(out, pending|(nibble<<4))
				havePending = false
			}
		}
	}
	if havePending {
		out = append(out, pending)
	}

	return out, nil
}

func decodeADPCM(data []byte, channels int) ([]byte, error) {
	if len(data) < channels*4 {
		return nil, wrapErr(KindCompression, "decodeADPCM", "", "truncated ADPCM header")
	}

	chans := make([]adpcmChannel, channels)
	out := make([]byte, 0, len(data)*2)
	for ch := range chans {
		first := int16(binary.LittleEndian.Uint16(data[ch*4:]))
		chans[ch].predicted = int(first)
		chans[ch].index = 0
		var s [2]byte
		binary.LittleEndian.PutUint16(s[:], uint16(first))
		out = append(out, s[0], s[1])
	}
	data = data[channels*4:]

	nibbles := make([]byte, 0, len(data)*2)
	for _, b := range data {
		nibbles = append(nibbles, b&0x0F, b>>4)
	}

	ch := 0
	for _, nibble := range nibbles {
		chans[ch].applyNibble(nibble)
		var s [2]byte
		binary.LittleEndian.PutUint16(s[:], uint16(int16(clampSample(chans[ch].predicted))))
		out = append(out, s[0], s[1])
		ch++
		if ch == channels {
			ch = 0
		}
	}

	return out, nil
}
