// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/dsnet/compress/bzip2"
)

// offtout is the inverse of offtin, used only by tests to hand-build
// bsdiff40 control streams.
func offtout(v int64) [8]byte {
	neg := v < 0
	if neg {
		v = -v
	}
	var b [8]byte
	u := uint64(v)
	for i := 0; i < 7; i++ {
		b[i] = byte(u & 0xFF)
		u >>= 8
	}
	b[7] = byte(u & 0x7F)
	if neg {
		b[7] |= 0x80
	}
	return b
}

func TestOfftinRoundTrip(t *testing.T) {
	for _, v := range []int64{0, 1, 4, 255, 256, 1 << 20, -1, -4, -(1 << 20)} {
		enc := offtout(v)
		if got := offtin(enc[:]); got != v {
			t.Errorf("offtin(offtout(%d)) = %d", v, got)
		}
	}
}

func bzip2Compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{Level: bzip2.BestCompression})
	if err != nil {
		t.Fatalf("bzip2.NewWriter: %v", err)
	}
	if _, err := w.Write(data); err != nil {
		t.Fatalf("bzip2 write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("bzip2 close: %v", err)
	}
	return buf.Bytes()
}

// buildBsdiff40 constructs a single-control-triple bsdiff40 patch that turns
// base into newData, assuming len(base) == len(newData) and no inserted
// bytes (extraCount always 0). Good enough to exercise applyBsdiff40's
// control loop without reimplementing the bsdiff suffix-array encoder.
func buildBsdiff40(t *testing.T, base, newData []byte) []byte {
	t.Helper()
	if len(base) != len(newData) {
		t.Fatalf("buildBsdiff40 helper only supports equal-length base/new")
	}

	diff := make([]byte, len(newData))
	for i := range diff {
		diff[i] = newData[i] - base[i]
	}

	var ctrl bytes.Buffer
	diffCountEnc := offtout(int64(len(diff)))
	extraCountEnc := offtout(0)
	seekEnc := offtout(0)
	ctrl.Write(diffCountEnc[:])
	ctrl.Write(extraCountEnc[:])
	ctrl.Write(seekEnc[:])

	ctrlCompressed := bzip2Compress(t, ctrl.Bytes())
	diffCompressed := bzip2Compress(t, diff)
	extraCompressed := bzip2Compress(t, nil)

	var out bytes.Buffer
	out.WriteString("BSDIFF40")
	ctrlLenEnc := offtout(int64(len(ctrlCompressed)))
	diffLenEnc := offtout(int64(len(diffCompressed)))
	newSizeEnc := offtout(int64(len(newData)))
	out.Write(ctrlLenEnc[:])
	out.Write(diffLenEnc[:])
	out.Write(newSizeEnc[:])
	out.Write(ctrlCompressed)
	out.Write(diffCompressed)
	out.Write(extraCompressed)

	return out.Bytes()
}

func TestApplyBsdiff40(t *testing.T) {
	base := []byte("AAAA")
	newData := []byte("AAAB")

	patch := buildBsdiff40(t, base, newData)
	out, err := applyBsdiff40(base, patch)
	if err != nil {
		t.Fatalf("applyBsdiff40: %v", err)
	}
	if !bytes.Equal(out, newData) {
		t.Fatalf("applyBsdiff40 = %q, want %q", out, newData)
	}
}

func TestApplyBsdiff40RejectsBadMagic(t *testing.T) {
	if _, err := applyBsdiff40([]byte("x"), []byte("not bsdiff")); err == nil {
		t.Fatalf("expected error for bad magic")
	}
}

func buildPTCH(xfrm uint32, payload []byte, beforeMD5, afterMD5 [16]byte, withMD5 bool) []byte {
	var body bytes.Buffer
	if withMD5 {
		var md5Block bytes.Buffer
		md5Block.Write(beforeMD5[:])
		md5Block.Write(afterMD5[:])
		writeBlock(&body, md5Magic, md5Block.Bytes())
	}
	var xfrmBlock bytes.Buffer
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], xfrm)
	xfrmBlock.Write(tmp[:])
	xfrmBlock.Write(payload)
	writeBlock(&body, xfrmMagic, xfrmBlock.Bytes())

	var out bytes.Buffer
	var hdr [12]byte
	binary.LittleEndian.PutUint32(hdr[0:4], patchMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(12+body.Len()))
	out.Write(hdr[:])
	out.Write(body.Bytes())
	return out.Bytes()
}

func writeBlock(w *bytes.Buffer, magic uint32, body []byte) {
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[0:4], magic)
	binary.LittleEndian.PutUint32(tmp[4:8], uint32(len(body)))
	w.Write(tmp[:])
	w.Write(body)
}

func TestParseAndApplyPatchCopy(t *testing.T) {
	payload := []byte("replacement file contents")
	after := md5.Sum(payload)
	raw := buildPTCH(copyMagic, payload, [16]byte{}, after, true)

	pf, err := parsePatchFile(raw)
	if err != nil {
		t.Fatalf("parsePatchFile: %v", err)
	}

	out, err := applyPatch([]byte("irrelevant base for COPY"), pf)
	if err != nil {
		t.Fatalf("applyPatch: %v", err)
	}
	if !bytes.Equal(out, payload) {
		t.Fatalf("applyPatch COPY = %q, want %q", out, payload)
	}
}

func TestApplyPatchRejectsMD5Mismatch(t *testing.T) {
	payload := []byte("replacement file contents")
	var wrongAfter [16]byte
	raw := buildPTCH(copyMagic, payload, [16]byte{}, wrongAfter, true)

	pf, err := parsePatchFile(raw)
	if err != nil {
		t.Fatalf("parsePatchFile: %v", err)
	}
	if _, err := applyPatch(nil, pf); err == nil {
		t.Fatalf("expected MD5 mismatch error")
	} else if !IsKind(err, KindChecksumMismatch) {
		t.Errorf("error kind = %v, want ChecksumMismatch", err)
	}
}

func TestParsePatchFileRejectsBadMagic(t *testing.T) {
	if _, err := parsePatchFile([]byte("not a patch file at all")); err == nil {
		t.Fatalf("expected error for bad PTCH magic")
	}
}
