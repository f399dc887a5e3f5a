// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestArchive(t *testing.T, version FormatVersion, opts ...BuilderOption) *Builder {
	t.Helper()
	return NewBuilder(version, opts...)
}

func writeAndOpen(t *testing.T, b *Builder) *Archive {
	t.Helper()
	out, err := b.Build()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.mpq")
	require.NoError(t, os.WriteFile(path, out, 0o644))

	a, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestBuilderRoundTripSingleUnit(t *testing.T) {
	b := buildTestArchive(t, FormatV1)
	data := []byte("hello, world")
	require.NoError(t, b.AddBytes("readme.txt", data, AddFileOptions{}))

	a := writeAndOpen(t, b)

	require.True(t, a.HasFile("readme.txt"))
	got, err := a.ReadFile("readme.txt")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBuilderRoundTripCompressedMultiSector(t *testing.T) {
	b := buildTestArchive(t, FormatV1, WithSectorSizeShift(9)) // 512-byte sectors
	data := sampleCompressibleData(4096)
	opts := AddFileOptions{Compress: true, Method: compressionZlib}
	require.NoError(t, b.AddBytes("data\\big.bin", data, opts))

	a := writeAndOpen(t, b)

	got, err := a.ReadFile("data\\big.bin")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBuilderRoundTripEncrypted(t *testing.T) {
	b := buildTestArchive(t, FormatV1)
	data := []byte("a secret payload, encrypted and fixed to its block position")
	opts := AddFileOptions{Encrypt: true, FixKey: true}
	require.NoError(t, b.AddBytes("secret.dat", data, opts))

	a := writeAndOpen(t, b)

	got, err := a.ReadFile("secret.dat")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBuilderRejectsDuplicateNames(t *testing.T) {
	b := buildTestArchive(t, FormatV1)
	require.NoError(t, b.AddBytes("dir/a.txt", []byte("1"), AddFileOptions{}))
	// AddBytes normalizes slashes but not case, so this collides once both
	// have been run through toBackslash.
	err := b.AddBytes("dir\\a.txt", []byte("2"), AddFileOptions{})
	require.Error(t, err)
}

func TestBuilderListfileContainsAllNames(t *testing.T) {
	b := buildTestArchive(t, FormatV1)
	names := []string{"a.txt", "dir\\b.txt", "dir\\sub\\c.txt"}
	for _, n := range names {
		require.NoError(t, b.AddBytes(n, []byte(n), AddFileOptions{}))
	}

	a := writeAndOpen(t, b)

	listing, err := a.List()
	require.NoError(t, err)
	for _, n := range names {
		found := false
		for _, l := range listing {
			if toBackslash(l) == toBackslash(n) {
				found = true
				break
			}
		}
		require.Truef(t, found, "List() missing %q: %v", n, listing)
	}

	found := false
	for _, l := range listing {
		if l == "(listfile)" {
			found = true
			break
		}
	}
	require.True(t, found, "List() missing its own (listfile) entry: %v", listing)
}

func TestBuilderListfilePolicyNoneOmitsListfile(t *testing.T) {
	b := buildTestArchive(t, FormatV1, WithListfilePolicy(ListfileNone))
	require.NoError(t, b.AddBytes("a.txt", []byte("a"), AddFileOptions{}))

	a := writeAndOpen(t, b)

	require.False(t, a.HasFile("(listfile)"))
}

func TestBuilderListfilePolicyExternalKeepsCallerContent(t *testing.T) {
	b := buildTestArchive(t, FormatV1, WithListfilePolicy(ListfileExternal))
	require.NoError(t, b.AddBytes("a.txt", []byte("a"), AddFileOptions{}))
	require.NoError(t, b.AddBytes("(listfile)", []byte("a.txt\r\n"), AddFileOptions{}))

	a := writeAndOpen(t, b)

	listing, err := a.List()
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt"}, listing)
}

func TestBuilderV2EmitsHiBlockTable(t *testing.T) {
	b := buildTestArchive(t, FormatV2)
	data := []byte("v2 archive payload")
	require.NoError(t, b.AddBytes("file.txt", data, AddFileOptions{}))

	a := writeAndOpen(t, b)

	info := a.GetInfo()
	require.Equal(t, FormatV2, info.FormatVersion)
	got, err := a.ReadFile("file.txt")
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestBuilderStrongSignature(t *testing.T) {
	priv, err := GenerateStrongKey()
	require.NoError(t, err)

	b := buildTestArchive(t, FormatV1)
	require.NoError(t, b.AddBytes("signed.txt", []byte("payload"), AddFileOptions{}))
	b.SignStrong(priv)

	out, err := b.Build()
	require.NoError(t, err)

	tailIdx := bytes.Index(out, []byte(strongSignatureTail))
	require.GreaterOrEqual(t, tailIdx, 0, "expected NGIS tail in signed archive")

	sig := out[tailIdx+len(strongSignatureTail):]
	require.Len(t, sig, StrongKeySize)

	archiveBody := out[:tailIdx]
	require.True(t, VerifyStrong(&priv.PublicKey, archiveBody, sig))
}

func TestBuilderWriteToDisk(t *testing.T) {
	b := buildTestArchive(t, FormatV1)
	require.NoError(t, b.AddBytes("a.txt", []byte("contents"), AddFileOptions{}))

	path := filepath.Join(t.TempDir(), "written.mpq")
	require.NoError(t, b.Write(path))

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	got, err := a.ReadFile("a.txt")
	require.NoError(t, err)
	require.Equal(t, "contents", string(got))
}
