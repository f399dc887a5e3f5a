// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

/*
Package mpq provides pure Go support for reading, writing, and modifying
MPQ (Mo'PaQ) archives.

MPQ is an archive format created by Blizzard Entertainment, used in games
like Diablo, StarCraft, and World of Warcraft. This package covers the
full header lineage from V1 through V4, including the HET/BET extended
tables introduced for V3 (Cataclysm+). The V4 per-table MD5 fields are
parsed from the header but are not verified on read and are written as
zero by the builder; V4 compressed tables are not decompressed.

# Features

  - Pure Go implementation, no CGO
  - Read, build, and in-place modify MPQ archives across format V1-V4
  - Traditional hash/block tables and HET/BET extended tables
  - Sector-level decryption, per-sector CRC, and the full codec stack:
    zlib, bzip2, LZMA, PKWare implode, sparse/RLE, Huffman, and ADPCM
    mono/stereo, including the stacked multi-method form
  - Patch chains: an ordered stack of archives composed via bsdiff40
    binary patches
  - Weak (RSA-512/MD5) and strong (RSA-2048/SHA-1) signature
    verification and generation

# Reading an archive

	archive, err := mpq.Open("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer archive.Close()

	if archive.HasFile("Data\\file.txt") {
		data, err := archive.ReadFile("Data\\file.txt")
		if err != nil {
			log.Fatal(err)
		}
	}

# Patch chains

	chain, err := mpq.OpenPatchChain([]string{"base.mpq", "patch-1.mpq", "patch-2.mpq"})
	if err != nil {
		log.Fatal(err)
	}
	defer chain.Close()

	data, err := chain.ExtractFile("Data\\file.txt")

# Building an archive

	b := mpq.NewBuilder(mpq.FormatV2)
	b.AddBytes("Data\\file.txt", []byte("hello"), mpq.AddFileOptions{Compress: true})
	if err := b.Write("out.mpq"); err != nil {
		log.Fatal(err)
	}

# Modifying an archive in place

	m, err := mpq.OpenMutable("game.mpq")
	if err != nil {
		log.Fatal(err)
	}
	defer m.Close()

	m.RemoveFile("Data\\old.txt")
	if err := m.Flush(); err != nil {
		log.Fatal(err)
	}

# Path Conventions

MPQ archives use backslash (\) as the path separator. This package
accepts forward slashes too and normalizes them internally:

	archive.ReadFile("Data/SubDir/file.txt") // also works

# Non-goals

This package does not parse game-specific asset formats (terrain,
model, texture, map, database) that happen to live inside MPQ archives,
and it does not implement a command-line dispatcher. Those are
consumers of this core, not part of it.
*/
package mpq
