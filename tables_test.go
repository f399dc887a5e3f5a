// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "testing"

func TestNextPowerOf2(t *testing.T) {
	cases := map[uint32]uint32{
		0:  1,
		1:  1,
		2:  2,
		3:  4,
		4:  4,
		5:  8,
		16: 16,
		17: 32,
	}
	for in, want := range cases {
		if got := nextPowerOf2(in); got != want {
			t.Errorf("nextPowerOf2(%d) = %d, want %d", in, got, want)
		}
	}
}

func newEmptyHashTable(size uint32) []hashTableEntry {
	table := make([]hashTableEntry, size)
	for i := range table {
		table[i] = hashTableEntry{HashA: hashTableEmpty, HashB: hashTableEmpty, BlockIndex: hashTableEmpty}
	}
	return table
}

func TestInsertAndLookupTraditional(t *testing.T) {
	table := newEmptyHashTable(16)

	names := []string{"Data\\a.txt", "Data\\b.txt", "Data\\SubDir\\c.txt"}
	for i, name := range names {
		idx, ok := insertTraditional(table, name)
		if !ok {
			t.Fatalf("insertTraditional(%q) failed", name)
		}
		table[idx] = hashTableEntry{
			HashA:      hashString(name, hashTypeNameA),
			HashB:      hashString(name, hashTypeNameB),
			BlockIndex: uint32(i),
		}
	}

	for i, name := range names {
		idx, ok := lookupTraditional(table, name, 0, 0)
		if !ok {
			t.Fatalf("lookupTraditional(%q) not found", name)
		}
		if table[idx].BlockIndex != uint32(i) {
			t.Errorf("lookupTraditional(%q) block = %d, want %d", name, table[idx].BlockIndex, i)
		}
	}

	if _, ok := lookupTraditional(table, "Data\\missing.txt", 0, 0); ok {
		t.Errorf("lookupTraditional found a name that was never inserted")
	}
}

func TestLookupTraditionalCaseAndSlashInsensitive(t *testing.T) {
	table := newEmptyHashTable(8)
	idx, ok := insertTraditional(table, "Data\\File.txt")
	if !ok {
		t.Fatalf("insertTraditional failed")
	}
	table[idx] = hashTableEntry{
		HashA:      hashString("Data\\File.txt", hashTypeNameA),
		HashB:      hashString("Data\\File.txt", hashTypeNameB),
		BlockIndex: 0,
	}

	if _, ok := lookupTraditional(table, "data/file.TXT", 0, 0); !ok {
		t.Errorf("lookup should be case- and slash-insensitive")
	}
}

func TestInsertTraditionalFullTable(t *testing.T) {
	table := newEmptyHashTable(2)
	idx, ok := insertTraditional(table, "a")
	if !ok {
		t.Fatalf("first insert should succeed")
	}
	table[idx].BlockIndex = 0
	idx, ok = insertTraditional(table, "b")
	if !ok {
		t.Fatalf("second insert should succeed")
	}
	table[idx].BlockIndex = 1
	if _, ok := insertTraditional(table, "c"); ok {
		t.Fatalf("insert into a full table should fail")
	}
}

func TestEncodeHashTablePacksLocalePlatform(t *testing.T) {
	table := newEmptyHashTable(4)
	table[0] = hashTableEntry{HashA: 1, HashB: 2, Locale: 3, Platform: 4, BlockIndex: 5}

	raw := encodeHashTable(table)
	if len(raw) != len(table)*4 {
		t.Fatalf("encodeHashTable len = %d, want %d", len(raw), len(table)*4)
	}
	if raw[2] != uint32(3)|(uint32(4)<<16) {
		t.Errorf("locale/platform packed incorrectly: got %08x", raw[2])
	}
}

func TestEncodeBlockTableLayout(t *testing.T) {
	table := []blockTableEntryEx{
		{blockTableEntry: blockTableEntry{FilePos: 10, CompressedSize: 20, FileSize: 30, Flags: fileExists}},
	}
	raw := encodeBlockTable(table)
	if raw[0] != 10 || raw[1] != 20 || raw[2] != 30 || raw[3] != fileExists {
		t.Fatalf("encodeBlockTable mismatch: %v", raw)
	}
}
