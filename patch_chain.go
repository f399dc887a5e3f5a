// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import "sort"

// PatchChain is an ordered stack of archives, later entries shadowing or
// incrementally patching earlier ones. ExtractFile resolves a name by
// finding the highest-priority archive containing it; if that entry is a
// patch, it walks down to the first non-patch base occurrence and composes
// every patch above it in ascending priority order.
type PatchChain struct {
	archives []*Archive // index 0 = lowest priority (base), last = highest
	opts     *options
}

// OpenPatchChain opens each path in order of increasing priority: the last
// path shadows every earlier one.
func OpenPatchChain(paths []string, opts ...Option) (*PatchChain, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	archives := make([]*Archive, 0, len(paths))
	for _, path := range paths {
		a, err := Open(path, func(oo *options) { *oo = *o })
		if err != nil {
			for _, opened := range archives {
				_ = opened.Close()
			}
			return nil, err
		}
		archives = append(archives, a)
	}

	return &PatchChain{archives: archives, opts: o}, nil
}

// Close closes every archive in the chain, returning the first error.
func (p *PatchChain) Close() error {
	var firstErr error
	for _, a := range p.archives {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// GetArchiveCount returns the number of archives in the chain.
func (p *PatchChain) GetArchiveCount() int { return len(p.archives) }

// resolve finds the highest-priority archive holding name and its block
// entry, or (-1, nil, err) if no archive has it.
func (p *PatchChain) resolve(name string) (int, *blockTableEntryEx, error) {
	for i := len(p.archives) - 1; i >= 0; i-- {
		block, err := p.archives[i].findFile(name)
		if err == nil {
			return i, block, nil
		}
	}
	return -1, nil, wrapErr(KindFileNotFound, "PatchChain", name, "file not found in any archive in the chain")
}

// HasFile reports whether name resolves to a live (non-deleted) entry
// anywhere in the chain.
func (p *PatchChain) HasFile(name string) bool {
	_, block, err := p.resolve(name)
	if err != nil {
		return false
	}
	return block.Flags&fileDeleteMarker == 0
}

// HasPatchFile reports whether name's highest-priority entry is a patch.
func (p *PatchChain) HasPatchFile(name string) bool {
	_, block, err := p.resolve(name)
	return err == nil && block.Flags&filePatchFile != 0
}

// ExtractFile resolves name to its fully composed bytes: if the
// highest-priority entry is a base file, its bytes are returned directly;
// if it is a patch, the chain is walked down to the first non-patch
// occurrence and every patch above that base is applied in ascending
// priority order.
func (p *PatchChain) ExtractFile(name string) ([]byte, error) {
	top, topBlock, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	if topBlock.Flags&fileDeleteMarker != 0 {
		return nil, wrapErr(KindFileNotFound, "ExtractFile", name, "file is deleted at the top of the chain")
	}
	if topBlock.Flags&filePatchFile == 0 {
		return p.archives[top].readBlock(name, topBlock)
	}

	// Walk down from top-1 to find the base and the ordered list of
	// patches above it.
	type patchEntry struct {
		archiveIdx int
		block      *blockTableEntryEx
	}
	var patches []patchEntry
	patches = append(patches, patchEntry{top, topBlock})

	baseIdx := -1
	var baseBlock *blockTableEntryEx
	for i := top - 1; i >= 0; i-- {
		block, err := p.archives[i].findFile(name)
		if err != nil {
			continue
		}
		if block.Flags&filePatchFile != 0 {
			patches = append(patches, patchEntry{i, block})
			continue
		}
		baseIdx, baseBlock = i, block
		break
	}
	if baseIdx == -1 {
		return nil, wrapErr(KindBaseForPatchMissing, "ExtractFile", name, "no non-patch base found below top-of-chain patch entry")
	}
	if baseBlock.Flags&fileDeleteMarker != 0 {
		return nil, wrapErr(KindBaseForPatchMissing, "ExtractFile", name, "base entry is a deletion marker")
	}

	// patches was built top-down; composing requires ascending priority
	// (lowest patch first), i.e. reverse order.
	sort.Slice(patches, func(i, j int) bool { return patches[i].archiveIdx < patches[j].archiveIdx })

	current, err := p.archives[baseIdx].readBlock(name, baseBlock)
	if err != nil {
		return nil, err
	}

	for _, pe := range patches {
		raw, err := p.archives[pe.archiveIdx].readPatchPayload(name, pe.block)
		if err != nil {
			return nil, err
		}
		pf, err := parsePatchFile(raw)
		if err != nil {
			return nil, err
		}
		current, err = applyPatch(current, pf)
		if err != nil {
			return nil, err
		}
	}

	return current, nil
}

// ListFiles returns the union of every archive's (listfile), deduplicated
// and respecting deletion markers at the top of the chain.
func (p *PatchChain) ListFiles() ([]string, error) {
	seen := make(map[string]bool)
	var out []string

	for i := len(p.archives) - 1; i >= 0; i-- {
		files, err := p.archives[i].List()
		if err != nil {
			continue
		}
		for _, f := range files {
			key := toBackslash(f)
			if seen[key] {
				continue
			}
			seen[key] = true
			if p.HasFile(f) {
				out = append(out, f)
			}
		}
	}

	sort.Strings(out)
	return out, nil
}
