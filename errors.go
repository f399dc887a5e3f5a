// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies the broad category of an Error, per the error taxonomy
// callers are expected to switch on.
type Kind int

const (
	// KindIoError covers failures reading or writing the backing file.
	KindIoError Kind = iota
	// KindInvalidFormat covers malformed headers, tables, or archive bytes.
	KindInvalidFormat
	// KindUnsupportedVersion covers format versions this core does not parse.
	KindUnsupportedVersion
	// KindCrypto covers decryption/signature failures.
	KindCrypto
	// KindCompression covers codec encode/decode failures.
	KindCompression
	// KindTable covers hash/block/HET/BET table corruption.
	KindTable
	// KindFileNotFound covers a name that resolves to no entry.
	KindFileNotFound
	// KindPatchFileRequiresChain covers a direct read of a PATCH_FILE entry
	// outside of a PatchChain.
	KindPatchFileRequiresChain
	// KindBaseForPatchMissing covers a patch chain with no non-patch base.
	KindBaseForPatchMissing
	// KindChecksumMismatch covers a sector CRC or MD5 verification failure.
	KindChecksumMismatch
	// KindSecurityLimitExceeded covers a decompression budget breach.
	KindSecurityLimitExceeded
	// KindLocked covers contention for a MutableArchive's exclusive lock.
	KindLocked
	// KindPoisonedPlan covers a staged edit plan left inconsistent by a
	// prior failed flush.
	KindPoisonedPlan
)

func (k Kind) String() string {
	switch k {
	case KindIoError:
		return "IoError"
	case KindInvalidFormat:
		return "InvalidFormat"
	case KindUnsupportedVersion:
		return "UnsupportedVersion"
	case KindCrypto:
		return "Crypto"
	case KindCompression:
		return "Compression"
	case KindTable:
		return "Table"
	case KindFileNotFound:
		return "FileNotFound"
	case KindPatchFileRequiresChain:
		return "PatchFileRequiresChain"
	case KindBaseForPatchMissing:
		return "BaseForPatchMissing"
	case KindChecksumMismatch:
		return "ChecksumMismatch"
	case KindSecurityLimitExceeded:
		return "SecurityLimitExceeded"
	case KindLocked:
		return "Locked"
	case KindPoisonedPlan:
		return "PoisonedPlan"
	default:
		return "Unknown"
	}
}

// Error is the typed error every core operation returns. Callers can
// errors.As into *Error to recover Kind regardless of how many layers of
// context wrap it.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "Open", "ReadFile"
	Path    string // file name or archive path involved, if any
	cause   error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("mpq: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.cause)
	}
	return fmt.Sprintf("mpq: %s: %s: %v", e.Op, e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// newErr builds a typed Error, wrapping cause with errors.WithStack so the
// original stack trace location is preserved.
func newErr(kind Kind, op, path string, cause error) *Error {
	if cause == nil {
		cause = errors.New(kind.String())
	}
	return &Error{Kind: kind, Op: op, Path: path, cause: errors.WithStack(cause)}
}

func wrapErr(kind Kind, op, path string, format string, args ...any) *Error {
	return newErr(kind, op, path, errors.Errorf(format, args...))
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
