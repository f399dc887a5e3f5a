// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package mpq

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"math/big"
)

// MPQ signatures are raw, unpadded RSA over a fixed-format padded digest
// block, never the stdlib's PKCS#1 v1.5 padding: Blizzard's own tooling
// predates that convention and StormLib/warcraft-rs both reimplement the
// block layout by hand. Weak signatures use a 512-bit key and MD5; strong
// signatures use a 2048-bit key, SHA-1, and are appended after the archive
// with the "NGIS" tail defined in format.go.
const (
	weakKeyBits   = 512
	strongKeyBits = 2048
)

// WeakKeySize and StrongKeySize are the RSA modulus sizes in bytes.
const (
	WeakKeySize   = weakKeyBits / 8
	StrongKeySize = strongKeyBits / 8
)

// GenerateWeakKey and GenerateStrongKey produce fresh RSA key pairs sized
// for the corresponding signature type. Real Blizzard-signed archives were
// signed with Blizzard's own private keys, which this package has no way
// to reproduce; callers that need to sign archives generate and manage
// their own key pair instead.
func GenerateWeakKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, weakKeyBits)
}

func GenerateStrongKey() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, strongKeyBits)
}

// rawSign computes message^D mod N, left-padded to the modulus's byte
// length: the raw RSA primitive, no PKCS#1 involved.
func rawSign(priv *rsa.PrivateKey, block []byte) []byte {
	m := new(big.Int).SetBytes(block)
	c := new(big.Int).Exp(m, priv.D, priv.N)
	return leftPad(c.Bytes(), (priv.N.BitLen()+7)/8)
}

// rawVerify computes signature^E mod N.
func rawVerify(pub *rsa.PublicKey, signature []byte) []byte {
	c := new(big.Int).SetBytes(signature)
	e := big.NewInt(int64(pub.E))
	m := new(big.Int).Exp(c, e, pub.N)
	return leftPad(m.Bytes(), (pub.N.BitLen()+7)/8)
}

func leftPad(b []byte, size int) []byte {
	if len(b) >= size {
		return b[len(b)-size:]
	}
	out := make([]byte, size)
	copy(out[size-len(b):], b)
	return out
}

// buildPaddedBlock lays out 0x00 0x01 0xFF...0xFF 0x00 <digest>, the
// padding convention MPQ signatures use ahead of the digest bytes, filling
// the RSA modulus exactly.
func buildPaddedBlock(digest []byte, size int) []byte {
	block := make([]byte, size)
	block[0] = 0x00
	block[1] = 0x01
	for i := 2; i < size-len(digest)-1; i++ {
		block[i] = 0xFF
	}
	block[size-len(digest)-1] = 0x00
	copy(block[size-len(digest):], digest)
	return block
}

func checkPaddedBlock(block, digest []byte) bool {
	size := len(block)
	if size < len(digest)+3 {
		return false
	}
	if block[0] != 0x00 || block[1] != 0x01 {
		return false
	}
	for i := 2; i < size-len(digest)-1; i++ {
		if block[i] != 0xFF {
			return false
		}
	}
	if block[size-len(digest)-1] != 0x00 {
		return false
	}
	got := block[size-len(digest):]
	for i := range digest {
		if got[i] != digest[i] {
			return false
		}
	}
	return true
}

// SignWeak produces a weak (RSA-512/MD5) signature over archiveData, which
// should be the full archive bytes with the (signature) file's own content
// zeroed, matching what VerifyWeak expects to re-derive.
func SignWeak(priv *rsa.PrivateKey, archiveData []byte) []byte {
	sum := md5.Sum(archiveData)
	block := buildPaddedBlock(sum[:], WeakKeySize)
	return rawSign(priv, block)
}

// VerifyWeak checks a weak signature against archiveData (signature region
// zeroed, as for SignWeak).
func VerifyWeak(pub *rsa.PublicKey, archiveData, signature []byte) bool {
	if len(signature) != WeakKeySize {
		return false
	}
	sum := md5.Sum(archiveData)
	block := rawVerify(pub, signature)
	return checkPaddedBlock(block, sum[:])
}

// SignStrong produces a strong (RSA-2048/SHA-1) signature over archiveData
// (signature region excluded from the input, since the strong signature is
// appended after the archive rather than stored in a special file).
func SignStrong(priv *rsa.PrivateKey, archiveData []byte) []byte {
	sum := sha1.Sum(archiveData)
	block := buildPaddedBlock(sum[:], StrongKeySize)
	sig := rawSign(priv, block)
	reverseBytes(sig)
	return sig
}

// VerifyStrong checks a strong signature. Strong signatures are stored
// byte-reversed on disk (a quirk both StormLib and warcraft-rs preserve
// for on-wire compatibility), so the caller's raw bytes are reversed
// before the RSA primitive is applied.
func VerifyStrong(pub *rsa.PublicKey, archiveData, signature []byte) bool {
	if len(signature) != StrongKeySize {
		return false
	}
	rev := make([]byte, len(signature))
	copy(rev, signature)
	reverseBytes(rev)

	sum := sha1.Sum(archiveData)
	block := rawVerify(pub, rev)
	return checkPaddedBlock(block, sum[:])
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// weakSignatureFileSize is the fixed on-disk size of the (signature)
// special file: 8 bytes of zero-padded header followed by the 64-byte
// RSA-512 signature. The header carries no length field; StormLib and
// warcraft-rs both treat it as padding and slice the signature out at a
// fixed offset rather than decoding it.
const weakSignatureFileSize = 8 + WeakKeySize

// SignatureInfo is the parsed contents of the (signature) special file,
// which carries a weak signature alongside the archive rather than after
// it like the strong signature's "NGIS"-tailed trailer.
type SignatureInfo struct {
	Signature []byte
}

// ReadSignature reads and parses the (signature) special file, returning
// nil if the archive carries none.
func (a *Archive) ReadSignature() (*SignatureInfo, error) {
	block, err := a.findFile("(signature)")
	if err != nil {
		return nil, nil
	}

	data, err := a.readBlock("(signature)", block)
	if err != nil {
		return nil, newErr(KindIoError, "ReadSignature", "(signature)", err)
	}
	if len(data) < weakSignatureFileSize {
		return nil, wrapErr(KindInvalidFormat, "ReadSignature", "(signature)", "signature file too small: want %d have %d", weakSignatureFileSize, len(data))
	}

	sig := make([]byte, WeakKeySize)
	copy(sig, data[8:weakSignatureFileSize])
	return &SignatureInfo{Signature: sig}, nil
}
