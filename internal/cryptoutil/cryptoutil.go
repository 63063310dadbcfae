// Package cryptoutil provides the hashing and signing primitives used by the
// deduplication fingerprint, the per-intent event chain, and the audit chain.
//
// All digests are hex-encoded SHA-256. Canonical JSON follows RFC 8785 (JCS)
// so that two structurally equal payloads always hash identically regardless
// of map iteration order.
package cryptoutil

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// ZeroDigest is the predecessor hash of the first event in every chain:
// 64 zero characters, the hex form of an all-zero SHA-256 digest.
const ZeroDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// SHA256Hex returns the hex-encoded SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HMACSHA256Hex returns the hex-encoded HMAC-SHA-256 of data under key.
func HMACSHA256Hex(key, data []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CanonicalJSON serializes v and transforms the result into RFC 8785
// canonical form (sorted keys, minimal escapes).
func CanonicalJSON(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return canonical, nil
}

// CanonicalDigest returns SHA256Hex(CanonicalJSON(v)).
func CanonicalDigest(v interface{}) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(canonical), nil
}

// ChainDigest computes the hash of one link in an append-only chain:
// SHA-256 over the canonical serialization of v concatenated with the
// hex-encoded hash of the previous link.
func ChainDigest(v interface{}, previousHash string) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	return SHA256Hex(append(canonical, []byte(previousHash)...)), nil
}

// ============================================================================
// ED25519 SIGNING KEY
// ============================================================================

// SigningKey wraps an Ed25519 key pair for audit-record signatures.
type SigningKey struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateSigningKey creates a fresh Ed25519 key pair.
func GenerateSigningKey() (*SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &SigningKey{priv: priv, pub: pub}, nil
}

// SigningKeyFromSeedHex restores a key pair from a hex-encoded 32-byte seed.
func SigningKeyFromSeedHex(seedHex string) (*SigningKey, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &SigningKey{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// SignHex signs data and returns the hex-encoded signature.
func (k *SigningKey) SignHex(data []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.priv, data))
}

// Verify checks a hex-encoded signature over data against this key pair.
func (k *SigningKey) Verify(data []byte, sigHex string) bool {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(k.pub, data, sig)
}

// VerifyWithPublicKeyHex checks a signature using an external hex public key.
func VerifyWithPublicKeyHex(pubHex string, data []byte, sigHex string) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig)
}

// PublicKeyHex returns the hex-encoded public key.
func (k *SigningKey) PublicKeyHex() string {
	return hex.EncodeToString(k.pub)
}

// Algorithm returns the signature algorithm identifier stored on records.
func (k *SigningKey) Algorithm() string { return "ed25519" }
