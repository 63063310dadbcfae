package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// envelopeKey is the sentinel key marking an encrypted payload map. A map is
// either fully cleartext or a single-key envelope, never mixed.
const envelopeKey = "__enc"

// FieldCodec serializes context/metadata maps for storage, optionally
// wrapping them in an AES-256-GCM envelope. Readers detect the sentinel and
// always hand back cleartext.
type FieldCodec struct {
	aead cipher.AEAD
}

// NewFieldCodec builds a codec. keyHex must be a hex-encoded 32-byte key, or
// empty for a cleartext-only codec.
func NewFieldCodec(keyHex string) (*FieldCodec, error) {
	if keyHex == "" {
		return &FieldCodec{}, nil
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &FieldCodec{aead: aead}, nil
}

// CanEncrypt reports whether a key was configured.
func (c *FieldCodec) CanEncrypt() bool { return c.aead != nil }

// Marshal serializes m for storage. With encrypt set (and a key configured)
// the result is the sentinel envelope; otherwise plain JSON. Nil maps
// serialize as empty objects.
func (c *FieldCodec) Marshal(m map[string]interface{}, encrypt bool) ([]byte, error) {
	if m == nil {
		m = map[string]interface{}{}
	}
	plain, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if !encrypt {
		return plain, nil
	}
	if c.aead == nil {
		return nil, fmt.Errorf("encryption requested but no key configured")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, plain, nil)

	envelope := map[string]interface{}{
		envelopeKey: map[string]interface{}{
			"alg":   "aes-256-gcm",
			"nonce": hex.EncodeToString(nonce),
			"data":  hex.EncodeToString(sealed),
		},
	}
	return json.Marshal(envelope)
}

// Unmarshal deserializes a stored payload, transparently decrypting the
// sentinel envelope when present.
func (c *FieldCodec) Unmarshal(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	env, ok := m[envelopeKey].(map[string]interface{})
	if !ok {
		return m, nil
	}
	if c.aead == nil {
		return nil, fmt.Errorf("encrypted payload but no key configured")
	}

	nonceHex, _ := env["nonce"].(string)
	dataHex, _ := env["data"].(string)
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return nil, fmt.Errorf("invalid envelope nonce")
	}
	sealed, err := hex.DecodeString(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid envelope data")
	}

	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt payload: %w", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(plain, &out); err != nil {
		return nil, fmt.Errorf("unmarshal decrypted payload: %w", err)
	}
	return out, nil
}
