package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// FieldCodec encrypts identity fields at rest. Sealing is randomized
// (AES-GCM, fresh nonce per call) so equal plaintexts yield different
// ciphertexts; LookupKey gives the deterministic keyed hash stored next to
// the ciphertext for indexed lookup.
type FieldCodec struct {
	aead   cipher.AEAD
	macKey []byte
}

// NewFieldCodec derives independent encryption and lookup-MAC keys from a
// master key of at least 32 bytes.
func NewFieldCodec(master []byte) (*FieldCodec, error) {
	if len(master) < 32 {
		return nil, errors.New("master key too short, want >= 32 bytes")
	}

	kdf := hkdf.New(sha256.New, master, nil, []byte("konnectd field keys v1"))
	encKey := make([]byte, 32)
	macKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, encKey); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(kdf, macKey); err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &FieldCodec{aead: aead, macKey: macKey}, nil
}

// NewFieldCodecHex is NewFieldCodec for a hex encoded master key, as passed
// on the command line.
func NewFieldCodecHex(masterHex string) (*FieldCodec, error) {
	master, err := hex.DecodeString(masterHex)
	if err != nil {
		return nil, fmt.Errorf("master key: %v", err)
	}
	return NewFieldCodec(master)
}

// Seal encrypts a field value. Output is base64(nonce || ciphertext).
func (c *FieldCodec) Seal(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (c *FieldCodec) Open(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("field decode: %v", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("field ciphertext too short")
	}
	nonce, ct := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("field open: %v", err)
	}
	return string(plain), nil
}

// LookupKey returns the deterministic index key for a field value,
// hex(HMAC-SHA256(macKey, plain)).
func (c *FieldCodec) LookupKey(plain string) string {
	m := hmac.New(sha256.New, c.macKey)
	m.Write([]byte(plain))
	return hex.EncodeToString(m.Sum(nil))
}
