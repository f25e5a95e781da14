// Package crypto implements the AES-128-CBC segment decryptor (spec
// §4.4). It is deliberately built on the standard library's crypto/aes
// and crypto/cipher: no repo in the retrieval pack reaches for a
// third-party AES implementation for this, and crypto/aes is the
// idiomatic Go answer for a well-understood, constant-time block
// cipher already vetted by the standard library.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/binary"
	"fmt"
	"strings"
)

// ErrorKind classifies decryption failures (CryptoError in spec §7).
type ErrorKind int

const (
	InvalidKey ErrorKind = iota
	InvalidIV
	DecryptionFailed
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidKey:
		return "InvalidKey"
	case InvalidIV:
		return "InvalidIV"
	case DecryptionFailed:
		return "DecryptionFailed"
	default:
		return "Unknown"
	}
}

// Error is the error type raised by this package.
type Error struct {
	Kind   ErrorKind
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("crypto: %s: %s", e.Kind, e.Reason)
}

// NormalizeHex strips whitespace and an optional 0x/0X prefix from a
// hex string and validates its length is exactly the expected number
// of hex characters (32 for AES-128's 16-byte key or IV). Spec §4.4 /
// §8 boundary behavior: "0x" prefix and whitespace accepted, odd or
// wrong-length hex rejected.
func NormalizeHex(s string, expectedBytes int) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r':
			return -1
		default:
			return r
		}
	}, s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")

	if len(s) != expectedBytes*2 {
		return nil, &Error{Kind: InvalidKey, Reason: fmt.Sprintf("expected %d hex characters, got %d", expectedBytes*2, len(s))}
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, &Error{Kind: InvalidKey, Reason: err.Error()}
	}
	return b, nil
}

// IVFromSequence derives the IV the HLS spec mandates when EXT-X-KEY
// does not declare one explicitly: the big-endian representation of
// the segment's media-sequence number, zero-padded to 16 bytes (spec
// §4.4).
func IVFromSequence(mediaSequence uint64) []byte {
	iv := make([]byte, 16)
	binary.BigEndian.PutUint64(iv[8:], mediaSequence)
	return iv
}

// Decrypt decrypts AES-128-CBC ciphertext with PKCS#7 padding. key and
// iv must each be 16 bytes.
func Decrypt(ciphertext, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, &Error{Kind: InvalidKey, Reason: fmt.Sprintf("key must be 16 bytes, got %d", len(key))}
	}
	if len(iv) != 16 {
		return nil, &Error{Kind: InvalidIV, Reason: fmt.Sprintf("IV must be 16 bytes, got %d", len(iv))}
	}
	if len(ciphertext) == 0 {
		return nil, nil
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, &Error{Kind: DecryptionFailed, Reason: "ciphertext is not a multiple of the block size"}
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &Error{Kind: InvalidKey, Reason: err.Error()}
	}

	plaintext := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv)
	mode.CryptBlocks(plaintext, ciphertext)

	return unpadPKCS7(plaintext)
}

func unpadPKCS7(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, &Error{Kind: DecryptionFailed, Reason: "invalid PKCS#7 padding"}
	}
	padding := data[len(data)-padLen:]
	if !bytes.Equal(padding, bytes.Repeat([]byte{byte(padLen)}, padLen)) {
		return nil, &Error{Kind: DecryptionFailed, Reason: "invalid PKCS#7 padding"}
	}
	return data[:len(data)-padLen], nil
}
