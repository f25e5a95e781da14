package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"testing"

	"github.com/stretchr/testify/require"
)

func encryptForTest(t *testing.T, plaintext, key, iv []byte) []byte {
	t.Helper()
	block, err := aes.NewCipher(key)
	require.NoError(t, err)

	padLen := aes.BlockSize - len(plaintext)%aes.BlockSize
	padded := append(append([]byte{}, plaintext...), bytes.Repeat([]byte{byte(padLen)}, padLen)...)

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func TestDecrypt_RoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x01}, 16)
	iv := bytes.Repeat([]byte{0x02}, 16)
	plaintext := []byte("this is segment data that spans more than one AES block")

	ciphertext := encryptForTest(t, plaintext, key, iv)
	got, err := Decrypt(ciphertext, key, iv)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestNormalizeHex_AcceptsPrefixAndWhitespace(t *testing.T) {
	b, err := NormalizeHex(" 0x0123456789abcdef0123456789abcdef ", 16)
	require.NoError(t, err)
	require.Len(t, b, 16)
}

func TestNormalizeHex_RejectsOddLength(t *testing.T) {
	_, err := NormalizeHex("0123456789abcdef0123456789abcde", 16)
	require.Error(t, err)
}

func TestIVFromSequence(t *testing.T) {
	iv := IVFromSequence(1)
	require.Len(t, iv, 16)
	require.Equal(t, byte(1), iv[15])
	for _, b := range iv[:15] {
		require.Equal(t, byte(0), b)
	}
}

func TestDecrypt_RejectsBadKeyLength(t *testing.T) {
	_, err := Decrypt(make([]byte, 16), make([]byte, 10), make([]byte, 16))
	require.Error(t, err)
}
