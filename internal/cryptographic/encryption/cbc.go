package encryption

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/timloh-professional/origin/internal/model"
)

// tagLen is the number of base64 characters of SHA-1(plaintext) appended
// before encryption. The tag is not a MAC; it only discriminates among
// candidate room keys. Authenticity comes from the log entry signature.
const tagLen = 6

func integrityTag(plaintext []byte) string {
	sum := sha1.Sum(plaintext)
	return base64.StdEncoding.EncodeToString(sum[:])[:tagLen]
}

// Encrypt seals a UTF-8 plaintext under a 32-byte room key with AES-CBC,
// a random 16-byte IV and PKCS#7 padding. Returns the base64 iv and
// ciphertext of plaintext||tag.
func Encrypt(key []byte, plaintext string) (iv, ciphertext string, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	rawIV := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, rawIV); err != nil {
		return "", "", fmt.Errorf("rand.Read iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext + integrityTag([]byte(plaintext))))
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, rawIV).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(rawIV),
		base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt with one candidate key. Any failure (bad
// base64, bad padding, non-UTF-8, length <= tag, tag mismatch) reports
// model.ErrNotDecryptable so the caller can try the next room key.
func Decrypt(key []byte, ivB64, ciphertextB64 string) (string, error) {
	rawIV, err := base64.StdEncoding.DecodeString(ivB64)
	if err != nil || len(rawIV) != aes.BlockSize {
		return "", model.ErrNotDecryptable
	}
	ct, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil || len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", model.ErrNotDecryptable
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}

	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, rawIV).CryptBlocks(out, ct)

	text, ok := pkcs7Unpad(out)
	if !ok || !utf8.Valid(text) || len(text) <= tagLen {
		return "", model.ErrNotDecryptable
	}

	prefix, tag := text[:len(text)-tagLen], string(text[len(text)-tagLen:])
	if integrityTag(prefix) != tag {
		return "", model.ErrNotDecryptable
	}
	return string(prefix), nil
}

func pkcs7Pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(b, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(b []byte) ([]byte, bool) {
	if len(b) == 0 {
		return nil, false
	}
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, false
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, false
		}
	}
	return b[:len(b)-n], true
}
