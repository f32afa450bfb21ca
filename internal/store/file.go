package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/timloh-professional/origin/internal/cryptographic/kdf"
)

const fileSaltLen = 16

// File is the durable store: a single flat file holding a JSON map of
// secrets, sealed with AES-GCM under an scrypt-stretched passphrase.
// Layout on disk is salt || nonce || ciphertext; the salt doubles as the
// additional data, so a sealed blob cannot be replayed under a different
// salt.
type File struct {
	mu   sync.Mutex
	path string
	pass []byte
}

func NewFile(path string, passphrase []byte) *File {
	return &File{path: path, pass: passphrase}
}

func (s *File) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, _, err := s.load()
	if err != nil {
		return "", false, err
	}
	v, ok := m[key]
	return v, ok, nil
}

func (s *File) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, salt, err := s.load()
	if err != nil {
		return err
	}
	m[key] = value
	return s.save(m, salt)
}

func (s *File) load() (map[string]string, []byte, error) {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		salt := make([]byte, fileSaltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, fmt.Errorf("rand.Read salt: %w", err)
		}
		return map[string]string{}, salt, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read store: %w", err)
	}
	if len(raw) < fileSaltLen {
		return nil, nil, fmt.Errorf("store file truncated")
	}

	salt := raw[:fileSaltLen]
	aead, err := s.sealer(salt)
	if err != nil {
		return nil, nil, err
	}
	sealed := raw[fileSaltLen:]
	if len(sealed) < aead.NonceSize() {
		return nil, nil, fmt.Errorf("store file truncated")
	}
	plain, err := aead.Open(nil, sealed[:aead.NonceSize()], sealed[aead.NonceSize():], salt)
	if err != nil {
		return nil, nil, fmt.Errorf("unseal store: %w", err)
	}

	var m map[string]string
	if err := json.Unmarshal(plain, &m); err != nil {
		return nil, nil, fmt.Errorf("decode store: %w", err)
	}
	return m, salt, nil
}

func (s *File) save(m map[string]string, salt []byte) error {
	plain, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	aead, err := s.sealer(salt)
	if err != nil {
		return err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("rand.Read nonce: %w", err)
	}

	out := make([]byte, 0, fileSaltLen+len(nonce)+len(plain)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plain, salt)
	return os.WriteFile(s.path, out, 0o600)
}

// sealer builds the AES-GCM instance for one salt.
func (s *File) sealer(salt []byte) (cipher.AEAD, error) {
	key, err := kdf.SealingKey(s.pass, salt)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return aead, nil
}
