package kdf

import (
	"golang.org/x/crypto/scrypt"
)

// Interactive scrypt parameters; the sealing key is derived once per
// store open.
const (
	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// SealingKey stretches a passphrase into the 32-byte key that seals the
// secret file store.
func SealingKey(passphrase, salt []byte) ([]byte, error) {
	return scrypt.Key(passphrase, salt, scryptN, scryptR, scryptP, 32)
}
