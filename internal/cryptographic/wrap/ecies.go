package wrap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/crypto/ecies"
)

// ECIES key wrap over secp256k1. Public keys are uncompressed points with
// the leading tag byte stripped (64 bytes, hex); private keys are 32-byte
// scalars. The wrapped blob is self-contained and carried as hex.

// Wrap encrypts secret to the holder of pubHex.
func Wrap(pubHex string, secret []byte) (string, error) {
	raw, err := hex.DecodeString(pubHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	if len(raw) != 64 {
		return "", fmt.Errorf("public key must be 64 bytes, got %d", len(raw))
	}

	pub, err := crypto.UnmarshalPubkey(append([]byte{0x04}, raw...))
	if err != nil {
		return "", fmt.Errorf("unmarshal public key: %w", err)
	}

	blob, err := ecies.Encrypt(rand.Reader, ecies.ImportECDSAPublic(pub), secret, nil, nil)
	if err != nil {
		return "", fmt.Errorf("ecies encrypt: %w", err)
	}
	return hex.EncodeToString(blob), nil
}

// Unwrap decrypts a hex blob with a 32-byte private scalar.
func Unwrap(priv []byte, blobHex string) ([]byte, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, fmt.Errorf("import private key: %w", err)
	}
	blob, err := hex.DecodeString(blobHex)
	if err != nil {
		return nil, fmt.Errorf("decode blob: %w", err)
	}
	secret, err := ecies.ImportECDSA(key).Decrypt(blob, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("ecies decrypt: %w", err)
	}
	return secret, nil
}
