package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/model"
)

// SignMode selects how the wallet hashes the message before signing.
type SignMode int

const (
	// SignModePersonal is the EIP-191 personal_sign style.
	SignModePersonal SignMode = iota
	// SignModeRaw signs keccak256 of the message directly.
	SignModeRaw
)

// Signer is the external wallet the engine asks for signatures. The
// private wallet key never enters the engine.
type Signer interface {
	Sign(ctx context.Context, message []byte, address string) (string, error)
}

type (
	// LocalSigner holds an in-memory secp256k1 key. Used by the terminal
	// client and the tests; a production deployment points Signer at a
	// real wallet bridge instead.
	LocalSigner struct {
		priv *ecdsa.PrivateKey
		mode SignMode
	}
)

func NewLocalSigner(mode SignMode) (*LocalSigner, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return &LocalSigner{priv: priv, mode: mode}, nil
}

func NewLocalSignerFromHex(privHex string, mode SignMode) (*LocalSigner, error) {
	priv, err := crypto.HexToECDSA(privHex)
	if err != nil {
		return nil, fmt.Errorf("import wallet key: %w", err)
	}
	return &LocalSigner{priv: priv, mode: mode}, nil
}

// Address is the checksummed wallet address of the held key.
func (s *LocalSigner) Address() string {
	return crypto.PubkeyToAddress(s.priv.PublicKey).Hex()
}

func (s *LocalSigner) Sign(_ context.Context, message []byte, address string) (string, error) {
	if model.Checksum(address) != s.Address() {
		return "", fmt.Errorf("signer does not hold %s", address)
	}
	switch s.mode {
	case SignModeRaw:
		return keys.SignDigest(s.priv, crypto.Keccak256(message))
	default:
		return keys.SignDigest(s.priv, accounts.TextHash(message))
	}
}
