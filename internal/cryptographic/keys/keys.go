package keys

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveMessagingKey turns an enrollment signature into the messaging
// private key: exactly the first 32 bytes of the signature. Any other
// derivation breaks cross-client compatibility.
func DeriveMessagingKey(enrollmentSig []byte) (*ecdsa.PrivateKey, error) {
	if len(enrollmentSig) < 32 {
		return nil, fmt.Errorf("enrollment signature too short: %d bytes", len(enrollmentSig))
	}
	priv, err := crypto.ToECDSA(enrollmentSig[:32])
	if err != nil {
		return nil, fmt.Errorf("derive messaging key: %w", err)
	}
	return priv, nil
}

// PublicKeyHex serializes the uncompressed public point without the
// leading tag byte (64 bytes, hex).
func PublicKeyHex(priv *ecdsa.PrivateKey) string {
	return hexutil.Encode(crypto.FromECDSAPub(&priv.PublicKey)[1:])[2:]
}

// Address is the standard address of the key.
func Address(priv *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(priv.PublicKey).Hex()
}

// SignText signs an EIP-191 prefixed message, returning a 0x hex signature
// with the recovery id in wallet form (V = 27/28).
func SignText(priv *ecdsa.PrivateKey, message []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(message), priv)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// SignDigest signs a raw 32-byte digest (raw-sign wallet style).
func SignDigest(priv *ecdsa.PrivateKey, digest []byte) (string, error) {
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	sig[64] += 27
	return hexutil.Encode(sig), nil
}

// DecodeSignature accepts a wallet signature with or without the 0x
// prefix and normalizes the recovery id to 0/1.
func DecodeSignature(sigHex string) ([]byte, error) {
	if len(sigHex) >= 2 && sigHex[:2] != "0x" {
		sigHex = "0x" + sigHex
	}
	sig, err := hexutil.Decode(sigHex)
	if err != nil {
		return nil, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) == 65 && sig[64] >= 27 {
		sig = append(append([]byte{}, sig[:64]...), sig[64]-27)
	}
	return sig, nil
}

// RecoverTextAddress recovers the signer address of an EIP-191 prefixed
// message.
func RecoverTextAddress(message []byte, sigHex string) (string, error) {
	sig, err := DecodeSignature(sigHex)
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return "", fmt.Errorf("recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// VerifyText reports whether sigHex over message was produced by the key
// behind wantAddress.
func VerifyText(message []byte, sigHex, wantAddress string) bool {
	got, err := RecoverTextAddress(message, sigHex)
	if err != nil {
		return false
	}
	return got == wantAddress
}
