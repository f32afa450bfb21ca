package envelope

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/timloh-professional/origin/internal/cryptographic/encryption"
	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/cryptographic/wrap"
	"github.com/timloh-professional/origin/internal/model"
)

// Recipient is one participant of a keys announcement, resolved from the
// registry.
type Recipient struct {
	WalletAddress      string
	MessagingAddress   string
	MessagingPublicKey string
}

// NewRoomKey draws a fresh 32-byte symmetric room key.
func NewRoomKey() ([]byte, error) {
	k := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, k); err != nil {
		return nil, fmt.Errorf("rand.Read room key: %w", err)
	}
	return k, nil
}

// EncodeKeys announces room membership, handing each participant an
// ECIES-wrapped copy of the symmetric key.
func EncodeKeys(selfWallet string, key []byte, recipients []Recipient) (*model.Envelope, error) {
	env := &model.Envelope{
		Type:    model.EnvelopeKeys,
		Address: selfWallet,
	}
	for _, r := range recipients {
		wrapped, err := wrap.Wrap(r.MessagingPublicKey, key)
		if err != nil {
			return nil, fmt.Errorf("wrap key for %s: %w", r.WalletAddress, err)
		}
		env.Keys = append(env.Keys, model.WrappedKey{
			Address:          r.WalletAddress,
			MessagingAddress: r.MessagingAddress,
			WrappedKey:       wrapped,
		})
	}
	return env, nil
}

// DecodeKeys recovers every key wrapped for selfWallet. Entries addressed
// to other participants are ignored; unwrap failures are skipped, they
// legitimately occur for entries not destined for us.
func DecodeKeys(env *model.Envelope, selfWallet string, messagingPriv []byte) [][]byte {
	var recovered [][]byte
	for _, wk := range env.Keys {
		if model.Checksum(wk.Address) != selfWallet {
			continue
		}
		key, err := wrap.Unwrap(messagingPriv, wk.WrappedKey)
		if err != nil {
			continue
		}
		recovered = append(recovered, key)
	}
	return recovered
}

// EncodeMsg validates and encrypts a plaintext message under the primary
// room key. created is stamped with the encryption time (unix ms).
func EncodeMsg(selfWallet string, key []byte, msg *model.Message) (*model.Envelope, error) {
	msg.Created = time.Now().UnixMilli()
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	plaintext, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}

	iv, ciphertext, err := encryption.Encrypt(key, string(plaintext))
	if err != nil {
		return nil, err
	}

	return &model.Envelope{
		Type:       model.EnvelopeMsg,
		Address:    selfWallet,
		IV:         iv,
		Ciphertext: ciphertext,
	}, nil
}

// DecodeMsg tries every room key in insertion order. Outcomes:
// a message on success; model.ErrInvalidMessage when a key opened the
// ciphertext but the payload failed the schema; model.ErrNotDecryptable
// when no key worked.
func DecodeMsg(env *model.Envelope, roomKeys [][]byte) (*model.Message, error) {
	for _, key := range roomKeys {
		plaintext, err := encryption.Decrypt(key, env.IV, env.Ciphertext)
		if errors.Is(err, model.ErrNotDecryptable) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return model.ParseMessage(plaintext)
	}
	return nil, model.ErrNotDecryptable
}

// CanonicalContent is the stable key-sorted serialization of an outgoing
// entry, the exact bytes entry signatures cover.
func CanonicalContent(roomID string, index int, content json.RawMessage) ([]byte, error) {
	var decoded any
	if err := json.Unmarshal(content, &decoded); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	// encoding/json writes map keys in sorted order, which is the
	// canonical form verifiers reconstruct.
	return json.Marshal(map[string]any{
		"conversationId":    roomID,
		"conversationIndex": index,
		"content":           decoded,
	})
}

// SignEntry signs the canonical serialization with the messaging key.
func SignEntry(priv *ecdsa.PrivateKey, roomID string, index int, content json.RawMessage) (string, error) {
	canonical, err := CanonicalContent(roomID, index, content)
	if err != nil {
		return "", err
	}
	return keys.SignText(priv, canonical)
}

// VerifyEntry checks a log entry signature against the sender's published
// messaging address. Entries without a signature pass; the transport-level
// signature is the only authenticity anchor, so callers drop entries that
// fail this.
func VerifyEntry(entry *model.LogEntry, senderMessagingAddress string) bool {
	if entry.Signature == "" {
		return true
	}
	canonical, err := CanonicalContent(entry.ConversationID, entry.ConversationIndex, entry.Content)
	if err != nil {
		return false
	}
	return keys.VerifyText(canonical, entry.Signature, senderMessagingAddress)
}
