package envelope

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/timloh-professional/origin/internal/cryptographic/encryption"
	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/model"
)

type party struct {
	wallet     string
	priv       []byte
	pubHex     string
	msgAddress string
}

func newParty(t *testing.T) party {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	walletKey, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return party{
		wallet:     crypto.PubkeyToAddress(walletKey.PublicKey).Hex(),
		priv:       crypto.FromECDSA(key),
		pubHex:     keys.PublicKeyHex(key),
		msgAddress: keys.Address(key),
	}
}

func TestKeysEnvelopeRoundTrip(t *testing.T) {
	alice, bob := newParty(t), newParty(t)

	roomKey, err := NewRoomKey()
	if err != nil {
		t.Fatalf("NewRoomKey: %v", err)
	}
	env, err := EncodeKeys(alice.wallet, roomKey, []Recipient{
		{WalletAddress: alice.wallet, MessagingAddress: alice.msgAddress, MessagingPublicKey: alice.pubHex},
		{WalletAddress: bob.wallet, MessagingAddress: bob.msgAddress, MessagingPublicKey: bob.pubHex},
	})
	if err != nil {
		t.Fatalf("EncodeKeys failed: %v", err)
	}

	if env.Type != model.EnvelopeKeys || len(env.Keys) != 2 {
		t.Fatalf("unexpected envelope %+v", env)
	}

	got := DecodeKeys(env, bob.wallet, bob.priv)
	if len(got) != 1 || string(got[0]) != string(roomKey) {
		t.Fatal("bob did not recover the room key")
	}

	// entries addressed to other participants must not yield keys
	carol := newParty(t)
	if got := DecodeKeys(env, carol.wallet, carol.priv); len(got) != 0 {
		t.Fatal("carol recovered a key from an envelope not addressed to her")
	}
}

func TestMsgEnvelopeRoundTrip(t *testing.T) {
	alice := newParty(t)
	roomKey, _ := NewRoomKey()

	before := time.Now().UnixMilli()
	env, err := EncodeMsg(alice.wallet, roomKey, &model.Message{Content: "hi"})
	if err != nil {
		t.Fatalf("EncodeMsg failed: %v", err)
	}
	if env.Type != model.EnvelopeMsg || env.IV == "" || env.Ciphertext == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	msg, err := DecodeMsg(env, [][]byte{roomKey})
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Content != "hi" {
		t.Fatalf("content %q", msg.Content)
	}
	if msg.Created < before || msg.Created > time.Now().UnixMilli() {
		t.Fatalf("created not stamped at encryption time: %d", msg.Created)
	}
}

func TestDecodeMsgTriesKeysInOrder(t *testing.T) {
	alice := newParty(t)
	k1, _ := NewRoomKey()
	k2, _ := NewRoomKey()

	env, err := EncodeMsg(alice.wallet, k2, &model.Message{Content: "second key"})
	if err != nil {
		t.Fatalf("EncodeMsg failed: %v", err)
	}
	msg, err := DecodeMsg(env, [][]byte{k1, k2})
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Content != "second key" {
		t.Fatalf("content %q", msg.Content)
	}
}

func TestDecodeMsgNotDecryptable(t *testing.T) {
	alice := newParty(t)
	k1, _ := NewRoomKey()
	k2, _ := NewRoomKey()

	env, err := EncodeMsg(alice.wallet, k1, &model.Message{Content: "secret"})
	if err != nil {
		t.Fatalf("EncodeMsg failed: %v", err)
	}
	if _, err := DecodeMsg(env, [][]byte{k2}); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable, got %v", err)
	}
	if _, err := DecodeMsg(env, nil); !errors.Is(err, model.ErrNotDecryptable) {
		t.Fatalf("expected ErrNotDecryptable with no keys, got %v", err)
	}
}

func TestDecodeMsgSchemaInvalid(t *testing.T) {
	// a blob that decrypts fine but is not a message
	alice := newParty(t)
	roomKey, _ := NewRoomKey()

	env, err := encodeRaw(alice.wallet, roomKey, `{"note":"no created field"}`)
	if err != nil {
		t.Fatalf("encodeRaw failed: %v", err)
	}
	if _, err := DecodeMsg(env, [][]byte{roomKey}); !errors.Is(err, model.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage, got %v", err)
	}

	env, err = encodeRaw(alice.wallet, roomKey, `not json at all, truly`)
	if err != nil {
		t.Fatalf("encodeRaw failed: %v", err)
	}
	if _, err := DecodeMsg(env, [][]byte{roomKey}); !errors.Is(err, model.ErrInvalidMessage) {
		t.Fatalf("expected ErrInvalidMessage for non-JSON, got %v", err)
	}
}

func TestDecodeMsgToleratesUnknownFields(t *testing.T) {
	alice := newParty(t)
	roomKey, _ := NewRoomKey()

	env, err := encodeRaw(alice.wallet, roomKey, `{"created":1700000000000,"content":"x","futureField":[1,2,3]}`)
	if err != nil {
		t.Fatalf("encodeRaw failed: %v", err)
	}
	msg, err := DecodeMsg(env, [][]byte{roomKey})
	if err != nil {
		t.Fatalf("DecodeMsg failed: %v", err)
	}
	if msg.Content != "x" {
		t.Fatalf("content %q", msg.Content)
	}
}

func TestCanonicalContentSorted(t *testing.T) {
	content := json.RawMessage(`{"type":"msg","address":"0xabc","iv":"aa","ciphertext":"bb"}`)
	canonical, err := CanonicalContent("0xA-0xB", 3, content)
	if err != nil {
		t.Fatalf("CanonicalContent failed: %v", err)
	}
	want := `{"content":{"address":"0xabc","ciphertext":"bb","iv":"aa","type":"msg"},"conversationId":"0xA-0xB","conversationIndex":3}`
	if string(canonical) != want {
		t.Fatalf("canonical form\n got %s\nwant %s", canonical, want)
	}
}

func TestSignVerifyEntry(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	content := json.RawMessage(`{"type":"msg","address":"0xabc"}`)

	sig, err := SignEntry(key, "room", 0, content)
	if err != nil {
		t.Fatalf("SignEntry failed: %v", err)
	}
	entry := &model.LogEntry{
		ConversationID:    "room",
		ConversationIndex: 0,
		Content:           content,
		Signature:         sig,
	}

	if !VerifyEntry(entry, keys.Address(key)) {
		t.Fatal("VerifyEntry rejected a valid signature")
	}

	other, _ := crypto.GenerateKey()
	if VerifyEntry(entry, keys.Address(other)) {
		t.Fatal("VerifyEntry accepted a signature from the wrong key")
	}

	entry.ConversationIndex = 1
	if VerifyEntry(entry, keys.Address(key)) {
		t.Fatal("VerifyEntry accepted a replayed signature at another index")
	}

	// unsigned entries pass through; the caller decides what to do
	if !VerifyEntry(&model.LogEntry{Content: content}, keys.Address(key)) {
		t.Fatal("unsigned entry should pass")
	}
}

// encodeRaw seals an arbitrary plaintext the way EncodeMsg does, without
// the schema gate, to exercise the decode paths.
func encodeRaw(walletAddr string, key []byte, plaintext string) (*model.Envelope, error) {
	iv, ct, err := encryption.Encrypt(key, plaintext)
	if err != nil {
		return nil, err
	}
	return &model.Envelope{
		Type:       model.EnvelopeMsg,
		Address:    walletAddr,
		IV:         iv,
		Ciphertext: ct,
	}, nil
}
