package model

import "encoding/json"

const (
	EnvelopeKeys = "keys"
	EnvelopeMsg  = "msg"
)

type (
	// Envelope is the tagged content union carried on the server log.
	// Unknown types must be ignored forward-compatibly.
	Envelope struct {
		Type    string `json:"type"`
		Address string `json:"address"` // sender wallet address

		// keys announcement
		Keys []WrappedKey `json:"keys,omitempty"`

		// encrypted message
		IV         string `json:"iv,omitempty"`
		Ciphertext string `json:"ciphertext,omitempty"`

		// out-of-band envelopes carry the recipient wallet address
		To string `json:"to,omitempty"`
	}

	// WrappedKey hands one participant an ECIES-wrapped copy of a room
	// symmetric key. The blob is hex.
	WrappedKey struct {
		Address          string `json:"address"` // recipient wallet address
		MessagingAddress string `json:"messagingAddress"`
		WrappedKey       string `json:"wrappedKey"`
	}

	// LogEntry is the server's per-room append record. Indices are
	// assigned by the server and strictly increase from 0.
	LogEntry struct {
		ConversationID    string          `json:"conversationId"`
		ConversationIndex int             `json:"conversationIndex"`
		Content           json.RawMessage `json:"content"`
		Signature         string          `json:"signature,omitempty"`
	}

	// PostedEntry is the POST /messages/<roomId>/<index> body.
	PostedEntry struct {
		Content   json.RawMessage `json:"content"`
		Signature string          `json:"signature,omitempty"`
	}
)

// DecodeEnvelope parses a log entry's content. Callers dispatch on Type
// and ignore unknown types.
func DecodeEnvelope(content json.RawMessage) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(content, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
