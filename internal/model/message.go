package model

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

type (
	// Message is the plaintext schema. created is required and set at
	// encryption time (unix milliseconds); everything else is optional and
	// unknown additional fields are tolerated. A decrypted blob that fails
	// this schema is treated as not-a-message.
	Message struct {
		Created    int64       `json:"created" validate:"required"`
		Content    string      `json:"content,omitempty"`
		Media      []any       `json:"media,omitempty"`
		Decryption *Decryption `json:"decryption,omitempty"`
	}

	// Decryption lets a message hand over keys for another room.
	Decryption struct {
		Keys   []string `json:"keys" validate:"required"`
		RoomID string   `json:"roomId" validate:"required"`
	}

	// DecryptedMessage is what the engine surfaces on the msg stream.
	DecryptedMessage struct {
		Msg           *Message `json:"msg"`
		RoomID        string   `json:"roomId"`
		Index         int      `json:"index"`
		SenderAddress string   `json:"senderAddress"`
		Hash          string   `json:"hash"`
	}

	// EncryptedMessage is surfaced on the emsg stream for payloads no room
	// key opens yet, so a UI can show a placeholder.
	EncryptedMessage struct {
		RoomID        string `json:"roomId"`
		Index         int    `json:"index"`
		SenderAddress string `json:"senderAddress"`
		IV            string `json:"iv"`
		Ciphertext    string `json:"ciphertext"`
	}
)

var validate = validator.New()

// Validate checks the message schema.
func (m *Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

// ParseMessage decodes and validates a decrypted plaintext. Type
// mismatches and missing required fields both yield ErrInvalidMessage.
func ParseMessage(plaintext string) (*Message, error) {
	var m Message
	if err := json.Unmarshal([]byte(plaintext), &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
