package model

import "errors"

var (
	// ErrUserDenied is returned when the wallet refuses to sign. The engine
	// stays in its prior identity state.
	ErrUserDenied = errors.New("wallet denied signature request")

	// ErrRegistryUnavailable is returned from publish when the key server
	// cannot be reached. Local enrollment state is kept.
	ErrRegistryUnavailable = errors.New("registry unavailable")

	// ErrIndexConflict is the 409 on a message POST: another entry took the
	// index. Retry after the ingestor advances.
	ErrIndexConflict = errors.New("conversation index conflict")

	// ErrNotDecryptable means no room key opened the ciphertext.
	ErrNotDecryptable = errors.New("not decryptable with available keys")

	// ErrInvalidMessage means decryption succeeded but the payload failed
	// the message schema.
	ErrInvalidMessage = errors.New("invalid message payload")

	// ErrInvalidAddress is returned synchronously for malformed wallet
	// addresses at any API entry point.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrSendBusy is returned while another send is in flight.
	ErrSendBusy = errors.New("another send is in flight")

	// ErrPeerNotEnrolled means the remote wallet has no registry entry.
	ErrPeerNotEnrolled = errors.New("peer has no messaging identity")

	// ErrConfiguration covers a missing key server URL or signer at
	// construction. Missing stores fall back to in-memory ones.
	ErrConfiguration = errors.New("engine misconfigured")

	// ErrNotEnrolled is returned when an operation needs a messaging key
	// that has not been derived yet.
	ErrNotEnrolled = errors.New("messaging identity not enrolled")
)
