package enrollment

import (
	"fmt"

	"github.com/timloh-professional/origin/internal/cryptographic/keys"
	"github.com/timloh-professional/origin/internal/model"
)

// The two-signature ceremony constants. Both are fixed: the phrase is what
// every client asks the wallet to sign, and the prefix frames the public
// announcement of the derived messaging address.
const (
	Phrase            = "I am ready to start messaging on Origin."
	PublicationPrefix = "My public messaging key is: "
)

// PublicationMessage is the textual announcement the wallet signs in the
// second ceremony step.
func PublicationMessage(messagingAddress string) string {
	return PublicationPrefix + messagingAddress
}

// DeriveBinding builds the messaging identity from the wallet's signature
// over the enrollment phrase. The publication half of the binding is empty
// until Complete is called.
func DeriveBinding(walletAddress, enrollmentSigHex string) (*model.AccountBinding, error) {
	if !model.ValidAddress(walletAddress) {
		return nil, model.ErrInvalidAddress
	}

	sig, err := keys.DecodeSignature(enrollmentSigHex)
	if err != nil {
		return nil, err
	}
	priv, err := keys.DeriveMessagingKey(sig)
	if err != nil {
		return nil, err
	}

	return &model.AccountBinding{
		WalletAddress:       model.Checksum(walletAddress),
		MessagingPrivateKey: append([]byte{}, sig[:32]...),
		MessagingPublicKey:  keys.PublicKeyHex(priv),
		MessagingAddress:    keys.Address(priv),
		EnrollmentPhrase:    Phrase,
		EnrollmentSignature: enrollmentSigHex,
	}, nil
}

// Complete attaches the wallet's signature over the publication message,
// finishing the ceremony.
func Complete(b *model.AccountBinding, publicationSigHex string) error {
	if b == nil || b.MessagingAddress == "" {
		return fmt.Errorf("binding not derived")
	}
	b.PublicationMessage = PublicationMessage(b.MessagingAddress)
	b.PublicationSignature = publicationSigHex
	return nil
}
