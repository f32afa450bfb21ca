package model

type (
	// AccountBinding is the enrolled messaging identity for a wallet
	// address. The messaging private key is exactly the first 32 bytes of
	// the wallet's signature over the enrollment phrase; any other
	// derivation breaks cross-client compatibility.
	AccountBinding struct {
		WalletAddress       string
		MessagingPrivateKey []byte
		// MessagingPublicKey is the uncompressed secp256k1 point without
		// the leading tag byte, hex encoded (64 bytes).
		MessagingPublicKey   string
		MessagingAddress     string
		EnrollmentPhrase     string
		EnrollmentSignature  string
		PublicationMessage   string
		PublicationSignature string
	}

	// RegistryEntry is the public record the key server holds per wallet
	// address: the authoritative mapping from wallet to messaging key.
	RegistryEntry struct {
		WalletAddress             string `json:"walletAddress"`
		MessagingAddress          string `json:"messagingAddress"`
		MessagingPublicKey        string `json:"messagingPublicKey"`
		PublicationMessage        string `json:"publicationMessage"`
		PublicationSignature      string `json:"publicationSignature"`
		EnrollmentPhrase          string `json:"enrollmentPhrase"`
		EnrollmentPhraseSignature string `json:"enrollmentPhraseSignature"`
	}

	// RegistryPublication is the POST /accounts/<wallet> body.
	RegistryPublication struct {
		Signature string                  `json:"signature"`
		Data      RegistryPublicationData `json:"data"`
	}

	RegistryPublicationData struct {
		Address string `json:"address"` // messaging address
		Msg     string `json:"msg"`     // publication message
		PubKey  string `json:"pub_key"`
		Ph      string `json:"ph"`  // enrollment phrase
		Phs     string `json:"phs"` // enrollment phrase signature
	}
)

// Publication builds the wire form of a binding for POST /accounts.
func (b *AccountBinding) Publication() *RegistryPublication {
	return &RegistryPublication{
		Signature: b.PublicationSignature,
		Data: RegistryPublicationData{
			Address: b.MessagingAddress,
			Msg:     b.PublicationMessage,
			PubKey:  b.MessagingPublicKey,
			Ph:      b.EnrollmentPhrase,
			Phs:     b.EnrollmentSignature,
		},
	}
}

// Entry builds the registry record a publication resolves to.
func (b *AccountBinding) Entry() *RegistryEntry {
	return &RegistryEntry{
		WalletAddress:             b.WalletAddress,
		MessagingAddress:          b.MessagingAddress,
		MessagingPublicKey:        b.MessagingPublicKey,
		PublicationMessage:        b.PublicationMessage,
		PublicationSignature:      b.PublicationSignature,
		EnrollmentPhrase:          b.EnrollmentPhrase,
		EnrollmentPhraseSignature: b.EnrollmentSignature,
	}
}
