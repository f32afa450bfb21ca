package accounts

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/timloh-professional/origin/internal/model"
)

type (
	// AccountRepo is the MongoDB-backed registry store for the reference
	// key server.
	AccountRepo struct {
		collection *mongo.Collection
	}

	accountDoc struct {
		WalletAddress             string `bson:"walletAddress"`
		MessagingAddress          string `bson:"messagingAddress"`
		MessagingPublicKey        string `bson:"messagingPublicKey"`
		PublicationMessage        string `bson:"publicationMessage"`
		PublicationSignature      string `bson:"publicationSignature"`
		EnrollmentPhrase          string `bson:"enrollmentPhrase"`
		EnrollmentPhraseSignature string `bson:"enrollmentPhraseSignature"`
	}
)

func NewAccountRepo(db *mongo.Database) *AccountRepo {
	return &AccountRepo{
		collection: db.Collection("accounts"),
	}
}

func (r *AccountRepo) Get(ctx context.Context, wallet string) (*model.RegistryEntry, error) {
	filter := bson.M{
		"walletAddress": wallet,
	}

	var doc accountDoc
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &model.RegistryEntry{
		WalletAddress:             doc.WalletAddress,
		MessagingAddress:          doc.MessagingAddress,
		MessagingPublicKey:        doc.MessagingPublicKey,
		PublicationMessage:        doc.PublicationMessage,
		PublicationSignature:      doc.PublicationSignature,
		EnrollmentPhrase:          doc.EnrollmentPhrase,
		EnrollmentPhraseSignature: doc.EnrollmentPhraseSignature,
	}, nil
}

func (r *AccountRepo) Put(ctx context.Context, entry *model.RegistryEntry) error {
	filter := bson.M{
		"walletAddress": entry.WalletAddress,
	}
	doc := accountDoc{
		WalletAddress:             entry.WalletAddress,
		MessagingAddress:          entry.MessagingAddress,
		MessagingPublicKey:        entry.MessagingPublicKey,
		PublicationMessage:        entry.PublicationMessage,
		PublicationSignature:      entry.PublicationSignature,
		EnrollmentPhrase:          entry.EnrollmentPhrase,
		EnrollmentPhraseSignature: entry.EnrollmentPhraseSignature,
	}

	opts := options.Replace().SetUpsert(true)
	_, err := r.collection.ReplaceOne(ctx, filter, doc, opts)
	return err
}
