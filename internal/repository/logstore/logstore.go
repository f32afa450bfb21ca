package logstore

import (
	"context"
	"encoding/json"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/timloh-professional/origin/internal/model"
)

type (
	// LogRepo is the MongoDB-backed message log store for the reference
	// key server. One document per log entry; a unique index on
	// (conversationId, conversationIndex) enforces the append-only
	// contract under concurrent writers.
	LogRepo struct {
		collection *mongo.Collection
	}

	entryDoc struct {
		ConversationID    string `bson:"conversationId"`
		ConversationIndex int    `bson:"conversationIndex"`
		Content           string `bson:"content"`
		Signature         string `bson:"signature,omitempty"`
	}
)

func NewLogRepo(db *mongo.Database) *LogRepo {
	return &LogRepo{
		collection: db.Collection("messages"),
	}
}

// EnsureIndexes creates the uniqueness index Append relies on.
func (r *LogRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversationId", Value: 1},
			{Key: "conversationIndex", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *LogRepo) Append(ctx context.Context, roomID string, index int, posted *model.PostedEntry) (*model.LogEntry, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"conversationId": roomID})
	if err != nil {
		return nil, err
	}
	if index != int(count) {
		return nil, model.ErrIndexConflict
	}

	doc := entryDoc{
		ConversationID:    roomID,
		ConversationIndex: index,
		Content:           string(posted.Content),
		Signature:         posted.Signature,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, model.ErrIndexConflict
		}
		return nil, err
	}

	return &model.LogEntry{
		ConversationID:    roomID,
		ConversationIndex: index,
		Content:           json.RawMessage(posted.Content),
		Signature:         posted.Signature,
	}, nil
}

func (r *LogRepo) List(ctx context.Context, roomID string) ([]model.LogEntry, error) {
	opts := options.Find().SetSort(bson.D{{Key: "conversationIndex", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"conversationId": roomID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []model.LogEntry
	for cursor.Next(ctx) {
		var doc entryDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		entries = append(entries, model.LogEntry{
			ConversationID:    doc.ConversationID,
			ConversationIndex: doc.ConversationIndex,
			Content:           json.RawMessage(doc.Content),
			Signature:         doc.Signature,
		})
	}
	return entries, cursor.Err()
}

func (r *LogRepo) Rooms(ctx context.Context, wallet string) ([]string, error) {
	ids, err := r.collection.Distinct(ctx, "conversationId", bson.M{
		"conversationId": bson.M{"$regex": wallet, "$options": "i"},
	})
	if err != nil {
		return nil, err
	}
	rooms := make([]string, 0, len(ids))
	for _, id := range ids {
		if s, ok := id.(string); ok {
			rooms = append(rooms, s)
		}
	}
	return rooms, nil
}
