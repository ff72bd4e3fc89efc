// Package directory reads chat membership from the document store.
package directory

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var ErrChatNotFound = errors.New("chat not found")

const (
	chatsCollection = "chats"
	lookupTimeout   = 2 * time.Second
)

type chatDoc struct {
	Participants []bson.RawValue `bson:"participants"`
}

// ids converts participant references, stored as ObjectIds or strings, to hex ids.
func (d chatDoc) ids() []string {
	ids := make([]string, 0, len(d.Participants))
	for _, v := range d.Participants {
		switch v.Type {
		case bsontype.ObjectID:
			ids = append(ids, v.ObjectID().Hex())
		case bsontype.String:
			ids = append(ids, v.StringValue())
		}
	}
	return ids
}

type Mongo struct {
	client *mongo.Client
	chats  *mongo.Collection
}

func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(5 * time.Second).
		SetServerSelectionTimeout(5 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, "connect mongo")
	}

	return &Mongo{
		client: client,
		chats:  client.Database(database).Collection(chatsCollection),
	}, nil
}

// Participants returns the user ids stored on chat chatID.
func (m *Mongo) Participants(ctx context.Context, chatID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	opts := options.FindOne().SetProjection(bson.M{"participants": 1})

	var doc chatDoc
	err := m.chats.FindOne(ctx, bson.M{"_id": chatKey(chatID)}, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(ErrChatNotFound, chatID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load chat %s", chatID)
	}
	return doc.ids(), nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// chatKey matches ObjectId keys for hex ids and plain string keys otherwise.
func chatKey(chatID string) any {
	if oid, err := primitive.ObjectIDFromHex(chatID); err == nil {
		return oid
	}
	return chatID
}
