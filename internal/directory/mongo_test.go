package directory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestChatDoc_IDs(t *testing.T) {
	oid := primitive.NewObjectID()
	raw, err := bson.Marshal(bson.M{
		"_id":          primitive.NewObjectID(),
		"participants": bson.A{oid, "legacy-user", 42},
	})
	require.NoError(t, err)

	var doc chatDoc
	require.NoError(t, bson.Unmarshal(raw, &doc))

	assert.Equal(t, []string{oid.Hex(), "legacy-user"}, doc.ids())
}

func TestChatKey(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid, chatKey(oid.Hex()))
	assert.Equal(t, "general", chatKey("general"))
}
