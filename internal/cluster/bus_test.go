package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("room delivery", func(t *testing.T) {
		d, err := Decode([]byte(`{"room":"c1","event":"typing","data":{"chatId":"c1","userId":"u1"},"exclude":"conn-1","origin":"n1"}`))
		require.NoError(t, err)
		assert.Equal(t, "c1", d.Room)
		assert.Equal(t, "conn-1", d.Exclude)
		assert.JSONEq(t, `{"chatId":"c1","userId":"u1"}`, string(d.Data))
	})

	t.Run("personal delivery", func(t *testing.T) {
		d, err := Decode([]byte(`{"user":"u1","event":"callUser","data":{"from":"u2"}}`))
		require.NoError(t, err)
		assert.Equal(t, "u1", d.User)
		assert.Empty(t, d.Room)
	})

	t.Run("broadcast to all", func(t *testing.T) {
		d, err := Decode([]byte(`{"all":true,"event":"userOnline","data":"u1"}`))
		require.NoError(t, err)
		assert.True(t, d.All)
	})

	t.Run("no target", func(t *testing.T) {
		_, err := Decode([]byte(`{"event":"typing"}`))
		assert.Error(t, err)
	})

	t.Run("no event", func(t *testing.T) {
		_, err := Decode([]byte(`{"room":"c1"}`))
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Decode([]byte(`{`))
		assert.Error(t, err)
	})
}
