package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuedMessage_Key(t *testing.T) {
	msg := NewSceneMessage("scene1", "pos:entity1", MethodEntityComponentCreate, "{}")
	assert.Equal(t, CoalesceKey{Tag: "pos:entity1", SceneID: "scene1"}, msg.Key())
}

func TestQueuedMessage_KeyDoesNotCollide(t *testing.T) {
	// "AB"+"1" and "A"+"B1" concatenate to the same string.
	a := NewSceneMessage("1", "AB", MethodEntityComponentCreate, "")
	b := NewSceneMessage("B1", "A", MethodEntityComponentCreate, "")
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestQueuedMessage_DequeueName(t *testing.T) {
	tests := []struct {
		msg  QueuedMessage
		want string
	}{
		{NewSceneMessage("s", "t", MethodEntityCreate, ""), MethodEntityCreate},
		{QueuedMessage{Kind: KindLoadParcel}, "LoadScene"},
		{QueuedMessage{Kind: KindUpdateParcel}, "UpdateScene"},
		{QueuedMessage{Kind: KindUnloadParcel}, "UnloadScene"},
		{QueuedMessage{Kind: KindUnloadScenes}, "UnloadAllScenes"},
		{QueuedMessage{Kind: KindNone}, ""},
		{QueuedMessage{Kind: KindSceneStarted, SceneID: "s"}, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.msg.DequeueName(), tt.msg.Kind.String())
	}
}

func TestParseQueueMode(t *testing.T) {
	m, err := ParseQueueMode("")
	require.NoError(t, err)
	assert.Equal(t, Reliable, m)

	m, err = ParseQueueMode("lossy")
	require.NoError(t, err)
	assert.Equal(t, Lossy, m)

	_, err = ParseQueueMode("sometimes")
	assert.Error(t, err)
}
