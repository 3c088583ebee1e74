package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// payloads lists the pending payloads in dispatch order without popping.
func payloads(q *Queue) []string {
	out := make([]string, 0, q.items.Len())
	for el := q.items.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*entry).msg.Payload)
	}
	return out
}

func TestNewQueue(t *testing.T) {
	q := NewQueue()
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.Replaced())

	_, ok := q.PopFront()
	assert.False(t, ok)
}

func TestQueue_ReliableIsFIFO(t *testing.T) {
	q := NewQueue()
	for _, p := range []string{"A", "B", "C", "D"} {
		q.EnqueueReliable(NewSceneMessage("s1", "t", MethodEntityCreate, p))
	}
	assert.Equal(t, 4, q.Len())

	var got []string
	for q.Len() > 0 {
		msg, ok := q.PopFront()
		require.True(t, ok)
		got = append(got, msg.Payload)
	}
	assert.Equal(t, []string{"A", "B", "C", "D"}, got)
}

func TestQueue_LossyCoalescesSameKey(t *testing.T) {
	q := NewQueue()
	key := CoalesceKey{Tag: "pos:entity1", SceneID: "s1"}

	assert.True(t, q.EnqueueLossy(NewSceneMessage("s1", "pos:entity1", "m", "P1"), key))
	assert.False(t, q.EnqueueLossy(NewSceneMessage("s1", "pos:entity1", "m", "P2"), key))
	assert.False(t, q.EnqueueLossy(NewSceneMessage("s1", "pos:entity1", "m", "P3"), key))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 2, q.Replaced())
	assert.Equal(t, []string{"P3"}, payloads(q))
}

func TestQueue_LossyKeepsPosition(t *testing.T) {
	q := NewQueue()
	key := CoalesceKey{Tag: "pos", SceneID: "s1"}

	q.EnqueueReliable(NewSceneMessage("s1", "a", "m", "first"))
	q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "pos1"), key)
	q.EnqueueReliable(NewSceneMessage("s1", "b", "m", "last"))
	q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "pos2"), key)

	assert.Equal(t, []string{"first", "pos2", "last"}, payloads(q))
}

func TestQueue_LossyDistinctKeys(t *testing.T) {
	q := NewQueue()
	q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "x"), CoalesceKey{Tag: "pos", SceneID: "s1"})
	q.EnqueueLossy(NewSceneMessage("s2", "pos", "m", "y"), CoalesceKey{Tag: "pos", SceneID: "s2"})

	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 0, q.Replaced())
}

func TestQueue_LossyAfterDispatchAppendsFresh(t *testing.T) {
	q := NewQueue()
	key := CoalesceKey{Tag: "pos", SceneID: "s1"}

	q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "P1"), key)
	msg, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, "P1", msg.Payload)

	q.EnqueueReliable(NewSceneMessage("s1", "other", "m", "R"))
	assert.True(t, q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "P2"), key))

	assert.Equal(t, 0, q.Replaced())
	assert.Equal(t, []string{"R", "P2"}, payloads(q))
}

func TestQueue_StaleHandleIsNotReused(t *testing.T) {
	q := NewQueue()
	key := CoalesceKey{Tag: "pos", SceneID: "s1"}

	q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "P1"), key)
	el := q.lossy[key]
	q.PopFront()

	// Simulate an index entry that outlived its slot.
	q.lossy[key] = el
	assert.True(t, q.EnqueueLossy(NewSceneMessage("s1", "pos", "m", "P2"), key))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, []string{"P2"}, payloads(q))
}
