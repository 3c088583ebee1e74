package scene

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/scenebus/internal/bus"
)

type fakeUnloader struct {
	scenes []string
	all    int
}

func (u *fakeUnloader) UnloadScene(id string) { u.scenes = append(u.scenes, id) }
func (u *fakeUnloader) UnloadAll()            { u.all++ }

const parcelA = `{"id":"scene-a","basePosition":{"x":10,"y":-4},"parcels":[{"x":10,"y":-4},{"x":11,"y":-4}]}`

func process(t *testing.T, c *Controller, method, payload string) bool {
	t.Helper()
	ok, cont, err := c.ProcessSceneMessage(context.Background(), bus.SceneMessage{
		SceneID: "scene-a", Method: method, Payload: payload,
	})
	require.NoError(t, err)
	assert.Nil(t, cont)
	return ok
}

func TestLoadParcel(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.LoadParcel(parcelA))

	scenes := c.Scenes()
	require.Len(t, scenes, 1)
	assert.Equal(t, "scene-a", scenes[0].ID)
	assert.Equal(t, Vector2{X: 10, Y: -4}, scenes[0].BasePosition)
	assert.Equal(t, 2, scenes[0].Parcels)
}

func TestLoadParcel_BadPayload(t *testing.T) {
	c := NewController(Config{})
	assert.ErrorIs(t, c.LoadParcel("not json"), ErrBadPayload)
	assert.ErrorIs(t, c.LoadParcel(`{"basePosition":{"x":1,"y":1}}`), ErrBadPayload)
}

func TestUpdateParcel(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.UpdateParcel(parcelA), "unknown scenes are ignored")
	assert.Empty(t, c.Scenes())

	require.NoError(t, c.LoadParcel(parcelA))
	require.NoError(t, c.UpdateParcel(`{"id":"scene-a","basePosition":{"x":1,"y":2}}`))
	assert.Equal(t, Vector2{X: 1, Y: 2}, c.Scenes()[0].BasePosition)
}

func TestUnload(t *testing.T) {
	u := &fakeUnloader{}
	c := NewController(Config{})
	c.SetUnloader(u)

	require.NoError(t, c.LoadParcel(parcelA))
	require.NoError(t, c.LoadParcel(`{"id":"scene-b"}`))

	require.NoError(t, c.UnloadParcel(`{"id":"scene-a"}`))
	assert.Equal(t, []string{"scene-a"}, u.scenes)
	assert.Len(t, c.Scenes(), 1)

	require.NoError(t, c.UnloadAllScenes())
	assert.Equal(t, 1, u.all)
	assert.Empty(t, c.Scenes())
}

func TestProcessSceneMessage_UnknownSceneNotAccepted(t *testing.T) {
	c := NewController(Config{})
	assert.False(t, process(t, c, bus.MethodEntityCreate, `{"id":"e1"}`))
}

func TestProcessSceneMessage_EntityLifecycle(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.LoadParcel(parcelA))

	assert.True(t, process(t, c, bus.MethodSceneStarted, ""))
	assert.True(t, process(t, c, bus.MethodEntityCreate, `{"id":"root"}`))
	assert.True(t, process(t, c, bus.MethodEntityCreate, `{"id":"e1"}`))
	assert.True(t, process(t, c, bus.MethodEntityReparent, `{"entityId":"e1","parentId":"root"}`))
	assert.True(t, process(t, c, bus.MethodEntityComponentCreate, `{"entityId":"e1","name":"transform","json":"{\"x\":1}"}`))
	assert.True(t, process(t, c, bus.MethodSharedComponentCreate, `{"id":"c1","classId":7,"name":"material"}`))
	assert.True(t, process(t, c, bus.MethodSharedComponentAttach, `{"entityId":"e1","id":"c1","name":"material"}`))
	assert.True(t, process(t, c, bus.MethodSharedComponentUpdate, `{"id":"c1","json":"{}"}`))

	e, ok := c.Entity("scene-a", "e1")
	require.True(t, ok)
	assert.Equal(t, "root", e.ParentID)
	assert.Equal(t, `{"x":1}`, e.Components["transform"])
	assert.Equal(t, "c1", e.Attached["material"])

	sum := c.Scenes()[0]
	assert.True(t, sum.Started)
	assert.Equal(t, 2, sum.Entities)
	assert.Equal(t, 1, sum.Components)
	assert.Equal(t, 1, sum.ComponentsReady)

	assert.True(t, process(t, c, bus.MethodEntityComponentDestroy, `{"entityId":"e1","name":"material"}`))
	e, _ = c.Entity("scene-a", "e1")
	assert.Empty(t, e.Attached)

	assert.True(t, process(t, c, bus.MethodSharedComponentDispose, `{"id":"c1"}`))
	assert.True(t, process(t, c, bus.MethodEntityDestroy, `{"id":"e1"}`))
	_, ok = c.Entity("scene-a", "e1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Scenes()[0].Components)
}

func TestProcessSceneMessage_Faults(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.LoadParcel(parcelA))

	_, _, err := c.ProcessSceneMessage(context.Background(), bus.SceneMessage{
		SceneID: "scene-a", Method: bus.MethodEntityReparent, Payload: `{"entityId":"ghost"}`,
	})
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, _, err = c.ProcessSceneMessage(context.Background(), bus.SceneMessage{
		SceneID: "scene-a", Method: bus.MethodEntityCreate, Payload: "{",
	})
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestProcessSceneMessage_UnknownMethod(t *testing.T) {
	c := NewController(Config{})
	require.NoError(t, c.LoadParcel(parcelA))
	assert.False(t, process(t, c, "Teleport", ""))
}

func TestProcessSceneMessage_ComponentLoadContinuation(t *testing.T) {
	c := NewController(Config{ComponentLoadDelay: 20 * time.Millisecond})
	require.NoError(t, c.LoadParcel(parcelA))

	ok, cont, err := c.ProcessSceneMessage(context.Background(), bus.SceneMessage{
		SceneID: "scene-a", Method: bus.MethodSharedComponentCreate, Payload: `{"id":"c1","name":"gltf"}`,
	})
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, cont)
	assert.Equal(t, 0, c.Scenes()[0].ComponentsReady)

	select {
	case <-cont.Done():
	case <-time.After(time.Second):
		t.Fatal("component load never finished")
	}
	assert.NoError(t, cont.Err())
	assert.Equal(t, 1, c.Scenes()[0].ComponentsReady)
}
