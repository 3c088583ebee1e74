// Package bus provides the per-scene message bus: a pending queue with reliable and
// lossy delivery, and a budgeted drain loop that dispatches to a Handler.
package bus

import "fmt"

// Kind tags the variant carried by a QueuedMessage.
type Kind int

const (
	KindNone Kind = iota
	KindSceneMessage
	KindLoadParcel
	KindUpdateParcel
	KindUnloadParcel
	KindUnloadScenes
	KindSceneStarted
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSceneMessage:
		return "scene"
	case KindLoadParcel:
		return "load_parcel"
	case KindUpdateParcel:
		return "update_parcel"
	case KindUnloadParcel:
		return "unload_parcel"
	case KindUnloadScenes:
		return "unload_scenes"
	case KindSceneStarted:
		return "scene_started"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Scene script methods carried by scene messages.
const (
	MethodEntityComponentCreate  = "UpdateEntityComponent"
	MethodEntityCreate           = "CreateEntity"
	MethodEntityReparent         = "SetEntityParent"
	MethodEntityComponentDestroy = "ComponentRemoved"
	MethodSharedComponentAttach  = "AttachEntityComponent"
	MethodSharedComponentCreate  = "ComponentCreated"
	MethodSharedComponentDispose = "ComponentDisposed"
	MethodSharedComponentUpdate  = "ComponentUpdated"
	MethodEntityDestroy          = "RemoveEntity"
	MethodSceneStarted           = "SceneStarted"
	MethodSceneLoad              = "LoadScene"
	MethodSceneUpdate            = "UpdateScene"
	MethodSceneDestroy           = "UnloadScene"
	MethodUnloadAllScenes        = "UnloadAllScenes"
)

// QueueMode selects the delivery guarantee for an enqueue.
type QueueMode string

const (
	Reliable QueueMode = "reliable" // Every message is dispatched, in order.
	Lossy    QueueMode = "lossy"    // Latest message per coalescing key wins.
)

// ParseQueueMode maps a config string to a QueueMode. Empty means Reliable.
func ParseQueueMode(s string) (QueueMode, error) {
	switch QueueMode(s) {
	case "", Reliable:
		return Reliable, nil
	case Lossy:
		return Lossy, nil
	default:
		return "", fmt.Errorf("unknown queue mode %q", s)
	}
}

// QueuedMessage is a pending unit of scene work.
// SceneID, Tag and Method are only meaningful for KindSceneMessage and
// KindSceneStarted; parcel variants carry their data in Payload.
type QueuedMessage struct {
	Kind    Kind   `json:"kind"`
	SceneID string `json:"sceneId,omitempty"`
	Tag     string `json:"tag,omitempty"`
	Method  string `json:"method,omitempty"`
	Payload string `json:"payload,omitempty"`
}

// SceneMessage is the view of a KindSceneMessage handed to the Handler.
type SceneMessage struct {
	SceneID string
	Tag     string
	Method  string
	Payload string
}

// NewSceneMessage builds a KindSceneMessage.
func NewSceneMessage(sceneID, tag, method, payload string) QueuedMessage {
	return QueuedMessage{
		Kind:    KindSceneMessage,
		SceneID: sceneID,
		Tag:     tag,
		Method:  method,
		Payload: payload,
	}
}

// CoalesceKey identifies the lossy slot a message competes for.
type CoalesceKey struct {
	Tag     string
	SceneID string
}

// Key returns the coalescing key for lossy delivery.
func (m QueuedMessage) Key() CoalesceKey {
	return CoalesceKey{Tag: m.Tag, SceneID: m.SceneID}
}

// DequeueName is the name reported to observers once the message is handled.
// Empty means no notification.
func (m QueuedMessage) DequeueName() string {
	switch m.Kind {
	case KindSceneMessage:
		return m.Method
	case KindLoadParcel:
		return MethodSceneLoad
	case KindUpdateParcel:
		return MethodSceneUpdate
	case KindUnloadParcel:
		return MethodSceneDestroy
	case KindUnloadScenes:
		return MethodUnloadAllScenes
	default:
		return ""
	}
}
