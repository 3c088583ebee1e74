package kernel

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dayuer/scenebus/internal/bus"
)

// Envelope types accepted on the kernel socket.
const (
	TypeScene        = "scene"
	TypeLoadParcel   = "load_parcel"
	TypeUpdateParcel = "update_parcel"
	TypeUnloadParcel = "unload_parcel"
	TypeUnloadScenes = "unload_scenes"
	TypeSceneStarted = "scene_started"
	TypePing         = "ping"
)

var (
	ErrUnknownEnvelope = errors.New("unknown envelope type")
	ErrBadEnvelope     = errors.New("malformed envelope")
)

// Envelope is one kernel frame.
//
//	{"type": "scene", "sceneId": "s1", "tag": "transform:e1", "method": "UpdateEntityComponent", "payload": {...}}
//
// Payload may be a JSON string or any JSON value; non-string values are
// forwarded as their raw JSON text.
type Envelope struct {
	Type    string          `json:"type"`
	SceneID string          `json:"sceneId,omitempty"`
	Tag     string          `json:"tag,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// payloadText returns the payload as the string handlers receive.
func (e Envelope) payloadText() (string, error) {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return "", nil
	}
	if e.Payload[0] == '"' {
		var s string
		if err := json.Unmarshal(e.Payload, &s); err != nil {
			return "", fmt.Errorf("%w: payload: %v", ErrBadEnvelope, err)
		}
		return s, nil
	}
	return string(e.Payload), nil
}

// DecodeEnvelope parses a frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrBadEnvelope, err)
	}
	if env.Type == "" {
		return env, fmt.Errorf("%w: missing type", ErrBadEnvelope)
	}
	return env, nil
}

// Message converts an envelope into a queued message. Ping has no message
// and returns ErrUnknownEnvelope like any other non-message type.
func (e Envelope) Message() (bus.QueuedMessage, error) {
	payload, err := e.payloadText()
	if err != nil {
		return bus.QueuedMessage{}, err
	}

	switch e.Type {
	case TypeScene:
		if e.SceneID == "" || e.Method == "" {
			return bus.QueuedMessage{}, fmt.Errorf("%w: scene message needs sceneId and method", ErrBadEnvelope)
		}
		return bus.NewSceneMessage(e.SceneID, e.Tag, e.Method, payload), nil
	case TypeLoadParcel:
		return bus.QueuedMessage{Kind: bus.KindLoadParcel, Payload: payload}, nil
	case TypeUpdateParcel:
		return bus.QueuedMessage{Kind: bus.KindUpdateParcel, Payload: payload}, nil
	case TypeUnloadParcel:
		return bus.QueuedMessage{Kind: bus.KindUnloadParcel, Payload: payload}, nil
	case TypeUnloadScenes:
		return bus.QueuedMessage{Kind: bus.KindUnloadScenes}, nil
	case TypeSceneStarted:
		if e.SceneID == "" {
			return bus.QueuedMessage{}, fmt.Errorf("%w: scene_started needs sceneId", ErrBadEnvelope)
		}
		return bus.QueuedMessage{Kind: bus.KindSceneStarted, SceneID: e.SceneID, Method: bus.MethodSceneStarted}, nil
	default:
		return bus.QueuedMessage{}, fmt.Errorf("%w: %q", ErrUnknownEnvelope, e.Type)
	}
}
