// Package scene is an in-memory scene runtime that implements bus.Handler.
// It tracks loaded parcel scenes with their entities and shared components,
// which is enough to drive the scheduler end to end without a renderer.
package scene

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/dayuer/scenebus/internal/bus"
)

var (
	ErrBadPayload    = errors.New("malformed payload")
	ErrUnknownEntity = errors.New("unknown entity")
)

// Unloader drops the messaging sessions of unloaded scenes.
type Unloader interface {
	UnloadScene(sceneID string)
	UnloadAll()
}

// Vector2 is a parcel coordinate.
type Vector2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ParcelScene is the payload of load/update/unload parcel messages.
type ParcelScene struct {
	ID           string    `json:"id"`
	BasePosition Vector2   `json:"basePosition"`
	Parcels      []Vector2 `json:"parcels,omitempty"`
}

// Entity is a scene entity and its per-entity components, keyed by name.
type Entity struct {
	ID         string
	ParentID   string
	Components map[string]string
	Attached   map[string]string // component name → shared component id
}

// Component is a shared component.
type Component struct {
	ID      string
	ClassID int
	Name    string
	Data    string
	Ready   bool
}

type sceneState struct {
	data       ParcelScene
	started    bool
	entities   map[string]*Entity
	components map[string]*Component
}

// componentPayload covers the scene script method payloads.
type componentPayload struct {
	ID       string `json:"id"`
	EntityID string `json:"entityId"`
	ParentID string `json:"parentId"`
	ClassID  int    `json:"classId"`
	Name     string `json:"name"`
	JSON     string `json:"json"`
}

// Config configures a Controller.
type Config struct {
	// ComponentLoadDelay simulates asset loading for ComponentCreated. Zero
	// makes components ready synchronously.
	ComponentLoadDelay time.Duration
}

// Controller holds every loaded scene. Safe for concurrent use.
type Controller struct {
	mu        sync.RWMutex
	scenes    map[string]*sceneState
	loadDelay time.Duration
	unloader  Unloader
}

// NewController creates an empty controller.
func NewController(cfg Config) *Controller {
	return &Controller{
		scenes:    make(map[string]*sceneState),
		loadDelay: cfg.ComponentLoadDelay,
	}
}

// SetUnloader registers who to tell when scenes go away.
func (c *Controller) SetUnloader(u Unloader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unloader = u
}

func decodeParcel(payload string) (ParcelScene, error) {
	var p ParcelScene
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if p.ID == "" {
		return p, fmt.Errorf("%w: scene id is required", ErrBadPayload)
	}
	return p, nil
}

// LoadParcel registers a scene. Loading an already loaded scene replaces its
// parcel data and keeps its entities.
func (c *Controller) LoadParcel(payload string) error {
	p, err := decodeParcel(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.scenes[p.ID]; ok {
		s.data = p
		return nil
	}
	c.scenes[p.ID] = &sceneState{
		data:       p,
		entities:   make(map[string]*Entity),
		components: make(map[string]*Component),
	}
	log.Printf("[Scene] Loaded %s at (%d,%d), %d parcels", p.ID, p.BasePosition.X, p.BasePosition.Y, len(p.Parcels))
	return nil
}

// UpdateParcel replaces the parcel data of a loaded scene.
func (c *Controller) UpdateParcel(payload string) error {
	p, err := decodeParcel(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.scenes[p.ID]
	if !ok {
		log.Printf("[Scene] ⚠️ Update for unloaded scene %s ignored", p.ID)
		return nil
	}
	s.data = p
	return nil
}

// UnloadParcel drops a scene and its messaging sessions.
func (c *Controller) UnloadParcel(payload string) error {
	p, err := decodeParcel(payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.scenes, p.ID)
	u := c.unloader
	c.mu.Unlock()

	if u != nil {
		u.UnloadScene(p.ID)
	}
	log.Printf("[Scene] Unloaded %s", p.ID)
	return nil
}

// UnloadAllScenes drops every scene.
func (c *Controller) UnloadAllScenes() error {
	c.mu.Lock()
	n := len(c.scenes)
	c.scenes = make(map[string]*sceneState)
	u := c.unloader
	c.mu.Unlock()

	if u != nil {
		u.UnloadAll()
	}
	log.Printf("[Scene] Unloaded all %d scenes", n)
	return nil
}

// ProcessSceneMessage applies a scene script message. Messages for scenes
// that are not loaded, and unknown methods, are not accepted.
func (c *Controller) ProcessSceneMessage(ctx context.Context, msg bus.SceneMessage) (bool, bus.Continuation, error) {
	var p componentPayload
	if msg.Payload != "" {
		if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
			return false, nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.scenes[msg.SceneID]
	if !ok {
		return false, nil, nil
	}

	switch msg.Method {
	case bus.MethodSceneStarted:
		s.started = true

	case bus.MethodEntityCreate:
		if _, exists := s.entities[p.ID]; !exists {
			s.entities[p.ID] = &Entity{
				ID:         p.ID,
				Components: make(map[string]string),
				Attached:   make(map[string]string),
			}
		}

	case bus.MethodEntityDestroy:
		delete(s.entities, p.ID)

	case bus.MethodEntityReparent:
		e, err := s.entity(p.EntityID)
		if err != nil {
			return false, nil, err
		}
		e.ParentID = p.ParentID

	case bus.MethodEntityComponentCreate:
		e, err := s.entity(p.EntityID)
		if err != nil {
			return false, nil, err
		}
		e.Components[p.Name] = p.JSON

	case bus.MethodEntityComponentDestroy:
		e, err := s.entity(p.EntityID)
		if err != nil {
			return false, nil, err
		}
		delete(e.Components, p.Name)
		delete(e.Attached, p.Name)

	case bus.MethodSharedComponentCreate:
		comp := &Component{ID: p.ID, ClassID: p.ClassID, Name: p.Name}
		s.components[p.ID] = comp
		if c.loadDelay <= 0 {
			comp.Ready = true
			return true, nil, nil
		}
		return true, c.loadComponent(ctx, comp), nil

	case bus.MethodSharedComponentAttach:
		e, err := s.entity(p.EntityID)
		if err != nil {
			return false, nil, err
		}
		e.Attached[p.Name] = p.ID

	case bus.MethodSharedComponentUpdate:
		if comp, ok := s.components[p.ID]; ok {
			comp.Data = p.JSON
		}

	case bus.MethodSharedComponentDispose:
		delete(s.components, p.ID)

	default:
		return false, nil, nil
	}
	return true, nil, nil
}

// loadComponent marks comp ready once the simulated load finishes.
func (c *Controller) loadComponent(ctx context.Context, comp *Component) *bus.Task {
	delay := c.loadDelay
	return bus.Go(ctx, func(ctx context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}

		c.mu.Lock()
		comp.Ready = true
		c.mu.Unlock()
		return nil
	})
}

func (s *sceneState) entity(id string) (*Entity, error) {
	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q in scene %s", ErrUnknownEntity, id, s.data.ID)
	}
	return e, nil
}

// Summary describes a loaded scene.
type Summary struct {
	ID              string  `json:"id"`
	BasePosition    Vector2 `json:"basePosition"`
	Parcels         int     `json:"parcels"`
	Started         bool    `json:"started"`
	Entities        int     `json:"entities"`
	Components      int     `json:"components"`
	ComponentsReady int     `json:"componentsReady"`
}

// Scenes summarises loaded scenes, sorted by id.
func (c *Controller) Scenes() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.scenes))
	for _, s := range c.scenes {
		sum := Summary{
			ID:           s.data.ID,
			BasePosition: s.data.BasePosition,
			Parcels:      len(s.data.Parcels),
			Started:      s.started,
			Entities:     len(s.entities),
			Components:   len(s.components),
		}
		for _, comp := range s.components {
			if comp.Ready {
				sum.ComponentsReady++
			}
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Entity returns a copy of an entity, if loaded.
func (c *Controller) Entity(sceneID, entityID string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.scenes[sceneID]
	if !ok {
		return Entity{}, false
	}
	e, ok := s.entities[entityID]
	if !ok {
		return Entity{}, false
	}

	cp := Entity{
		ID:         e.ID,
		ParentID:   e.ParentID,
		Components: make(map[string]string, len(e.Components)),
		Attached:   make(map[string]string, len(e.Attached)),
	}
	for k, v := range e.Components {
		cp.Components[k] = v
	}
	for k, v := range e.Attached {
		cp.Attached[k] = v
	}
	return cp, true
}
