// Package routing decides which bus and queue mode an incoming message uses,
// from YAML rules.
//
// Example routes.yaml:
//
//	rules:
//	  - method: UpdateEntityComponent
//	    tag_prefix: "pos:"
//	    bus: SYSTEM
//	    mode: lossy
//	    priority: 10
//	  - method: CreateEntity
//	    bus: INIT
package routing

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dayuer/scenebus/internal/bus"
	"github.com/dayuer/scenebus/internal/messaging"
)

var ErrInvalidRoute = errors.New("invalid route rule")

// Rule maps scene messages to a bus and queue mode.
type Rule struct {
	Method    string `yaml:"method"` // "*" matches any method
	TagPrefix string `yaml:"tag_prefix,omitempty"`
	Bus       string `yaml:"bus"`
	Mode      string `yaml:"mode,omitempty"`
	Priority  int    `yaml:"priority,omitempty"`
	Enabled   *bool  `yaml:"enabled,omitempty"`

	mode bus.QueueMode
}

// IsEnabled returns whether the rule is enabled (default true).
func (r Rule) IsEnabled() bool {
	if r.Enabled == nil {
		return true
	}
	return *r.Enabled
}

func (r Rule) matches(method, tag string) bool {
	if r.Method != "*" && r.Method != method {
		return false
	}
	return strings.HasPrefix(tag, r.TagPrefix)
}

// Route is the resolved destination of a message.
type Route struct {
	Bus  string
	Mode bus.QueueMode
}

// DefaultRoute applies to scene messages no rule matches.
var DefaultRoute = Route{Bus: messaging.BusSystem, Mode: bus.Reliable}

// GlobalRoute applies to every non-scene message.
var GlobalRoute = Route{Bus: messaging.BusInit, Mode: bus.Reliable}

type routesFile struct {
	Rules []Rule `yaml:"rules"`
}

// Table holds the active rules. Safe for concurrent use.
type Table struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewTable creates a table from rules.
func NewTable(rules []Rule) (*Table, error) {
	t := &Table{}
	if err := t.Replace(rules); err != nil {
		return nil, err
	}
	return t, nil
}

// Parse decodes and validates YAML rules.
func Parse(data []byte) ([]Rule, error) {
	var f routesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	for i := range f.Rules {
		if err := validate(&f.Rules[i]); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
	}
	return f.Rules, nil
}

// LoadFile reads rules from path. A missing file yields no rules.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("[Routes] No routes file: %s", path)
			return nil, nil
		}
		return nil, fmt.Errorf("read routes: %w", err)
	}
	return Parse(data)
}

// LoadFileOrDefault reads rules from path, falling back to DefaultRulesYAML
// when the file is missing.
func LoadFileOrDefault(path string) ([]Rule, error) {
	rules, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		log.Printf("[Routes] %s not found, using built-in rules", path)
		return Parse([]byte(DefaultRulesYAML))
	}
	return rules, nil
}

func validate(r *Rule) error {
	if r.Method == "" {
		return fmt.Errorf("%w: method is required", ErrInvalidRoute)
	}
	switch r.Bus {
	case messaging.BusInit, messaging.BusSystem, messaging.BusUI:
	default:
		return fmt.Errorf("%w: unknown bus %q", ErrInvalidRoute, r.Bus)
	}
	mode, err := bus.ParseQueueMode(r.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
	}
	r.mode = mode
	return nil
}

// Replace swaps in a new rule set, ordered by descending priority. Rules of
// equal priority keep file order.
func (t *Table) Replace(rules []Rule) error {
	sorted := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if err := validate(&r); err != nil {
			return err
		}
		sorted = append(sorted, r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	t.mu.Lock()
	t.rules = sorted
	t.mu.Unlock()
	return nil
}

// Reload re-reads rules from path and swaps them in. A missing file reverts
// to the built-in rules.
func (t *Table) Reload(path string) error {
	rules, err := LoadFileOrDefault(path)
	if err != nil {
		return err
	}
	if err := t.Replace(rules); err != nil {
		return err
	}
	log.Printf("[Routes] ✅ Loaded %d rules from %s", len(rules), path)
	return nil
}

// Resolve picks the route for a message.
func (t *Table) Resolve(msg bus.QueuedMessage) Route {
	if msg.Kind != bus.KindSceneMessage {
		return GlobalRoute
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rules {
		if r.IsEnabled() && r.matches(msg.Method, msg.Tag) {
			return Route{Bus: r.Bus, Mode: r.mode}
		}
	}
	return DefaultRoute
}

// SessionFor returns the scheduler session a routed message belongs to.
// Scene messages and scene-started markers are scene-scoped.
func SessionFor(msg bus.QueuedMessage, route Route) messaging.SessionKey {
	switch msg.Kind {
	case bus.KindSceneMessage, bus.KindSceneStarted:
		return messaging.SessionKey{SceneID: msg.SceneID, BusID: route.Bus}
	default:
		return messaging.SessionKey{BusID: route.Bus}
	}
}

// Rules returns the active rules in match order.
func (t *Table) Rules() []Rule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Rule, len(t.rules))
	copy(out, t.rules)
	return out
}

// QueueMode returns the validated mode; empty Mode resolves to reliable.
func (r Rule) QueueMode() bus.QueueMode { return r.mode }

// Len returns the number of loaded rules.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}

// DefaultRulesYAML is written by the onboard command.
const DefaultRulesYAML = `# Scene message routing.
# Rules are tried by descending priority; the first enabled match wins.
# Unmatched scene messages go to SYSTEM, reliable.
rules:
  - method: UpdateEntityComponent
    tag_prefix: "transform:"
    bus: SYSTEM
    mode: lossy
    priority: 10
  - method: CreateEntity
    bus: INIT
  - method: ComponentCreated
    bus: INIT
  - method: AttachEntityComponent
    bus: INIT
  - method: SetEntityParent
    bus: INIT
  - method: ComponentUpdated
    tag_prefix: "ui:"
    bus: UI
    priority: 5
`
