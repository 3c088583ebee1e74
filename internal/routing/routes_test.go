package routing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/scenebus/internal/bus"
	"github.com/dayuer/scenebus/internal/messaging"
)

func mustTable(t *testing.T, yamlText string) *Table {
	t.Helper()
	rules, err := Parse([]byte(yamlText))
	require.NoError(t, err)
	table, err := NewTable(rules)
	require.NoError(t, err)
	return table
}

func TestParse_DefaultRules(t *testing.T) {
	rules, err := Parse([]byte(DefaultRulesYAML))
	require.NoError(t, err)
	assert.Len(t, rules, 6)
	assert.Equal(t, "transform:", rules[0].TagPrefix)
	assert.Equal(t, bus.Lossy, rules[0].mode)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing method": "rules:\n  - bus: INIT\n",
		"unknown bus":    "rules:\n  - method: CreateEntity\n    bus: AUDIO\n",
		"unknown mode":   "rules:\n  - method: CreateEntity\n    bus: INIT\n    mode: maybe\n",
	}
	for name, text := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(text))
			assert.ErrorIs(t, err, ErrInvalidRoute)
		})
	}

	_, err := Parse([]byte("rules: [:"))
	assert.Error(t, err)
}

func TestResolve_DefaultAndGlobal(t *testing.T) {
	table := mustTable(t, "rules: []\n")

	assert.Equal(t, DefaultRoute, table.Resolve(bus.NewSceneMessage("s1", "t", bus.MethodEntityCreate, "")))
	assert.Equal(t, GlobalRoute, table.Resolve(bus.QueuedMessage{Kind: bus.KindLoadParcel}))
	assert.Equal(t, GlobalRoute, table.Resolve(bus.QueuedMessage{Kind: bus.KindUnloadScenes}))
}

func TestResolve_PriorityAndPrefix(t *testing.T) {
	table := mustTable(t, DefaultRulesYAML)

	lossy := table.Resolve(bus.NewSceneMessage("s1", "transform:e1", bus.MethodEntityComponentCreate, ""))
	assert.Equal(t, Route{Bus: messaging.BusSystem, Mode: bus.Lossy}, lossy)

	plain := table.Resolve(bus.NewSceneMessage("s1", "material:e1", bus.MethodEntityComponentCreate, ""))
	assert.Equal(t, DefaultRoute, plain)

	create := table.Resolve(bus.NewSceneMessage("s1", "e1", bus.MethodEntityCreate, ""))
	assert.Equal(t, Route{Bus: messaging.BusInit, Mode: bus.Reliable}, create)

	ui := table.Resolve(bus.NewSceneMessage("s1", "ui:panel", bus.MethodSharedComponentUpdate, ""))
	assert.Equal(t, Route{Bus: messaging.BusUI, Mode: bus.Reliable}, ui)
}

func TestResolve_WildcardAndDisabled(t *testing.T) {
	table := mustTable(t, `
rules:
  - method: "*"
    bus: UI
    priority: 1
  - method: CreateEntity
    bus: INIT
    priority: 5
    enabled: false
`)
	got := table.Resolve(bus.NewSceneMessage("s1", "e1", bus.MethodEntityCreate, ""))
	assert.Equal(t, messaging.BusUI, got.Bus)
}

func TestSessionFor(t *testing.T) {
	scene := bus.NewSceneMessage("s1", "t", bus.MethodEntityCreate, "")
	assert.Equal(t, messaging.SessionKey{SceneID: "s1", BusID: messaging.BusInit},
		SessionFor(scene, Route{Bus: messaging.BusInit}))

	started := bus.QueuedMessage{Kind: bus.KindSceneStarted, SceneID: "s1"}
	assert.Equal(t, messaging.SessionKey{SceneID: "s1", BusID: messaging.BusInit},
		SessionFor(started, GlobalRoute))

	load := bus.QueuedMessage{Kind: bus.KindLoadParcel, SceneID: "ignored"}
	assert.Equal(t, messaging.SessionKey{BusID: messaging.BusInit}, SessionFor(load, GlobalRoute))
}

func TestTable_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.yaml")

	table, err := NewTable(nil)
	require.NoError(t, err)

	require.NoError(t, table.Reload(path), "missing file reverts to built-in rules")
	assert.Equal(t, 6, table.Len())

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - method: X\n    bus: UI\n"), 0644))
	require.NoError(t, table.Reload(path))
	assert.Equal(t, 1, table.Len())

	require.NoError(t, os.WriteFile(path, []byte(DefaultRulesYAML), 0644))
	require.NoError(t, table.Reload(path))
	assert.Equal(t, 6, table.Len())

	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - method: X\n    bus: NOPE\n"), 0644))
	assert.Error(t, table.Reload(path))
	assert.Equal(t, 6, table.Len(), "a bad file keeps the previous rules")
}

func TestLoadFileOrDefault(t *testing.T) {
	rules, err := LoadFileOrDefault(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Len(t, rules, 6)

	rules, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Nil(t, rules)
}

func TestTable_RulesOrdered(t *testing.T) {
	table := mustTable(t, `
rules:
  - method: A
    bus: UI
  - method: B
    bus: INIT
    mode: lossy
    priority: 3
`)
	rules := table.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "B", rules[0].Method)
	assert.Equal(t, bus.Lossy, rules[0].QueueMode())
	assert.Equal(t, bus.Reliable, rules[1].QueueMode())
}
