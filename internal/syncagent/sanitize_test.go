package syncagent

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetsync/internal/events"
	"fleetsync/internal/models"
)

type node struct {
	Name     string   `json:"name"`
	Parent   *node    `json:"parent,omitempty"`
	Children []*node  `json:"children,omitempty"`
	Callback func()   `json:"callback,omitempty"`
	Score    float64  `json:"score"`
	Hidden   string   `json:"-"`
	Tags     []string `json:"tags,omitempty"`
}

func TestEncode_PassesThroughPlainValues(t *testing.T) {
	raw, err := Encode([]models.User{{ID: "D1", FuelLevel: 40}})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"D1","fuelLevel":40}]`, string(raw))
}

func TestEncode_ReplacesCycles(t *testing.T) {
	root := &node{Name: "root"}
	child := &node{Name: "child", Parent: root}
	root.Children = []*node{child}

	raw, err := Encode(root)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "root",
		"score": 0,
		"children": [{"name": "child", "score": 0, "parent": "[Circular]"}]
	}`, string(raw))
}

func TestEncode_SharedReferenceIsNotACycle(t *testing.T) {
	shared := &node{Name: "shared"}
	pair := []*node{shared, shared}

	raw, err := Encode(pair)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"name":"shared","score":0},{"name":"shared","score":0}]`, string(raw))
}

func TestEncode_SelfReferencingMap(t *testing.T) {
	m := map[string]any{"id": "x"}
	m["self"] = m

	raw, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","self":"[Circular]"}`, string(raw))
}

func TestSanitize_NonFiniteAndFuncs(t *testing.T) {
	in := map[string]any{
		"nan":  math.NaN(),
		"inf":  math.Inf(1),
		"fn":   func() {},
		"ch":   make(chan int),
		"list": []any{1.5, math.Inf(-1), func() {}},
		"node": node{Name: "n", Score: math.NaN(), Callback: func() {}, Hidden: "secret"},
	}

	raw, err := json.Marshal(Sanitize(in))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"nan": null,
		"inf": null,
		"list": [1.5, null, null],
		"node": {"name": "n", "score": null}
	}`, string(raw))
}

func TestSanitize_KeepsMarshalers(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	out := Sanitize(map[string]any{"at": at, "loop": math.NaN()})

	raw, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"2025-03-01T08:00:00Z","loop":null}`, string(raw))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		latency time.Duration
		err     error
		want    events.Health
	}{
		{200 * time.Millisecond, nil, events.HealthExcellent},
		{999 * time.Millisecond, nil, events.HealthExcellent},
		{time.Second, nil, events.HealthGood},
		{2900 * time.Millisecond, nil, events.HealthGood},
		{3 * time.Second, nil, events.HealthSlow},
		{10 * time.Second, nil, events.HealthSlow},
		{100 * time.Millisecond, assert.AnError, events.HealthPoor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.latency, tc.err), "latency %s err %v", tc.latency, tc.err)
	}
}
