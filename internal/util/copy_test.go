package util_test

import (
	"testing"

	"github.com/agentos-labs/agentstate/internal/util"
	"github.com/agentos-labs/agentstate/pkg/agentstate/v1/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeepCopy_Primitives(t *testing.T) {
	assert.Nil(t, util.DeepCopy(nil))
	assert.Equal(t, "abc", util.DeepCopy("abc"))
	assert.Equal(t, 4.5, util.DeepCopy(4.5))
	assert.Equal(t, true, util.DeepCopy(true))
}

func TestDeepCopy_NestedIsIndependent(t *testing.T) {
	src := map[string]interface{}{
		"name": "wf",
		"steps": []interface{}{
			map[string]interface{}{"id": "a", "done": false},
		},
		"current": nil,
	}

	cpy := util.DeepCopy(src).(map[string]interface{})
	require.Equal(t, src, cpy)

	cpy["steps"].([]interface{})[0].(map[string]interface{})["done"] = true
	cpy["name"] = "changed"

	assert.Equal(t, false, src["steps"].([]interface{})[0].(map[string]interface{})["done"])
	assert.Equal(t, "wf", src["name"])
	_, hasCurrent := cpy["current"]
	assert.True(t, hasCurrent, "nil values must survive the copy")
}

func TestCopyDocument(t *testing.T) {
	assert.Nil(t, util.CopyDocument(nil))

	doc := state.Document{
		"state_version":    "1.0.0",
		"current_workflow": nil,
		"metadata":         map[string]interface{}{"timestamp": "t"},
	}
	cpy := util.CopyDocument(doc)
	require.Equal(t, doc, cpy)

	cpy["metadata"].(map[string]interface{})["timestamp"] = "other"
	assert.Equal(t, "t", doc["metadata"].(map[string]interface{})["timestamp"])
}

func TestDeepCopy_Cycle(t *testing.T) {
	src := map[string]interface{}{"k": "v"}
	src["self"] = src

	cpy := util.DeepCopy(src).(map[string]interface{})
	assert.Equal(t, "v", cpy["k"])
	inner := cpy["self"].(map[string]interface{})
	inner["k"] = "changed"
	assert.Equal(t, "changed", cpy["k"], "cycle should point back at the copy")
	assert.Equal(t, "v", src["k"])
}

func TestDeepCopy_TypedContainers(t *testing.T) {
	count := 2
	src := state.Document{
		"tags":   []string{"a", "b"},
		"labels": map[string]string{"env": "dev"},
		"matrix": [][]int{{1, 2}},
		"pair":   [2]string{"x", "y"},
		"count":  &count,
		"empty":  []string(nil),
	}

	cpy := util.CopyDocument(src)
	require.Equal(t, src, cpy)

	cpy["tags"].([]string)[0] = "changed"
	cpy["labels"].(map[string]string)["env"] = "prod"
	cpy["matrix"].([][]int)[0][0] = 9
	*cpy["count"].(*int) = 5

	assert.Equal(t, []string{"a", "b"}, src["tags"])
	assert.Equal(t, map[string]string{"env": "dev"}, src["labels"])
	assert.Equal(t, [][]int{{1, 2}}, src["matrix"])
	assert.Equal(t, 2, count)
	assert.Nil(t, cpy["empty"].([]string))
}
