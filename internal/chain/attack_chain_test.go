package chain

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

func linkedStep(id, fn, inID, parentID, outID string, level int) ChainStep {
	return ChainStep{
		StepID:       id,
		FunctionName: fn,
		Input:        NewDataNode(inID, jsvalue.String("in"), TypeString, parentID),
		Output:       NewDataNode(outID, jsvalue.String("out"), TypeString, inID),
		TaintLevel:   level,
		Context:      jsvalue.NewMap(),
		Timestamp:    1700000000000,
	}
}

func TestAddStepLeavesSeverityAlone(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	require.NoError(t, c.AddStep(linkedStep("s1", "atob", "d1", "", "t1", 9)))

	assert.Equal(t, 0, c.FinalSeverity())
	assert.Equal(t, 9, c.MaxTaintLevel())
	assert.False(t, c.IsCompleted())
	assert.Equal(t, StatusActive, c.Status())
}

func TestCompleteSetsSeverityToMaxStepLevel(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	require.NoError(t, c.AddStep(linkedStep("s1", "atob", "d1", "", "t1", 6)))
	require.NoError(t, c.AddStep(linkedStep("s2", "unescape", "t1", "t1", "t2", 9)))
	require.NoError(t, c.AddStep(linkedStep("s3", "String.fromCharCode", "d2", "t2", "t3", 5)))

	require.NoError(t, c.Complete("done"))

	assert.Equal(t, 9, c.FinalSeverity())
	assert.GreaterOrEqual(t, c.FinalSeverity(), c.MaxTaintLevel())
	assert.Equal(t, "done", c.CompletionReason())
	assert.Equal(t, StatusCompleted, c.Status())
}

func TestCompletedChainRejectsChanges(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	require.NoError(t, c.AddStep(linkedStep("s1", "atob", "d1", "", "t1", 6)))
	require.NoError(t, c.Complete("first"))

	err := c.AddStep(linkedStep("s2", "eval", "t1", "t1", "d2", 10))
	assert.ErrorIs(t, err, ErrChainCompleted)
	err = c.Complete("second")
	assert.ErrorIs(t, err, ErrChainCompleted)

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, "first", c.CompletionReason())
}

func TestCompleteEmptyChain(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	assert.ErrorIs(t, c.Complete("nothing"), ErrEmptyChain)
	assert.False(t, c.IsCompleted())
}

func TestChainTypeIsStable(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	assert.Equal(t, ChainTypeUnknown, c.ChainType())
	require.NoError(t, c.AddStep(linkedStep("s1", "atob", "d1", "", "t1", 6)))

	policy := DefaultChainTypePolicy()
	first := policy.Label(c.Steps())
	second := policy.Label(c.Steps())
	assert.Equal(t, first, second)
	assert.Equal(t, first, c.ChainType())
}

func TestVerifyCausality(t *testing.T) {
	cases := []struct {
		name  string
		steps []ChainStep
		want  bool
	}{
		{"empty", nil, true},
		{"single", []ChainStep{linkedStep("s1", "atob", "d1", "", "t1", 6)}, true},
		{"linked by parent", []ChainStep{
			linkedStep("s1", "atob", "d1", "", "t1", 6),
			linkedStep("s2", "charCodeAt", "d2", "t1", "t2", 5),
		}, true},
		{"linked by data id", []ChainStep{
			linkedStep("s1", "atob", "d1", "", "t1", 6),
			linkedStep("s2", "atob", "t1", "t1", "t2", 6),
		}, true},
		{"time adjacency only", []ChainStep{
			linkedStep("s1", "atob", "d1", "", "t1", 6),
			linkedStep("s2", "String.fromCharCode", "d2", "", "t2", 5),
		}, false},
		{"break in the middle", []ChainStep{
			linkedStep("s1", "atob", "d1", "", "t1", 6),
			linkedStep("s2", "atob", "t1", "t1", "t2", 6),
			linkedStep("s3", "atob", "t9", "t9", "t3", 6),
		}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewAttackChain("chain_1", nil)
			for _, s := range tc.steps {
				require.NoError(t, c.AddStep(s))
			}
			assert.Equal(t, tc.want, c.VerifyCausality())
		})
	}
}

func TestAttackChainJSONWireForm(t *testing.T) {
	c := NewAttackChain("chain_7", nil)
	step := linkedStep("step_chain_7_1", "atob", "data_1", "", "taint_1", 6)
	step.Context = jsvalue.MapOf(jsvalue.Field{Key: "timestamp", Value: jsvalue.Number(1700000000000)})
	require.NoError(t, c.AddStep(step))
	require.NoError(t, c.Complete("reason"))

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(data, &generic))
	assert.ElementsMatch(t,
		[]string{"chainId", "steps", "chainType", "finalSeverity", "isCompleted", "completionReason"},
		keys(generic))

	steps := generic["steps"].([]any)
	require.Len(t, steps, 1)
	stepObj := steps[0].(map[string]any)
	assert.ElementsMatch(t,
		[]string{"stepId", "functionName", "input", "output", "taintLevel", "context", "timestamp"},
		keys(stepObj))
	assert.ElementsMatch(t,
		[]string{"dataId", "value", "type", "parentId", "metadata"},
		keys(stepObj["input"].(map[string]any)))

	var decoded AttackChain
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, c.ID(), decoded.ID())
	assert.Equal(t, c.ChainType(), decoded.ChainType())
	assert.Equal(t, c.FinalSeverity(), decoded.FinalSeverity())
	assert.True(t, decoded.IsCompleted())
	assert.Equal(t, "reason", decoded.CompletionReason())

	opts := cmp.Comparer(func(a, b *jsvalue.Value) bool { return a.Equal(b) })
	mapOpts := cmp.Comparer(func(a, b *jsvalue.Map) bool { return a.Equal(b) })
	if diff := cmp.Diff(c.Steps(), decoded.Steps(), opts, mapOpts); diff != "" {
		t.Errorf("steps mismatch after round trip (-want +got):\n%s", diff)
	}
}

func TestEmptyChainMarshalsEmptySteps(t *testing.T) {
	data, err := json.Marshal(NewAttackChain("chain_1", nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"steps":[]`)
}

func TestAttackChainString(t *testing.T) {
	c := NewAttackChain("chain_1", nil)
	require.NoError(t, c.AddStep(linkedStep("s1", "atob", "d1", "", "t1", 6)))
	assert.Equal(t, "AttackChain(id=chain_1, type=DECODE_CHAIN, severity=0, completed=false, steps=1)", c.String())

	require.NoError(t, c.Complete("x"))
	assert.Equal(t, `AttackChain(id=chain_1, type=DECODE_CHAIN, severity=6, completed=true, steps=1), reason="x"`, c.String())
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
