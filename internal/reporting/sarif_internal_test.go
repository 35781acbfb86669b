package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting/sarif"
)

func TestRuleID(t *testing.T) {
	tests := map[string]string{
		"DECODE_TO_EXEC_CHAIN": "JSSCANNER-DECODE-TO-EXEC-CHAIN",
		"custom chain.v2":      "JSSCANNER-CUSTOM-CHAIN.V2",
		"__weird__":            "JSSCANNER-WEIRD",
		"!!!":                  "JSSCANNER-UNKNOWN-CHAIN",
		"":                     "JSSCANNER-UNKNOWN-CHAIN",
	}
	for in, want := range tests {
		assert.Equal(t, want, ruleID(in), in)
	}
}

func TestMapSeverityToSARIFLevel(t *testing.T) {
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(10))
	assert.Equal(t, sarif.LevelError, mapSeverityToSARIFLevel(8))
	assert.Equal(t, sarif.LevelWarning, mapSeverityToSARIFLevel(7))
	assert.Equal(t, sarif.LevelWarning, mapSeverityToSARIFLevel(5))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(4))
	assert.Equal(t, sarif.LevelNote, mapSeverityToSARIFLevel(0))
}

func TestStepLine(t *testing.T) {
	withLine := func(v *jsvalue.Value) chain.ChainStep {
		return chain.ChainStep{Context: jsvalue.MapOf(jsvalue.Field{Key: "line", Value: v})}
	}
	assert.Equal(t, 42, stepLine(withLine(jsvalue.Number(42))))
	assert.Equal(t, 0, stepLine(withLine(jsvalue.Number(0))))
	assert.Equal(t, 0, stepLine(withLine(jsvalue.Number(1e12))), "out of range line is dropped")
	assert.Equal(t, 0, stepLine(withLine(jsvalue.String("7"))))
	assert.Equal(t, 0, stepLine(chain.ChainStep{}))
}
