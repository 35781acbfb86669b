package chain

import (
	"fmt"
	"strings"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

// ChainStep is one correlated operation. Steps are immutable once appended to
// a chain.
type ChainStep struct {
	StepID       string       `json:"stepId"`
	FunctionName string       `json:"functionName"`
	Input        DataNode     `json:"input"`
	Output       DataNode     `json:"output"`
	TaintLevel   int          `json:"taintLevel"`
	Context      *jsvalue.Map `json:"context"`
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`
}

func (s ChainStep) String() string {
	var ctx []string
	s.Context.Range(func(k string, v *jsvalue.Value) bool {
		ctx = append(ctx, k+":"+v.String())
		return true
	})
	return fmt.Sprintf("ChainStep(id=%s, func=%s, taint=%d, input=%s, output=%s, context={%s})",
		s.StepID, s.FunctionName, s.TaintLevel, s.Input.DataID, s.Output.DataID, strings.Join(ctx, ", "))
}
