package chain

import (
	"testing"
	"time"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
	"github.com/hyen4320/JSSCanner-sub001/internal/taint"
)

// fuzzCall is one generated observation. Values are drawn from a small shared
// pool by index so that later calls can consume earlier outputs.
type fuzzCall struct {
	Name      uint8
	ArgRefs   []uint8
	Result    uint8
	NewResult bool
	Text      string
	AdvanceMs uint16
}

var fuzzNames = []string{
	"atob", "btoa", "unescape", "decodeURIComponent",
	"eval", "Function", "setTimeout", "setInterval",
	"String.fromCharCode", "charCodeAt", "console.log", "",
}

// FuzzDetector_Structured feeds generated call sequences and checks the
// membership and severity invariants after every call.
func FuzzDetector_Structured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var calls []fuzzCall
		if err := consumer.GenerateStruct(&calls); err != nil {
			return
		}
		if len(calls) > 64 {
			calls = calls[:64]
		}

		clock := newFakeClock()
		tracker := taint.NewTracker(taint.Config{MaxValues: 32, Now: clock.Now}, zap.NewNop())
		d := NewDetector(Config{Now: clock.Now}, tracker, zap.NewNop())

		pool := []*jsvalue.Value{jsvalue.String("seed"), jsvalue.Undefined(), nil}
		pick := func(i uint8) *jsvalue.Value { return pool[int(i)%len(pool)] }

		for _, call := range calls {
			clock.Advance(time.Duration(call.AdvanceMs) * time.Millisecond)

			var callArgs []*jsvalue.Value
			for _, ref := range call.ArgRefs {
				callArgs = append(callArgs, pick(ref))
			}
			result := pick(call.Result)
			if call.NewResult {
				result = jsvalue.String(call.Text)
				pool = append(pool, result)
			}

			d.DetectFunctionCall(fuzzNames[int(call.Name)%len(fuzzNames)], callArgs, result, nil)

			for _, c := range d.CompletedChains() {
				if c.FinalSeverity() < c.MaxTaintLevel() {
					t.Fatalf("chain %s severity %d below max step level %d", c.ID(), c.FinalSeverity(), c.MaxTaintLevel())
				}
			}
			seen := make(map[string]bool)
			for _, c := range d.ActiveChains() {
				seen[c.ID()] = true
			}
			for _, c := range d.CompletedChains() {
				if seen[c.ID()] {
					t.Fatalf("chain %s is both active and completed", c.ID())
				}
				seen[c.ID()] = true
			}
			if len(seen) != len(d.chains) {
				t.Fatalf("membership mismatch: %d listed, %d stored", len(seen), len(d.chains))
			}
		}
	})
}
