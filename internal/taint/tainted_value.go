// File: internal/taint/tainted_value.go

// Package taint is the authoritative store of suspicious runtime values. Each
// TaintedValue records why a specific value instance is suspicious, how severe
// it is, and which operation produced it.
package taint

import (
	"fmt"
	"time"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

const (
	// MinLevel and MaxLevel bound every taint level.
	MinLevel = 1
	MaxLevel = 10
)

// TaintedValue is one tainted runtime value. Records are never deleted during
// a scan session; level and reason may only be escalated.
type TaintedValue struct {
	ValueID      string         `json:"valueId"`
	Value        *jsvalue.Value `json:"value"`
	Source       string         `json:"sourceFunction"`
	TaintLevel   int            `json:"taintLevel"`
	Reason       string         `json:"reason"`
	CreatedAt    time.Time      `json:"createdAt"`
	Parents      []string       `json:"parents"`
	PropagatedTo []string       `json:"propagatedToVariables"`
}

// Escalate raises the level by delta, clamped to MaxLevel, and appends note to
// the reason. A non-positive delta only appends the note.
func (tv *TaintedValue) Escalate(delta int, note string) {
	if delta > 0 {
		tv.TaintLevel = ClampLevel(tv.TaintLevel + delta)
	}
	tv.Reason += note
}

// RaiseTo lifts the level to at least level.
func (tv *TaintedValue) RaiseTo(level int) {
	if level > tv.TaintLevel {
		tv.TaintLevel = ClampLevel(level)
	}
}

func (tv *TaintedValue) addParent(id string) {
	for _, p := range tv.Parents {
		if p == id {
			return
		}
	}
	tv.Parents = append(tv.Parents, id)
}

func (tv *TaintedValue) propagateTo(variable string) {
	for _, v := range tv.PropagatedTo {
		if v == variable {
			return
		}
	}
	tv.PropagatedTo = append(tv.PropagatedTo, variable)
}

func (tv *TaintedValue) String() string {
	return fmt.Sprintf("TaintedValue(%s, val=%s, src=%s, level=%d, reason=%q)",
		tv.ValueID, tv.Value.String(), tv.Source, tv.TaintLevel, tv.Reason)
}

// ClampLevel forces level into [MinLevel, MaxLevel].
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}
