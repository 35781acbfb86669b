package chain

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/json-iterator/go"
)

var (
	// ErrChainCompleted is returned when a completed chain is asked to change.
	ErrChainCompleted = errors.New("chain: chain is already completed")
	// ErrEmptyChain is returned when completing a chain that has no steps.
	ErrEmptyChain = errors.New("chain: chain has no steps")
)

// Status is the lifecycle state of a chain.
type Status int

const (
	StatusActive Status = iota
	StatusCompleted
)

func (s Status) String() string {
	if s == StatusCompleted {
		return "completed"
	}
	return "active"
}

// AttackChain is an ordered, append-only sequence of correlated steps. Its
// type label is recomputed on every append. Once completed the chain is
// immutable.
type AttackChain struct {
	id               string
	steps            []ChainStep
	chainType        string
	finalSeverity    int
	completed        bool
	completionReason string
	policy           *ChainTypePolicy
}

// NewAttackChain creates an empty active chain. A nil policy uses
// DefaultChainTypePolicy.
func NewAttackChain(id string, policy *ChainTypePolicy) *AttackChain {
	if policy == nil {
		policy = DefaultChainTypePolicy()
	}
	return &AttackChain{
		id:        id,
		policy:    policy,
		chainType: policy.Label(nil),
	}
}

func (c *AttackChain) ID() string               { return c.id }
func (c *AttackChain) ChainType() string        { return c.chainType }
func (c *AttackChain) FinalSeverity() int       { return c.finalSeverity }
func (c *AttackChain) IsCompleted() bool        { return c.completed }
func (c *AttackChain) CompletionReason() string { return c.completionReason }
func (c *AttackChain) Len() int                 { return len(c.steps) }

// Status reports whether the chain is still accepting steps.
func (c *AttackChain) Status() Status {
	if c.completed {
		return StatusCompleted
	}
	return StatusActive
}

// Steps returns a copy of the step sequence.
func (c *AttackChain) Steps() []ChainStep {
	out := make([]ChainStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// LastStep returns the most recently appended step.
func (c *AttackChain) LastStep() (ChainStep, bool) {
	if len(c.steps) == 0 {
		return ChainStep{}, false
	}
	return c.steps[len(c.steps)-1], true
}

// AddStep appends step and recomputes the chain type. Severity and completion
// are left alone.
func (c *AttackChain) AddStep(step ChainStep) error {
	if c.completed {
		return fmt.Errorf("add step %s to %s: %w", step.StepID, c.id, ErrChainCompleted)
	}
	c.steps = append(c.steps, step)
	c.chainType = c.policy.Label(c.steps)
	return nil
}

// Complete marks the chain finished and fixes its severity at the highest
// step taint level.
func (c *AttackChain) Complete(reason string) error {
	if c.completed {
		return fmt.Errorf("complete %s: %w", c.id, ErrChainCompleted)
	}
	if len(c.steps) == 0 {
		return fmt.Errorf("complete %s: %w", c.id, ErrEmptyChain)
	}
	c.completed = true
	c.completionReason = reason
	c.finalSeverity = c.MaxTaintLevel()
	c.chainType = c.policy.Label(c.steps)
	return nil
}

// MaxTaintLevel is the highest taint level across all steps so far.
func (c *AttackChain) MaxTaintLevel() int {
	highest := 0
	for _, s := range c.steps {
		if s.TaintLevel > highest {
			highest = s.TaintLevel
		}
	}
	return highest
}

// VerifyCausality reports whether data actually flowed from each step's output
// into the next step's input. A chain stitched together by time proximity alone
// fails this check. Empty and single-step chains pass.
func (c *AttackChain) VerifyCausality() bool {
	for i := 1; i < len(c.steps); i++ {
		prev := c.steps[i-1].Output.DataID
		next := c.steps[i].Input
		if next.ParentID != prev && next.DataID != prev {
			return false
		}
	}
	return true
}

// Clone returns a deep enough copy that appending to either chain does not
// affect the other. Values and maps inside steps are shared; they are not
// mutated after a step is appended.
func (c *AttackChain) Clone() *AttackChain {
	cp := *c
	cp.steps = c.Steps()
	return &cp
}

func (c *AttackChain) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "AttackChain(id=%s, type=%s, severity=%d, completed=%t, steps=%d)",
		c.id, c.chainType, c.finalSeverity, c.completed, len(c.steps))
	if c.completed {
		fmt.Fprintf(&sb, ", reason=%q", c.completionReason)
	}
	return sb.String()
}

type attackChainJSON struct {
	ChainID          string      `json:"chainId"`
	Steps            []ChainStep `json:"steps"`
	ChainType        string      `json:"chainType"`
	FinalSeverity    int         `json:"finalSeverity"`
	IsCompleted      bool        `json:"isCompleted"`
	CompletionReason string      `json:"completionReason"`
}

// MarshalJSON writes the wire form consumed by report builders.
func (c *AttackChain) MarshalJSON() ([]byte, error) {
	steps := c.steps
	if steps == nil {
		steps = []ChainStep{}
	}
	return json.Marshal(attackChainJSON{
		ChainID:          c.id,
		Steps:            steps,
		ChainType:        c.chainType,
		FinalSeverity:    c.finalSeverity,
		IsCompleted:      c.completed,
		CompletionReason: c.completionReason,
	})
}

// UnmarshalJSON restores a chain from its wire form. The stored chain type is
// kept as written; the default policy is used if steps are added later.
func (c *AttackChain) UnmarshalJSON(data []byte) error {
	var w attackChainJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("decode attack chain: %w", err)
	}
	*c = AttackChain{
		id:               w.ChainID,
		steps:            w.Steps,
		chainType:        w.ChainType,
		finalSeverity:    w.FinalSeverity,
		completed:        w.IsCompleted,
		completionReason: w.CompletionReason,
		policy:           DefaultChainTypePolicy(),
	}
	return nil
}
