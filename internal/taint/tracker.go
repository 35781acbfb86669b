// File: internal/taint/tracker.go
package taint

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
)

// ErrTaintLimitReached is returned by Create once the tracker holds its
// configured maximum number of records.
var ErrTaintLimitReached = errors.New("taint: maximum number of tainted values reached")

// Lookup modes for FindTaintByValue.
const (
	// MatchIdentity attaches taint to one produced *jsvalue.Value instance.
	MatchIdentity = "identity"
	// MatchContent matches any value with the same rendered contents. The
	// most recently created record wins.
	MatchContent = "content"
)

// DefaultMaxValues caps the number of records held by one tracker.
const DefaultMaxValues = 50000

// Config holds the tracker's tunables.
type Config struct {
	MaxValues int
	MatchMode string
	// Now is the clock used for CreatedAt. Defaults to time.Now.
	Now func() time.Time
}

func applyConfigDefaults(cfg *Config) {
	if cfg.MaxValues <= 0 {
		cfg.MaxValues = DefaultMaxValues
	}
	if cfg.MatchMode == "" {
		cfg.MatchMode = MatchIdentity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Tracker is the authoritative store of tainted values for one scan session.
// It is not safe for concurrent use; run one tracker per session.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	nextID  int
	order   []string
	byID    map[string]*TaintedValue
	byRef   map[*jsvalue.Value]*TaintedValue
	byText  map[string]*TaintedValue
	vars    map[string]string
	varList []string
	// edges maps a parent id to its children in creation order.
	edges map[string][]string
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	applyConfigDefaults(&cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		cfg:    cfg,
		logger: logger.Named("taint_tracker"),
	}
	t.reset()
	return t
}

func (t *Tracker) reset() {
	t.nextID = 1
	t.order = nil
	t.byID = make(map[string]*TaintedValue)
	t.byRef = make(map[*jsvalue.Value]*TaintedValue)
	t.byText = make(map[string]*TaintedValue)
	t.vars = make(map[string]string)
	t.varList = nil
	t.edges = make(map[string][]string)
}

// Create records value as tainted and returns the new record. The level is
// clamped into [MinLevel, MaxLevel]. Any value may be tainted, so the only
// failure is ErrTaintLimitReached.
func (t *Tracker) Create(value *jsvalue.Value, source string, level int, reason string) (*TaintedValue, error) {
	if len(t.byID) >= t.cfg.MaxValues {
		t.logger.Warn("Taint limit reached, skipping new taint.",
			zap.Int("max_values", t.cfg.MaxValues),
			zap.String("source", source))
		return nil, ErrTaintLimitReached
	}

	id := "taint_" + strconv.Itoa(t.nextID)
	t.nextID++

	tv := &TaintedValue{
		ValueID:    id,
		Value:      value,
		Source:     source,
		TaintLevel: ClampLevel(level),
		Reason:     reason,
		CreatedAt:  t.cfg.Now(),
	}
	t.byID[id] = tv
	t.order = append(t.order, id)
	if value != nil {
		t.byRef[value] = tv
	}
	if t.cfg.MatchMode == MatchContent {
		t.byText[value.String()] = tv
	}

	t.logger.Debug("Created tainted value.",
		zap.String("value_id", id),
		zap.String("source", source),
		zap.Int("level", tv.TaintLevel))
	return tv, nil
}

// FindTaintByValue returns the record attached to value. A miss is the normal
// case and is not an error.
func (t *Tracker) FindTaintByValue(value *jsvalue.Value) (*TaintedValue, bool) {
	if t.cfg.MatchMode == MatchContent {
		tv, ok := t.byText[value.String()]
		return tv, ok
	}
	if value == nil {
		return nil, false
	}
	tv, ok := t.byRef[value]
	return tv, ok
}

// Get returns the record with the given id.
func (t *Tracker) Get(id string) (*TaintedValue, bool) {
	tv, ok := t.byID[id]
	return tv, ok
}

// All returns every record in creation order.
func (t *Tracker) All() []*TaintedValue {
	out := make([]*TaintedValue, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.byID[id])
	}
	return out
}

// Count returns the number of records.
func (t *Tracker) Count() int { return len(t.byID) }

// Clear drops every record and restarts id allocation.
func (t *Tracker) Clear() {
	t.reset()
	t.logger.Debug("Tracker cleared.")
}

// TaintVariable marks a variable as holding tv. A nil tv is ignored.
func (t *Tracker) TaintVariable(name string, tv *TaintedValue) {
	if tv == nil {
		return
	}
	if _, seen := t.vars[name]; !seen {
		t.varList = append(t.varList, name)
	}
	t.vars[name] = tv.ValueID
	tv.propagateTo(name)
	t.logger.Debug("Variable tainted.", zap.String("variable", name), zap.String("value_id", tv.ValueID))
}

// IsVariableTainted reports whether name was passed to TaintVariable.
func (t *Tracker) IsVariableTainted(name string) bool {
	_, ok := t.vars[name]
	return ok
}

// VariableTaint returns the record currently held by the variable.
func (t *Tracker) VariableTaint(name string) (*TaintedValue, bool) {
	id, ok := t.vars[name]
	if !ok {
		return nil, false
	}
	return t.Get(id)
}

// Propagate creates a child record for value derived from parent by
// operation. The child inherits the parent's level.
func (t *Tracker) Propagate(parent *TaintedValue, value *jsvalue.Value, operation string) (*TaintedValue, error) {
	if parent == nil {
		return nil, errors.New("taint: propagate from nil parent")
	}
	child, err := t.Create(value,
		fmt.Sprintf("%s (from %s)", operation, parent.Source),
		parent.TaintLevel,
		"Propagated from "+parent.ValueID)
	if err != nil {
		return nil, err
	}
	child.addParent(parent.ValueID)
	t.addEdge(parent.ValueID, child.ValueID)
	return child, nil
}

// Merge creates one record for a value combined from several tainted parents.
// The result is one level more severe than the worst parent.
func (t *Tracker) Merge(parents []*TaintedValue, value *jsvalue.Value, operation string) (*TaintedValue, error) {
	if len(parents) == 0 {
		return nil, errors.New("taint: merge with no parents")
	}
	maxLevel := MinLevel
	sources := make([]string, 0, len(parents))
	for _, p := range parents {
		if p == nil {
			return nil, errors.New("taint: merge with nil parent")
		}
		if p.TaintLevel > maxLevel {
			maxLevel = p.TaintLevel
		}
		sources = append(sources, p.Source)
	}

	merged, err := t.Create(value,
		fmt.Sprintf("%s (merged from %s)", operation, strings.Join(sources, "+")),
		maxLevel+1,
		"Merged from multiple sources")
	if err != nil {
		return nil, err
	}
	for _, p := range parents {
		merged.addParent(p.ValueID)
		t.addEdge(p.ValueID, merged.ValueID)
	}
	return merged, nil
}

func (t *Tracker) addEdge(parent, child string) {
	for _, c := range t.edges[parent] {
		if c == child {
			return
		}
	}
	t.edges[parent] = append(t.edges[parent], child)
}

// TracePropagationPath lists id followed by every record derived from it,
// depth first. Each id appears once even when the graph has shared children.
func (t *Tracker) TracePropagationPath(id string) []string {
	var path []string
	visited := make(map[string]bool)
	var walk func(string)
	walk = func(cur string) {
		if visited[cur] {
			return
		}
		visited[cur] = true
		path = append(path, cur)
		for _, child := range t.edges[cur] {
			walk(child)
		}
	}
	walk(id)
	return path
}

// Statistics summarizes the tracker for reporting.
type Statistics struct {
	TotalTaintedValues   int            `json:"TotalTaintedValues"`
	TaintedVariables     int            `json:"TaintedVariables"`
	PropagationEdges     int            `json:"PropagationEdges"`
	SeverityDistribution map[string]int `json:"SeverityDistribution"`
	BySource             map[string]int `json:"BySource"`
	MaxTaintLevel        int            `json:"MaxTaintLevel"`
}

// Statistics returns counts by level and source plus graph sizes.
func (t *Tracker) Statistics() Statistics {
	stats := Statistics{
		TotalTaintedValues:   len(t.byID),
		TaintedVariables:     len(t.vars),
		SeverityDistribution: make(map[string]int),
		BySource:             make(map[string]int),
	}
	for _, children := range t.edges {
		stats.PropagationEdges += len(children)
	}
	for _, tv := range t.byID {
		stats.SeverityDistribution[strconv.Itoa(tv.TaintLevel)]++
		stats.BySource[tv.Source]++
		if tv.TaintLevel > stats.MaxTaintLevel {
			stats.MaxTaintLevel = tv.TaintLevel
		}
	}
	return stats
}

// Variables returns the tainted variable names in the order they were first seen.
func (t *Tracker) Variables() []string {
	out := make([]string, len(t.varList))
	copy(out, t.varList)
	return out
}
