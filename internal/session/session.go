// File: internal/session/session.go

// Package session pairs one taint tracker with one chain detector for a single
// analysis session and exposes the calls the hook layer makes.
package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/hooktrace"
	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
	"github.com/hyen4320/JSSCanner-sub001/internal/taint"
)

// Config configures a session. Clock fields inside Taint and Chain are
// overridden by the session clock.
type Config struct {
	// ID names the session; a random UUID is used when empty.
	ID    string
	Taint taint.Config
	Chain chain.Config
	// PropagationFunctions carry taint from their arguments to their result
	// without starting or extending a chain. Nil uses
	// DefaultPropagationFunctions.
	PropagationFunctions []string
	// Now is the wall clock used outside of replays. Defaults to time.Now.
	Now func() time.Time
}

// DefaultPropagationFunctions are the value-preserving globals whose output
// stays as suspicious as their input.
var DefaultPropagationFunctions = []string{"escape", "encodeURI", "decodeURI", "encodeURIComponent", "parseInt"}

// FinalReport is the complete output of a session.
type FinalReport struct {
	SessionID       string           `json:"sessionId"`
	ChainAnalysis   chain.Report     `json:"chainAnalysis"`
	TaintStatistics taint.Statistics `json:"taintStatistics"`
}

// Session owns the tracker and detector of one scan. It is not safe for
// concurrent use.
type Session struct {
	id       string
	logger   *zap.Logger
	tracker  *taint.Tracker
	detector *chain.Detector

	propagators map[string]struct{}

	wall      func() time.Time
	eventTime time.Time
}

// New creates a session.
func New(cfg Config, logger *zap.Logger) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session").With(zap.String("session_id", cfg.ID))

	if cfg.PropagationFunctions == nil {
		cfg.PropagationFunctions = DefaultPropagationFunctions
	}

	s := &Session{id: cfg.ID, logger: logger, wall: cfg.Now, propagators: make(map[string]struct{})}
	for _, name := range cfg.PropagationFunctions {
		s.propagators[name] = struct{}{}
	}
	cfg.Taint.Now = s.now
	cfg.Chain.Now = s.now
	s.tracker = taint.NewTracker(cfg.Taint, logger)
	s.detector = chain.NewDetector(cfg.Chain, s.tracker, logger)
	return s
}

// now is the clock shared by tracker and detector. During a replay it reports
// the timestamp of the event being processed.
func (s *Session) now() time.Time {
	if !s.eventTime.IsZero() {
		return s.eventTime
	}
	return s.wall()
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Tracker() *taint.Tracker   { return s.tracker }
func (s *Session) Detector() *chain.Detector { return s.detector }

// TrackFunctionCall forwards a live call to the detector, stamping the context
// with the current time in milliseconds.
func (s *Session) TrackFunctionCall(name string, args []*jsvalue.Value, result *jsvalue.Value) {
	s.eventTime = time.Time{}
	ctx := jsvalue.NewMap()
	ctx.Set("timestamp", jsvalue.Number(float64(s.now().UnixMilli())))
	s.detector.DetectFunctionCall(name, args, result, ctx)
	s.propagate(name, args, result)
}

// Observe processes one decoded hook event. The event timestamp, when present,
// drives the session clock so replays correlate exactly as the live run did.
func (s *Session) Observe(ev hooktrace.Event) {
	if ev.IsSessionEnd() {
		return
	}
	s.eventTime = ev.Timestamp
	defer func() { s.eventTime = time.Time{} }()

	if ev.IsAssignment() {
		var value *jsvalue.Value
		if len(ev.Args) > 0 {
			value = ev.Args[0]
		} else {
			value = ev.Result
		}
		s.TrackVariableAssignment(ev.Variable, value, ev.Source)
		return
	}

	ctx := ev.Context.Clone()
	if _, ok := ctx.Get("timestamp"); !ok {
		ctx.Set("timestamp", jsvalue.Number(float64(s.now().UnixMilli())))
	}
	if ev.Line > 0 {
		if _, ok := ctx.Get("line"); !ok {
			ctx.Set("line", jsvalue.Number(float64(ev.Line)))
		}
	}
	s.detector.DetectFunctionCall(ev.Name, ev.Args, ev.Result, ctx)
	s.propagate(ev.Name, ev.Args, ev.Result)
}

// propagate derives taint for the result of a propagation function from its
// tainted arguments. One tainted argument propagates; several merge. Names the
// detector classifies are skipped since the detector taints those results.
func (s *Session) propagate(name string, args []*jsvalue.Value, result *jsvalue.Value) {
	if _, ok := s.propagators[name]; !ok || result.IsUndefined() {
		return
	}
	if s.detector.Classifier().Classify(name) != chain.CategoryNone {
		return
	}
	if _, ok := s.tracker.FindTaintByValue(result); ok {
		return
	}

	var parents []*taint.TaintedValue
	seen := make(map[string]bool)
	for _, arg := range args {
		tv, ok := s.tracker.FindTaintByValue(arg)
		if !ok || seen[tv.ValueID] {
			continue
		}
		seen[tv.ValueID] = true
		parents = append(parents, tv)
	}

	var (
		derived *taint.TaintedValue
		err     error
	)
	switch len(parents) {
	case 0:
		return
	case 1:
		derived, err = s.tracker.Propagate(parents[0], result, name)
	default:
		derived, err = s.tracker.Merge(parents, result, name)
	}
	if err != nil {
		s.logger.Debug("Taint propagation skipped.", zap.String("function", name), zap.Error(err))
		return
	}
	s.logger.Debug("Propagated taint.",
		zap.String("function", name),
		zap.Int("parents", len(parents)),
		zap.String("value_id", derived.ValueID))
}

// TrackVariableAssignment marks name as tainted when value already carries
// taint. Untainted assignments are ignored.
func (s *Session) TrackVariableAssignment(name string, value *jsvalue.Value, source string) {
	if name == "" {
		return
	}
	tv, ok := s.tracker.FindTaintByValue(value)
	if !ok {
		return
	}
	s.tracker.TaintVariable(name, tv)
	s.logger.Debug("Tainted variable assignment.",
		zap.String("variable", name),
		zap.String("source", source),
		zap.String("value_id", tv.ValueID))
}

// IsVariableTainted reports whether the variable holds tainted data.
func (s *Session) IsVariableTainted(name string) bool {
	return s.tracker.IsVariableTainted(name)
}

// CompletedChains returns the session's completed chains.
func (s *Session) CompletedChains() []*chain.AttackChain {
	return s.detector.CompletedChains()
}

// FinalReport combines the chain report with taint statistics.
func (s *Session) FinalReport() FinalReport {
	return FinalReport{
		SessionID:       s.id,
		ChainAnalysis:   s.detector.GenerateReport(),
		TaintStatistics: s.tracker.Statistics(),
	}
}

// Reset clears all state so the session can analyze an unrelated script.
func (s *Session) Reset() {
	s.tracker.Clear()
	s.detector.Clear()
	s.eventTime = time.Time{}
	s.logger.Debug("Session reset.")
}

// DebugInfo renders detector status followed by taint statistics.
func (s *Session) DebugInfo() string {
	var sb strings.Builder
	sb.WriteString(s.detector.Status())
	stats := s.tracker.Statistics()
	sb.WriteString("\n[TAINT TRACKER]\n")
	fmt.Fprintf(&sb, "  TotalTaintedValues: %d\n", stats.TotalTaintedValues)
	fmt.Fprintf(&sb, "  TaintedVariables: %d\n", stats.TaintedVariables)
	fmt.Fprintf(&sb, "  PropagationEdges: %d\n", stats.PropagationEdges)
	fmt.Fprintf(&sb, "  MaxTaintLevel: %d\n", stats.MaxTaintLevel)
	return sb.String()
}
