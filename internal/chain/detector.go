// File: internal/chain/detector.go
package chain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
	"github.com/hyen4320/JSSCanner-sub001/internal/taint"
)

// TaintStore is the part of the taint tracker the detector depends on.
type TaintStore interface {
	Create(value *jsvalue.Value, source string, level int, reason string) (*taint.TaintedValue, error)
	FindTaintByValue(value *jsvalue.Value) (*taint.TaintedValue, bool)
}

// Config holds the detector's tunables. Zero values take the defaults below.
type Config struct {
	Functions FunctionSets
	// MultiLayerPattern lists calls that together mark a layered decode attack.
	MultiLayerPattern []string
	// CorrelationWindow is how close an obfuscation call must be to a chain's
	// last step to join it.
	CorrelationWindow time.Duration
	// DangerousKeywords escalate a decoded result that contains any of them.
	DangerousKeywords    []string
	DecodedLevel         int
	ObfuscatedLevel      int
	KeywordEscalation    int
	KeywordPreviewLength int
	// AnomalyLogInterval throttles orphaned-taint warnings.
	AnomalyLogInterval time.Duration
	// Now is the detector clock. Replays set it to the event time.
	Now func() time.Time
}

// DefaultDangerousKeywords are substrings that mark a decoded payload as code.
var DefaultDangerousKeywords = []string{"eval", "script", "function", "ActiveX"}

const (
	defaultCorrelationWindow    = time.Second
	defaultDecodedLevel         = 6
	defaultObfuscatedLevel      = 5
	defaultKeywordEscalation    = 3
	defaultKeywordPreviewLength = 50
	defaultAnomalyLogInterval   = time.Second

	// dangerousLevel is fixed: executing tainted data is always maximum severity.
	dangerousLevel = taint.MaxLevel
)

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	cfg := Config{}
	applyConfigDefaults(&cfg)
	return cfg
}

func applyConfigDefaults(cfg *Config) {
	if cfg.Functions.Dangerous == nil && cfg.Functions.Decoders == nil && cfg.Functions.ObfuscationPatterns == nil {
		cfg.Functions = DefaultFunctionSets()
	}
	if cfg.MultiLayerPattern == nil {
		cfg.MultiLayerPattern = DefaultMultiLayerPattern
	}
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = defaultCorrelationWindow
	}
	if cfg.DangerousKeywords == nil {
		cfg.DangerousKeywords = DefaultDangerousKeywords
	}
	if cfg.DecodedLevel <= 0 {
		cfg.DecodedLevel = defaultDecodedLevel
	}
	if cfg.ObfuscatedLevel <= 0 {
		cfg.ObfuscatedLevel = defaultObfuscatedLevel
	}
	if cfg.KeywordEscalation <= 0 {
		cfg.KeywordEscalation = defaultKeywordEscalation
	}
	if cfg.KeywordPreviewLength <= 0 {
		cfg.KeywordPreviewLength = defaultKeywordPreviewLength
	}
	if cfg.AnomalyLogInterval <= 0 {
		cfg.AnomalyLogInterval = defaultAnomalyLogInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
}

// Detector is the stateful correlation engine. It is not safe for concurrent
// use; one detector and one taint store belong to one scan session.
type Detector struct {
	cfg        Config
	logger     *zap.Logger
	taints     TaintStore
	classifier *Classifier
	policy     *ChainTypePolicy

	// chains is the single store of every chain; status lives on the chain.
	chains map[string]*AttackChain
	// active holds active chain ids, most recently updated first.
	active    []string
	completed []string
	// dataToChain maps a step output data id to its chain. Entries survive
	// completion for audit.
	dataToChain map[string]string
	nextChainID int
	nextDataID  int

	orphanLog rate.Sometimes
}

// NewDetector builds a detector over taints.
func NewDetector(cfg Config, taints TaintStore, logger *zap.Logger) *Detector {
	applyConfigDefaults(&cfg)
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := NewClassifier(cfg.Functions)
	d := &Detector{
		cfg:        cfg,
		logger:     logger.Named("chain_detector"),
		taints:     taints,
		classifier: classifier,
		policy:     NewChainTypePolicy(classifier, cfg.MultiLayerPattern),
		orphanLog:  rate.Sometimes{First: 1, Interval: cfg.AnomalyLogInterval},
	}
	d.reset()
	return d
}

func (d *Detector) reset() {
	d.chains = make(map[string]*AttackChain)
	d.active = nil
	d.completed = nil
	d.dataToChain = make(map[string]string)
	d.nextChainID = 1
	d.nextDataID = 1
}

// Classifier exposes the function tables in use.
func (d *Detector) Classifier() *Classifier { return d.classifier }

// DetectFunctionCall ingests one observed call. Irrelevant names return
// immediately. It never fails: the analyzed script is untrusted, so malformed
// input degrades to a no-op.
func (d *Detector) DetectFunctionCall(name string, args []*jsvalue.Value, result *jsvalue.Value, context *jsvalue.Map) {
	category := d.classifier.Classify(name)
	if category == CategoryNone {
		return
	}
	d.logger.Debug("Detecting call.", zap.String("function", name), zap.Stringer("category", category))

	switch category {
	case CategoryDecoder:
		d.handleDecoder(name, args, result, context)
	case CategoryDangerous:
		d.handleDangerous(name, args, result, context)
	case CategoryObfuscation:
		d.handleObfuscation(name, args, result, context)
	}
}

func (d *Detector) handleDecoder(name string, args []*jsvalue.Value, result *jsvalue.Value, context *jsvalue.Map) {
	if len(args) == 0 || result.IsUndefined() {
		return
	}
	input := args[0]

	inputTaint, _ := d.taints.FindTaintByValue(input)
	var owner *AttackChain
	if inputTaint != nil {
		owner = d.activeChainFor(inputTaint.ValueID)
	}

	tainted, err := d.taints.Create(result, name, d.cfg.DecodedLevel, "Decoded data")
	if err != nil {
		d.logger.Debug("Decoder result not tracked.", zap.String("function", name), zap.Error(err))
		return
	}
	if s, ok := result.AsString(); ok {
		if d.containsDangerousKeyword(s) {
			tainted.Escalate(d.cfg.KeywordEscalation,
				fmt.Sprintf(" (Decoded dangerous keyword: %s)", preview(s, d.cfg.KeywordPreviewLength)))
		}
	}

	now := d.cfg.Now()
	if owner != nil {
		in := NewDataNode(inputTaint.ValueID, input, TypeOf(input), inputTaint.ValueID)
		out := NewDataNode(tainted.ValueID, result, TypeOf(result), in.DataID)
		step := d.newStep(owner, name, in, out, tainted.TaintLevel, context, now)
		if d.appendStep(owner, step) {
			d.logger.Debug("Extended chain with decoder (multi-layer encoding).",
				zap.String("chain_id", owner.ID()),
				zap.String("function", name))
		}
		return
	}

	chainID := "chain_" + strconv.Itoa(d.nextChainID)
	d.nextChainID++
	c := NewAttackChain(chainID, d.policy)

	in := NewDataNode(d.freshDataID(), input, TypeString, "")
	out := NewDataNode(tainted.ValueID, result, TypeString, in.DataID)
	step := d.newStep(c, name, in, out, tainted.TaintLevel, context, now)
	if err := c.AddStep(step); err != nil {
		d.logger.Error("Failed to seed chain.", zap.String("chain_id", chainID), zap.Error(err))
		return
	}
	d.chains[chainID] = c
	d.active = append([]string{chainID}, d.active...)
	d.dataToChain[out.DataID] = chainID

	d.logger.Debug("Started chain.", zap.String("chain_id", chainID), zap.String("function", name))
}

func (d *Detector) handleDangerous(name string, args []*jsvalue.Value, result *jsvalue.Value, context *jsvalue.Map) {
	if len(args) == 0 {
		return
	}
	input := args[0]

	inputTaint, ok := d.taints.FindTaintByValue(input)
	if !ok {
		d.logger.Debug("Dangerous call without tainted input.", zap.String("function", name))
		return
	}

	owner := d.activeChainFor(inputTaint.ValueID)
	if owner == nil {
		d.orphanLog.Do(func() {
			d.logger.Warn("Tainted input reached dangerous function but no active chain owns it.",
				zap.String("function", name),
				zap.String("value_id", inputTaint.ValueID))
		})
		return
	}

	in := NewDataNode(inputTaint.ValueID, input, TypeOf(input), inputTaint.ValueID)
	outID := ""
	if !result.IsUndefined() {
		resultTaint, err := d.taints.Create(result, name+"_output", dangerousLevel, "Output of dangerous function")
		if err == nil {
			outID = resultTaint.ValueID
		} else {
			d.logger.Debug("Dangerous call result not tracked.", zap.String("function", name), zap.Error(err))
		}
	}
	if outID == "" {
		outID = d.freshDataID()
	}
	out := NewDataNode(outID, result, TypeAny, in.DataID)

	now := d.cfg.Now()
	step := d.newStep(owner, name, in, out, dangerousLevel, context, now)
	if !d.appendStep(owner, step) {
		return
	}
	d.completeChain(owner, fmt.Sprintf("Dangerous function '%s' executed with tainted input", name))
}

func (d *Detector) handleObfuscation(name string, args []*jsvalue.Value, result *jsvalue.Value, context *jsvalue.Map) {
	if result.IsUndefined() {
		return
	}

	tainted, err := d.taints.Create(result, name, d.cfg.ObfuscatedLevel, "Obfuscated data")
	if err != nil {
		d.logger.Debug("Obfuscation result not tracked.", zap.String("function", name), zap.Error(err))
		return
	}

	var input *jsvalue.Value
	if len(args) > 0 {
		input = args[0]
	}

	now := d.cfg.Now()
	owner := d.chainWithinWindow(now)
	if owner == nil {
		d.logger.Debug("No active chain within correlation window.", zap.String("function", name))
		return
	}

	// The input node is always fresh; it only links back when the input value
	// itself carries taint.
	parentID := ""
	if input != nil {
		if inputTaint, ok := d.taints.FindTaintByValue(input); ok {
			parentID = inputTaint.ValueID
		}
	}
	in := NewDataNode(d.freshDataID(), input, TypeOf(input), parentID)
	out := NewDataNode(tainted.ValueID, result, TypeOf(result), in.DataID)
	step := d.newStep(owner, name, in, out, tainted.TaintLevel, context, now)
	if d.appendStep(owner, step) {
		d.logger.Debug("Added obfuscation step to chain.",
			zap.String("chain_id", owner.ID()),
			zap.String("function", name))
	}
}

// chainWithinWindow scans active chains, most recently updated first, and
// returns the first whose last step is within the correlation window of now.
func (d *Detector) chainWithinWindow(now time.Time) *AttackChain {
	nowMs := now.UnixMilli()
	window := d.cfg.CorrelationWindow.Milliseconds()
	for _, id := range d.active {
		c := d.chains[id]
		last, ok := c.LastStep()
		if !ok {
			continue
		}
		diff := nowMs - last.Timestamp
		if diff < 0 {
			diff = -diff
		}
		if diff < window {
			return c
		}
	}
	return nil
}

// activeChainFor resolves the chain owning dataID. Completed chains are never
// returned.
func (d *Detector) activeChainFor(dataID string) *AttackChain {
	id, ok := d.dataToChain[dataID]
	if !ok {
		return nil
	}
	c, ok := d.chains[id]
	if !ok || c.Status() != StatusActive {
		return nil
	}
	return c
}

func (d *Detector) newStep(c *AttackChain, name string, in, out DataNode, level int, context *jsvalue.Map, now time.Time) ChainStep {
	return ChainStep{
		StepID:       fmt.Sprintf("step_%s_%d", c.ID(), c.Len()+1),
		FunctionName: name,
		Input:        in,
		Output:       out,
		TaintLevel:   level,
		Context:      context.Clone(),
		Timestamp:    now.UnixMilli(),
	}
}

// appendStep adds step to an active chain, registers its output, and moves the
// chain to the front of the active order.
func (d *Detector) appendStep(c *AttackChain, step ChainStep) bool {
	if err := c.AddStep(step); err != nil {
		d.logger.Error("Failed to append step.", zap.String("chain_id", c.ID()), zap.Error(err))
		return false
	}
	d.dataToChain[step.Output.DataID] = c.ID()
	d.touch(c.ID())
	return true
}

func (d *Detector) touch(id string) {
	for i, cur := range d.active {
		if cur == id {
			copy(d.active[1:i+1], d.active[:i])
			d.active[0] = id
			return
		}
	}
}

func (d *Detector) completeChain(c *AttackChain, reason string) {
	if err := c.Complete(reason); err != nil {
		if !errors.Is(err, ErrChainCompleted) {
			d.logger.Error("Failed to complete chain.", zap.String("chain_id", c.ID()), zap.Error(err))
		}
		return
	}
	for i, id := range d.active {
		if id == c.ID() {
			d.active = append(d.active[:i], d.active[i+1:]...)
			break
		}
	}
	d.completed = append(d.completed, c.ID())

	fields := []zap.Field{
		zap.String("chain_id", c.ID()),
		zap.String("chain_type", c.ChainType()),
		zap.Int("severity", c.FinalSeverity()),
		zap.Int("steps", c.Len()),
	}
	if c.VerifyCausality() {
		d.logger.Info("Chain completed, causality verified.", fields...)
	} else {
		d.logger.Warn("Chain completed, causality verification failed.", fields...)
	}
}

func (d *Detector) freshDataID() string {
	id := "data_" + strconv.Itoa(d.nextDataID)
	d.nextDataID++
	return id
}

func (d *Detector) containsDangerousKeyword(s string) bool {
	for _, kw := range d.cfg.DangerousKeywords {
		if kw != "" && strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// preview returns at most n runes of s.
func preview(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// FindChainForTaint returns the chain that produced the data id, whether it is
// still active or already completed.
func (d *Detector) FindChainForTaint(valueID string) (string, bool) {
	id, ok := d.dataToChain[valueID]
	return id, ok
}

// Chain returns a snapshot of the chain with the given id.
func (d *Detector) Chain(id string) (*AttackChain, bool) {
	c, ok := d.chains[id]
	if !ok {
		return nil, false
	}
	if c.Status() == StatusCompleted {
		return c, true
	}
	return c.Clone(), true
}

// ActiveChains returns snapshots of in-flight chains, most recently updated
// first.
func (d *Detector) ActiveChains() []*AttackChain {
	out := make([]*AttackChain, 0, len(d.active))
	for _, id := range d.active {
		out = append(out, d.chains[id].Clone())
	}
	return out
}

// CompletedChains returns completed chains in completion order. Completed
// chains reject further changes, so they are returned directly.
func (d *Detector) CompletedChains() []*AttackChain {
	out := make([]*AttackChain, 0, len(d.completed))
	for _, id := range d.completed {
		out = append(out, d.chains[id])
	}
	return out
}

// Clear drops every chain and restarts id allocation.
func (d *Detector) Clear() {
	d.reset()
	d.logger.Debug("Detector cleared.")
}

// Status renders a human-readable summary of the detector state.
func (d *Detector) Status() string {
	var sb strings.Builder
	sb.WriteString("[CHAIN DETECTOR STATUS]\n")
	fmt.Fprintf(&sb, "  Active Chains: %d\n", len(d.active))
	fmt.Fprintf(&sb, "  Completed Chains: %d\n", len(d.completed))
	if len(d.active) > 0 {
		sb.WriteString("\n  Active:\n")
		for _, id := range d.active {
			c := d.chains[id]
			fmt.Fprintf(&sb, "    - %s: %d steps, type=%s\n", id, c.Len(), c.ChainType())
		}
	}
	if len(d.completed) > 0 {
		sb.WriteString("\n  Completed:\n")
		for _, id := range d.completed {
			c := d.chains[id]
			fmt.Fprintf(&sb, "    - %s: %s, severity=%d, verified=%t\n", id, c.ChainType(), c.FinalSeverity(), c.VerifyCausality())
		}
	}
	return sb.String()
}
