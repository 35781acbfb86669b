package reporting

import (
	"fmt"
	"io"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting/sarif"
)

// Constants for tool identification in the SARIF report.
const (
	ToolName    = "jsscanner"
	ToolInfoURI = "https://github.com/hyen4320/JSSCanner-sub001"
	rulePrefix  = "JSSCANNER-"
)

// ruleIDSanitizer collapses everything but letters, digits and dots into a
// single hyphen.
var ruleIDSanitizer = regexp.MustCompile(`[^A-Z0-9.]+`)

// chainRuleDescriptions are the rule texts per chain type. Unlisted types get
// a generic description.
var chainRuleDescriptions = map[string]string{
	chain.ChainTypeMultiLayerDecode:  "A value was decoded through several layers and then executed.",
	chain.ChainTypeDecodeToExec:      "Decoded data reached a code execution sink.",
	chain.ChainTypeObfuscationToExec: "Data assembled by an obfuscation primitive reached a code execution sink.",
	chain.ChainTypeDirectExec:        "A tainted value was passed straight to a code execution sink.",
	chain.ChainTypeDecodeObfuscation: "Decoded data was further transformed by an obfuscation primitive.",
	chain.ChainTypeDecode:            "Data passed through one or more decoders.",
	chain.ChainTypeObfuscation:       "Data passed through one or more obfuscation primitives.",
}

// SARIFReporter writes completed attack chains as SARIF 2.1.0. Each chain is
// a result whose code flow lists the chain's steps. It is safe for concurrent
// use.
type SARIFReporter struct {
	writer io.WriteCloser
	logger *zap.Logger
	source string

	// mu protects log and ruleIndex.
	mu        sync.Mutex
	log       *sarif.Log
	ruleIndex map[string]int
}

// NewSARIFReporter creates a reporter that owns writer.
func NewSARIFReporter(writer io.WriteCloser, opts Options, logger *zap.Logger) *SARIFReporter {
	run := &sarif.Run{
		Tool: &sarif.Tool{
			Driver: &sarif.ToolComponent{
				Name:           ToolName,
				Version:        pString(opts.ToolVersion),
				InformationURI: pString(ToolInfoURI),
				Rules:          []*sarif.ReportingDescriptor{},
			},
		},
		Results:    []*sarif.Result{},
		Properties: sarif.PropertyBag{"skippedLines": opts.SkippedLines},
	}

	source := opts.Source
	if source == "-" {
		source = ""
	}
	if source != "" {
		run.Artifacts = []*sarif.Artifact{{Location: &sarif.ArtifactLocation{URI: pString(source)}}}
	}

	return &SARIFReporter{
		writer:    writer,
		logger:    logger.Named("sarif_reporter"),
		source:    source,
		log:       &sarif.Log{Version: sarif.Version, Schema: sarif.Schema, Runs: []*sarif.Run{run}},
		ruleIndex: make(map[string]int),
	}
}

// Write converts the completed chains of a session into SARIF results.
// Chains that are still active are skipped.
func (r *SARIFReporter) Write(s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	written := 0
	for _, c := range s.Chains {
		if c == nil || !c.IsCompleted() {
			continue
		}
		ruleID, idx := r.ensureRule(c.ChainType())

		message := c.CompletionReason()
		if message == "" {
			message = c.ChainType()
		}

		result := &sarif.Result{
			RuleID:    ruleID,
			RuleIndex: idx,
			Level:     mapSeverityToSARIFLevel(c.FinalSeverity()),
			Message:   &sarif.Message{Text: pString(message)},
			CodeFlows: []*sarif.CodeFlow{r.codeFlow(c)},
			Properties: sarif.PropertyBag{
				"sessionId":     s.Report.SessionID,
				"chainId":       c.ID(),
				"severity":      c.FinalSeverity(),
				"maxTaintLevel": c.MaxTaintLevel(),
				"verified":      c.VerifyCausality(),
			},
		}
		if s.Key != "" {
			result.Properties["sessionKey"] = s.Key
		}
		if last, ok := c.LastStep(); ok {
			result.Locations = []*sarif.Location{r.location(last, "Chain completed at "+last.FunctionName)}
		}
		run.Results = append(run.Results, result)
		written++
	}

	if written > 0 {
		r.logger.Debug("Wrote chains to SARIF buffer.",
			zap.String("session_id", s.Report.SessionID),
			zap.Int("results", written),
		)
	}
	return nil
}

// Close encodes the log and closes the writer.
func (r *SARIFReporter) Close() error {
	startTime := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	run := r.log.Runs[0]
	r.logger.Info("Finalizing SARIF report.",
		zap.Int("total_results", len(run.Results)),
		zap.Int("total_rules", len(run.Tool.Driver.Rules)),
	)

	data, encodeErr := json.MarshalIndent(r.log, "", "  ")
	if encodeErr == nil {
		_, encodeErr = r.writer.Write(append(data, '\n'))
	}
	closeErr := r.writer.Close()

	if encodeErr != nil {
		r.logger.Error("Failed to encode SARIF log to JSON.", zap.Error(encodeErr))
		return fmt.Errorf("failed to encode SARIF output: %w", encodeErr)
	}
	if closeErr != nil {
		r.logger.Error("Failed to close output writer.", zap.Error(closeErr))
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}

	r.logger.Debug("Successfully wrote SARIF report.", zap.Duration("duration", time.Since(startTime)))
	return nil
}

// ruleID derives a stable rule ID from a chain type.
func ruleID(chainType string) string {
	name := ruleIDSanitizer.ReplaceAllString(strings.ToUpper(chainType), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "UNKNOWN-CHAIN"
	}
	return rulePrefix + name
}

// ensureRule registers the rule for chainType once and returns its ID and
// index. Must be called with mu held.
func (r *SARIFReporter) ensureRule(chainType string) (string, int) {
	id := ruleID(chainType)
	if idx, ok := r.ruleIndex[id]; ok {
		return id, idx
	}

	description, ok := chainRuleDescriptions[chainType]
	if !ok {
		description = "A correlated sequence of tainted operations."
	}
	level := sarif.LevelWarning
	if strings.HasSuffix(chainType, "_EXEC_CHAIN") || chainType == chain.ChainTypeMultiLayerDecode {
		level = sarif.LevelError
	}

	driver := r.log.Runs[0].Tool.Driver
	driver.Rules = append(driver.Rules, &sarif.ReportingDescriptor{
		ID:                   id,
		Name:                 pString(chainType),
		ShortDescription:     &sarif.MultiformatMessageString{Text: pString(chainType)},
		FullDescription:      &sarif.MultiformatMessageString{Text: pString(description)},
		DefaultConfiguration: &sarif.ReportingConfiguration{Level: level},
		Properties: sarif.PropertyBag{
			"tags": []string{"security", "javascript", "attack-chain"},
		},
	})
	idx := len(driver.Rules) - 1
	r.ruleIndex[id] = idx
	r.logger.Debug("Registered SARIF rule.", zap.String("rule_id", id))
	return id, idx
}

func (r *SARIFReporter) codeFlow(c *chain.AttackChain) *sarif.CodeFlow {
	steps := c.Steps()
	locations := make([]*sarif.ThreadFlowLocation, 0, len(steps))
	for i, step := range steps {
		importance := sarif.ImportanceImportant
		if i == len(steps)-1 && c.IsCompleted() {
			importance = sarif.ImportanceEssential
		}
		locations = append(locations, &sarif.ThreadFlowLocation{
			Location:       r.location(step, fmt.Sprintf("%s (taint %d)", step.FunctionName, step.TaintLevel)),
			ExecutionOrder: i + 1,
			Importance:     importance,
			Properties: sarif.PropertyBag{
				"stepId":       step.StepID,
				"inputDataId":  step.Input.DataID,
				"outputDataId": step.Output.DataID,
				"timestamp":    step.Timestamp,
			},
		})
	}
	return &sarif.CodeFlow{
		Message:     &sarif.Message{Text: pString(c.ChainType())},
		ThreadFlows: []*sarif.ThreadFlow{{Locations: locations}},
	}
}

// location points at the trace artifact and, when the step recorded one, the
// script line.
func (r *SARIFReporter) location(step chain.ChainStep, text string) *sarif.Location {
	loc := &sarif.Location{Message: &sarif.Message{Text: pString(text)}}
	var physical sarif.PhysicalLocation
	if r.source != "" {
		physical.ArtifactLocation = &sarif.ArtifactLocation{URI: pString(r.source)}
	}
	if line := stepLine(step); line > 0 {
		physical.Region = &sarif.Region{StartLine: line}
	}
	if physical.ArtifactLocation != nil || physical.Region != nil {
		loc.PhysicalLocation = &physical
	}
	return loc
}

// stepLine returns the "line" context entry, or 0 when it is missing or does
// not fit a SARIF line number.
func stepLine(step chain.ChainStep) int {
	if step.Context == nil {
		return 0
	}
	v, ok := step.Context.Get("line")
	if !ok {
		return 0
	}
	n, ok := v.AsNumber()
	if !ok || n < 1 || n > math.MaxInt32 {
		return 0
	}
	return int(n)
}

// mapSeverityToSARIFLevel maps a chain severity (1-10) to a SARIF level.
func mapSeverityToSARIFLevel(severity int) sarif.Level {
	switch {
	case severity >= 8:
		return sarif.LevelError
	case severity >= 5:
		return sarif.LevelWarning
	default:
		return sarif.LevelNote
	}
}

// pString returns a pointer to the given string value.
func pString(s string) *string {
	return &s
}
