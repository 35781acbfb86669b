package reporting

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// TextReporter writes a human readable summary of each session as it
// arrives.
type TextReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu       sync.Mutex
	sessions int
	err      error
}

// NewTextReporter creates a reporter that owns writer.
func NewTextReporter(writer io.WriteCloser, logger *zap.Logger) *TextReporter {
	return &TextReporter{writer: writer, logger: logger.Named("text_reporter")}
}

// Write renders one session and writes it immediately.
func (r *TextReporter) Write(s Session) error {
	var sb strings.Builder
	rep := s.Report
	fmt.Fprintf(&sb, "Session %s", rep.SessionID)
	if s.Key != "" {
		fmt.Fprintf(&sb, " (%s)", s.Key)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "  chains: total=%d active=%d completed=%d\n",
		rep.ChainAnalysis.TotalChains, rep.ChainAnalysis.ActiveChains, rep.ChainAnalysis.CompletedChains)
	fmt.Fprintf(&sb, "  tainted values: %d (max level %d)\n",
		rep.TaintStatistics.TotalTaintedValues, rep.TaintStatistics.MaxTaintLevel)

	if len(rep.ChainAnalysis.ChainTypeDistribution) > 0 {
		types := make([]string, 0, len(rep.ChainAnalysis.ChainTypeDistribution))
		for t := range rep.ChainAnalysis.ChainTypeDistribution {
			types = append(types, t)
		}
		sort.Strings(types)
		parts := make([]string, 0, len(types))
		for _, t := range types {
			parts = append(parts, fmt.Sprintf("%s=%d", t, rep.ChainAnalysis.ChainTypeDistribution[t]))
		}
		fmt.Fprintf(&sb, "  types: %s\n", strings.Join(parts, " "))
	}
	if len(rep.ChainAnalysis.UnverifiedChains) > 0 {
		fmt.Fprintf(&sb, "  unverified: %s\n", strings.Join(rep.ChainAnalysis.UnverifiedChains, ", "))
	}

	for _, c := range s.Chains {
		if c == nil {
			continue
		}
		fmt.Fprintf(&sb, "  [%s] severity=%d status=%s id=%s\n", c.ChainType(), c.FinalSeverity(), c.Status(), c.ID())
		for i, step := range c.Steps() {
			fmt.Fprintf(&sb, "    %d. %s taint=%d", i+1, step.FunctionName, step.TaintLevel)
			if line := stepLine(step); line > 0 {
				fmt.Fprintf(&sb, " line=%d", line)
			}
			sb.WriteString("\n")
		}
		if reason := c.CompletionReason(); reason != "" {
			fmt.Fprintf(&sb, "    reason: %s\n", reason)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	text := sb.String()
	if r.sessions > 0 {
		text = "\n" + text
	}
	r.sessions++
	if _, err := io.WriteString(r.writer, text); err != nil {
		r.err = fmt.Errorf("failed to write text report: %w", err)
		return r.err
	}
	return nil
}

// Close writes a placeholder when no session was reported and closes the
// writer.
func (r *TextReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions == 0 && r.err == nil {
		if _, err := io.WriteString(r.writer, "No sessions.\n"); err != nil {
			r.err = fmt.Errorf("failed to write text report: %w", err)
		}
	}
	if err := r.writer.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("failed to close output writer: %w", err)
	}
	r.logger.Debug("Wrote text report.", zap.Int("sessions", r.sessions))
	return r.err
}
