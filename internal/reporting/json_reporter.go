package reporting

import (
	"fmt"
	"io"
	"sync"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
)

// Document is the JSON report.
type Document struct {
	Sessions     []SessionEntry `json:"sessions"`
	SkippedLines int            `json:"skippedLines"`
}

// SessionEntry is one session in a Document.
type SessionEntry struct {
	Key    string               `json:"key,omitempty"`
	Report session.FinalReport  `json:"report"`
	Chains []*chain.AttackChain `json:"chains"`
}

// JSONReporter buffers sessions and writes one indented Document on Close.
type JSONReporter struct {
	writer io.WriteCloser
	logger *zap.Logger

	mu  sync.Mutex
	doc Document
}

func NewJSONReporter(writer io.WriteCloser, opts Options, logger *zap.Logger) *JSONReporter {
	return &JSONReporter{
		writer: writer,
		logger: logger.Named("json_reporter"),
		doc: Document{
			Sessions:     []SessionEntry{},
			SkippedLines: opts.SkippedLines,
		},
	}
}

func (r *JSONReporter) Write(s Session) error {
	chains := s.Chains
	if chains == nil {
		chains = []*chain.AttackChain{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc.Sessions = append(r.doc.Sessions, SessionEntry{Key: s.Key, Report: s.Report, Chains: chains})
	return nil
}

func (r *JSONReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.MarshalIndent(r.doc, "", "  ")
	if err == nil {
		_, err = r.writer.Write(append(data, '\n'))
	}
	closeErr := r.writer.Close()

	if err != nil {
		r.logger.Error("Failed to write JSON report.", zap.Error(err))
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close output writer: %w", closeErr)
	}
	r.logger.Debug("Wrote JSON report.", zap.Int("sessions", len(r.doc.Sessions)))
	return nil
}
