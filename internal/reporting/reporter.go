// Package reporting renders finished sessions as JSON, SARIF or plain text.
package reporting

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
)

// Supported output formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
	FormatText  = "text"
)

// Session is one analyzed session handed to a reporter.
type Session struct {
	// Key is the trace session key; empty for reports loaded from the store.
	Key    string
	Report session.FinalReport
	// Chains are the completed attack chains, in completion order.
	Chains []*chain.AttackChain
}

// Reporter defines the interface for writing session results to an output.
type Reporter interface {
	// Write adds one session to the report.
	Write(s Session) error
	// Close finalizes the report and closes any underlying file.
	Close() error
}

// Options carry run-level details into the report.
type Options struct {
	ToolVersion string
	// Source is the analyzed trace, used as the SARIF artifact. Empty or "-"
	// means it has no stable location.
	Source       string
	SkippedLines int
}

// nopWriteCloser wraps an io.Writer and provides a no-op Close method.
type nopWriteCloser struct {
	io.Writer
}

func (nwc *nopWriteCloser) Close() error {
	return nil
}

// ValidateFormat reports whether New accepts format.
func ValidateFormat(format string) error {
	switch format {
	case FormatJSON, FormatSARIF, FormatText:
		return nil
	}
	return fmt.Errorf("unsupported output format: %s", format)
}

// New creates a reporter for format. Output goes to outputPath, or to stdout
// when outputPath is empty or "stdout".
func New(format, outputPath string, stdout io.Writer, opts Options, logger *zap.Logger) (Reporter, error) {
	if err := ValidateFormat(format); err != nil {
		return nil, err
	}

	var writer io.WriteCloser
	if outputPath == "" || outputPath == "stdout" {
		writer = &nopWriteCloser{stdout}
	} else {
		f, err := os.Create(outputPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file %s: %w", outputPath, err)
		}
		writer = f
	}

	switch format {
	case FormatSARIF:
		return NewSARIFReporter(writer, opts, logger), nil
	case FormatText:
		return NewTextReporter(writer, logger), nil
	default:
		return NewJSONReporter(writer, opts, logger), nil
	}
}
