package reporting_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/hooktrace"
	"github.com/hyen4320/JSSCanner-sub001/internal/jsvalue"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
)

// mockWriteCloser captures output and simulates I/O errors.
type mockWriteCloser struct {
	buf       bytes.Buffer
	failWrite bool
	failClose bool
	closed    bool
}

func (m *mockWriteCloser) Write(p []byte) (int, error) {
	if m.failWrite {
		return 0, errors.New("simulated write error")
	}
	return m.buf.Write(p)
}

func (m *mockWriteCloser) Close() error {
	m.closed = true
	if m.failClose {
		return errors.New("simulated close error")
	}
	return nil
}

// decodeToExecSession replays atob("YWxlcnQoMSk=") on line 3 followed by eval
// of the decoded string on line 4.
func decodeToExecSession(t *testing.T, id string) reporting.Session {
	t.Helper()
	s := session.New(session.Config{ID: id}, zaptest.NewLogger(t))
	base := time.UnixMilli(1_700_000_000_000)
	decoded := jsvalue.String("alert(1)")

	s.Observe(hooktrace.Event{
		Name:      "atob",
		Args:      []*jsvalue.Value{jsvalue.String("YWxlcnQoMSk=")},
		Result:    decoded,
		Timestamp: base,
		Line:      3,
	})
	s.Observe(hooktrace.Event{
		Name:      "eval",
		Args:      []*jsvalue.Value{decoded},
		Timestamp: base.Add(10 * time.Millisecond),
		Line:      4,
	})

	chains := s.CompletedChains()
	require.Len(t, chains, 1)
	return reporting.Session{Key: "frame-" + id, Report: s.FinalReport(), Chains: chains}
}

// activeOnlySession has one active decode chain and nothing completed.
func activeOnlySession(t *testing.T) reporting.Session {
	t.Helper()
	s := session.New(session.Config{ID: "quiet"}, zaptest.NewLogger(t))
	s.TrackFunctionCall("atob", []*jsvalue.Value{jsvalue.String("aGk=")}, jsvalue.String("hi"))
	return reporting.Session{Report: s.FinalReport(), Chains: s.CompletedChains()}
}

func TestNew_UnsupportedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xml")
	r, err := reporting.New("xml", path, &bytes.Buffer{}, reporting.Options{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Nil(t, r)
	assert.Contains(t, err.Error(), "unsupported output format: xml")

	// Validation runs before the file is created.
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestNew_Stdout(t *testing.T) {
	for _, format := range []string{reporting.FormatJSON, reporting.FormatSARIF, reporting.FormatText} {
		t.Run(format, func(t *testing.T) {
			var stdout bytes.Buffer
			r, err := reporting.New(format, "", &stdout, reporting.Options{}, zaptest.NewLogger(t))
			require.NoError(t, err)
			require.NoError(t, r.Write(decodeToExecSession(t, "a")))
			require.NoError(t, r.Close())
			assert.NotEmpty(t, stdout.String())
		})
	}
}

func TestNew_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.sarif")
	var stdout bytes.Buffer

	r, err := reporting.New(reporting.FormatSARIF, path, &stdout, reporting.Options{ToolVersion: "test"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, r.Write(decodeToExecSession(t, "a")))
	require.NoError(t, r.Close())

	assert.Empty(t, stdout.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"JSSCANNER-DECODE-TO-EXEC-CHAIN"`)
}

func TestNew_FileCreateFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "report.json")
	_, err := reporting.New(reporting.FormatJSON, path, &bytes.Buffer{}, reporting.Options{}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create output file")
}

func TestJSONReporter(t *testing.T) {
	w := &mockWriteCloser{}
	r := reporting.NewJSONReporter(w, reporting.Options{SkippedLines: 2}, zaptest.NewLogger(t))

	require.NoError(t, r.Write(decodeToExecSession(t, "a")))
	require.NoError(t, r.Write(activeOnlySession(t)))
	require.NoError(t, r.Close())
	assert.True(t, w.closed)

	var doc reporting.Document
	require.NoError(t, json.Unmarshal(w.buf.Bytes(), &doc))
	assert.Equal(t, 2, doc.SkippedLines)
	require.Len(t, doc.Sessions, 2)

	first := doc.Sessions[0]
	assert.Equal(t, "frame-a", first.Key)
	assert.Equal(t, "a", first.Report.SessionID)
	require.Len(t, first.Chains, 1)
	assert.Equal(t, chain.ChainTypeDecodeToExec, first.Chains[0].ChainType())
	assert.Len(t, first.Chains[0].Steps(), 2)

	// Nil chains are written as an empty list.
	assert.NotNil(t, doc.Sessions[1].Chains)
	assert.Empty(t, doc.Sessions[1].Chains)
	assert.NotContains(t, w.buf.String(), `"key": ""`)
}

func TestJSONReporter_Empty(t *testing.T) {
	w := &mockWriteCloser{}
	r := reporting.NewJSONReporter(w, reporting.Options{}, zaptest.NewLogger(t))
	require.NoError(t, r.Close())
	assert.Contains(t, w.buf.String(), `"sessions": []`)
}

func TestJSONReporter_IOErrors(t *testing.T) {
	t.Run("write", func(t *testing.T) {
		w := &mockWriteCloser{failWrite: true}
		r := reporting.NewJSONReporter(w, reporting.Options{}, zaptest.NewLogger(t))
		err := r.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to write JSON output")
		assert.True(t, w.closed)
	})
	t.Run("close", func(t *testing.T) {
		w := &mockWriteCloser{failClose: true}
		r := reporting.NewJSONReporter(w, reporting.Options{}, zaptest.NewLogger(t))
		err := r.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to close output writer")
	})
}

func TestTextReporter(t *testing.T) {
	w := &mockWriteCloser{}
	r := reporting.NewTextReporter(w, zaptest.NewLogger(t))

	require.NoError(t, r.Write(decodeToExecSession(t, "a")))
	require.NoError(t, r.Write(activeOnlySession(t)))
	require.NoError(t, r.Close())

	out := w.buf.String()
	assert.Contains(t, out, "Session a (frame-a)\n")
	assert.Contains(t, out, "  chains: total=1 active=0 completed=1\n")
	assert.Contains(t, out, "  types: DECODE_TO_EXEC_CHAIN=1\n")
	assert.Contains(t, out, "[DECODE_TO_EXEC_CHAIN] severity=10 status=completed")
	assert.Contains(t, out, "    1. atob taint=6 line=3\n")
	assert.Contains(t, out, "    2. eval taint=10 line=4\n")
	assert.Contains(t, out, "    reason: ")
	assert.Contains(t, out, "\n\nSession quiet\n")
	assert.Contains(t, out, "  chains: total=1 active=1 completed=0\n")
}

func TestTextReporter_NoSessions(t *testing.T) {
	w := &mockWriteCloser{}
	r := reporting.NewTextReporter(w, zaptest.NewLogger(t))
	require.NoError(t, r.Close())
	assert.Equal(t, "No sessions.\n", w.buf.String())
}

func TestTextReporter_WriteErrorSticks(t *testing.T) {
	w := &mockWriteCloser{failWrite: true}
	r := reporting.NewTextReporter(w, zaptest.NewLogger(t))

	err := r.Write(decodeToExecSession(t, "a"))
	require.Error(t, err)
	assert.Equal(t, err, r.Write(activeOnlySession(t)))
	assert.Equal(t, err, r.Close())
	assert.True(t, w.closed)
}
