// File: cmd/cmd_test.go
package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/config"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting"
	"github.com/hyen4320/JSSCanner-sub001/internal/reporting/sarif"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
	"github.com/hyen4320/JSSCanner-sub001/internal/store"
)

const twoSessionTrace = `{"session":"frame-1","name":"atob","args":[{"ref":"in","value":"YWxlcnQoMSk="}],"result":{"ref":"out","value":"alert(1)"},"timestamp":1700000000000}
{"session":"frame-2","name":"atob","args":[{"ref":"in","value":"aGk="}],"result":{"ref":"out","value":"hi"},"timestamp":1700000000000}
this line is garbage
{"session":"frame-1","name":"eval","args":[{"ref":"out"}],"timestamp":1700000000010}
`

// memoryStore is an in-memory sessionStore.
type memoryStore struct {
	mu      sync.Mutex
	reports map[string]session.FinalReport
	chains  map[string][]*chain.AttackChain
	schema  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		reports: make(map[string]session.FinalReport),
		chains:  make(map[string][]*chain.AttackChain),
	}
}

func (m *memoryStore) EnsureSchema(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema++
	return nil
}

func (m *memoryStore) SaveSession(_ context.Context, report session.FinalReport, chains []*chain.AttackChain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.SessionID] = report
	m.chains[report.SessionID] = chains
	return nil
}

func (m *memoryStore) LoadChains(_ context.Context, id string) ([]*chain.AttackChain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chains[id], nil
}

func (m *memoryStore) LoadReport(_ context.Context, id string) (session.FinalReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return r, store.ErrSessionNotFound
	}
	return r, nil
}

type memoryProvider struct {
	store   *memoryStore
	err     error
	created int
	closed  int
}

func (p *memoryProvider) Create(context.Context, *config.Config) (sessionStore, func(), error) {
	if p.err != nil {
		return nil, nil, p.err
	}
	p.created++
	return p.store, func() { p.closed++ }, nil
}

// runCommand executes a fresh command tree and returns stdout and stderr.
func runCommand(t *testing.T, provider storeProvider, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("JSSCANNER_LOGGER_LEVEL", "fatal")
	t.Chdir(t.TempDir())

	root := newRootCommand(provider)
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeTrace(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func decodeReplay(t *testing.T, out string) reporting.Document {
	t.Helper()
	var doc reporting.Document
	require.NoError(t, json.Unmarshal([]byte(out), &doc), out)
	return doc
}

func TestRootCmd_VersionFlag(t *testing.T) {
	out, _, err := runCommand(t, &memoryProvider{}, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "jsscanner version "+Version)
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCommand(t, &memoryProvider{}, "", "version")
	require.NoError(t, err)
	assert.Equal(t, "jsscanner "+Version+"\n", out)
}

func TestReplayFile(t *testing.T) {
	path := writeTrace(t, twoSessionTrace)

	out, _, err := runCommand(t, &memoryProvider{}, "", "replay", path)
	require.NoError(t, err)

	doc := decodeReplay(t, out)
	assert.Equal(t, 1, doc.SkippedLines)
	require.Len(t, doc.Sessions, 2)

	assert.Equal(t, "frame-1", doc.Sessions[0].Key)
	require.Len(t, doc.Sessions[0].Chains, 1)
	assert.Empty(t, doc.Sessions[1].Chains)

	first, second := doc.Sessions[0].Report, doc.Sessions[1].Report
	assert.Equal(t, 1, first.ChainAnalysis.CompletedChains)
	require.NotNil(t, first.ChainAnalysis.MostDangerousChain)
	assert.Equal(t, chain.ChainTypeDecodeToExec, first.ChainAnalysis.MostDangerousChain.ChainType())
	assert.Equal(t, 10, first.ChainAnalysis.MostDangerousChain.FinalSeverity())
	assert.Equal(t, 0, second.ChainAnalysis.CompletedChains)
	assert.Equal(t, 1, second.ChainAnalysis.ActiveChains)
	assert.NotEqual(t, first.SessionID, second.SessionID)
}

func TestReplayStdinToFileWithDebug(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "report.json")

	out, errOut, err := runCommand(t, &memoryProvider{}, twoSessionTrace, "replay", "-", "--output", outPath, "--debug")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "[CHAIN DETECTOR STATUS]")
	assert.Contains(t, errOut, "(frame-1)")

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Len(t, decodeReplay(t, string(data)).Sessions, 2)
}

func TestReplayFollowRejectsStdin(t *testing.T) {
	_, _, err := runCommand(t, &memoryProvider{}, "", "replay", "-", "--follow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--follow cannot be used with stdin")
}

func TestReplayMissingFile(t *testing.T) {
	_, _, err := runCommand(t, &memoryProvider{}, "", "replay", filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open trace")
}

func TestReplayPersistThenReport(t *testing.T) {
	provider := &memoryProvider{store: newMemoryStore()}
	path := writeTrace(t, twoSessionTrace)

	out, _, err := runCommand(t, provider, "", "replay", path, "--persist")
	require.NoError(t, err)
	doc := decodeReplay(t, out)
	require.Len(t, doc.Sessions, 2)
	assert.Equal(t, 1, provider.store.schema)
	assert.Equal(t, provider.created, provider.closed)
	assert.Len(t, provider.store.reports, 2)

	id := doc.Sessions[0].Report.SessionID
	out, _, err = runCommand(t, provider, "", "report", "--session-id", id)
	require.NoError(t, err)

	stored := decodeReplay(t, out)
	require.Len(t, stored.Sessions, 1)
	assert.Equal(t, id, stored.Sessions[0].Report.SessionID)
	assert.Empty(t, stored.Sessions[0].Key)
	require.Len(t, stored.Sessions[0].Chains, 1)
	assert.True(t, stored.Sessions[0].Chains[0].IsCompleted())
	assert.True(t, stored.Sessions[0].Chains[0].VerifyCausality())

	out, _, err = runCommand(t, provider, "", "report", "--session-id", id, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Session "+id+"\n")
	assert.Contains(t, out, "[DECODE_TO_EXEC_CHAIN] severity=10")
}

func TestReplaySARIF(t *testing.T) {
	path := writeTrace(t, twoSessionTrace)

	out, _, err := runCommand(t, &memoryProvider{}, "", "replay", path, "--format", "sarif")
	require.NoError(t, err)

	var log sarif.Log
	require.NoError(t, json.Unmarshal([]byte(out), &log), out)
	require.Len(t, log.Runs, 1)
	run := log.Runs[0]
	assert.Equal(t, Version, *run.Tool.Driver.Version)
	require.Len(t, run.Artifacts, 1)
	assert.Equal(t, path, *run.Artifacts[0].Location.URI)
	require.Len(t, run.Results, 1)
	assert.Equal(t, "JSSCANNER-DECODE-TO-EXEC-CHAIN", run.Results[0].RuleID)
	assert.Equal(t, "frame-1", run.Results[0].Properties["sessionKey"])
}

func TestReplayRejectsUnknownFormat(t *testing.T) {
	path := writeTrace(t, twoSessionTrace)
	_, _, err := runCommand(t, &memoryProvider{}, "", "replay", path, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported output format: xml")
}

func TestReportErrors(t *testing.T) {
	t.Run("requires a session id", func(t *testing.T) {
		_, _, err := runCommand(t, &memoryProvider{store: newMemoryStore()}, "", "report")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "session-id")
	})

	t.Run("unknown session", func(t *testing.T) {
		_, _, err := runCommand(t, &memoryProvider{store: newMemoryStore()}, "", "report", "--session-id", "missing")
		assert.ErrorIs(t, err, store.ErrSessionNotFound)
	})

	t.Run("store unavailable", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		_, _, err := runCommand(t, &memoryProvider{err: dbErr}, "", "report", "--session-id", "x")
		assert.ErrorIs(t, err, dbErr)
	})

	t.Run("default provider needs a database url", func(t *testing.T) {
		t.Setenv("JSSCANNER_DATABASE_URL", "")
		_, _, err := runCommand(t, NewStoreProvider(), "", "report", "--session-id", "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database URL is not configured")
	})
}

func TestInvalidConfigFile(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("taint:\n  match_mode: fuzzy\n"), 0o600))

	_, _, err := runCommand(t, &memoryProvider{}, "", "--config", cfgPath, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "taint.match_mode")
}

func TestConfigFileApplied(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	// Without eval in the dangerous table nothing completes.
	require.NoError(t, os.WriteFile(cfgPath, []byte("chain:\n  dangerous_functions: [\"Function\"]\n"), 0o600))
	path := writeTrace(t, twoSessionTrace)

	out, _, err := runCommand(t, &memoryProvider{}, "", "--config", cfgPath, "replay", path)
	require.NoError(t, err)
	doc := decodeReplay(t, out)
	for _, s := range doc.Sessions {
		assert.Equal(t, 0, s.Report.ChainAnalysis.CompletedChains)
	}
}
