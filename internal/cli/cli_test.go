package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testExport = `{
  "name": "CLI group",
  "type": "private_supergroup",
  "id": 555,
  "messages": [
    {"id": 1, "type": "message", "date_unixtime": "1672567200",
     "from": "Ann", "from_id": "user1", "text": "hello world"},
    {"id": 2, "type": "message", "date_unixtime": "1672653600",
     "from": "Bob", "from_id": "user2", "text": "hello again"},
    {"id": 3, "type": "message", "date_unixtime": "1675245600",
     "from": "Ann", "from_id": "user1", "media_type": "voice_message", "file": "v.ogg", "text": ""}
  ]
}`

type cliEnv struct {
	dir    string
	export string
	db     string
}

func newCLIEnv(t *testing.T) cliEnv {
	t.Helper()
	dir := t.TempDir()
	export := filepath.Join(dir, "result.json")
	require.NoError(t, os.WriteFile(export, []byte(testExport), 0o600))
	return cliEnv{dir: dir, export: export, db: filepath.Join(dir, "chat.db")}
}

func (e cliEnv) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	base := []string{
		"--config", filepath.Join(e.dir, "missing.yaml"),
		"--env-file", filepath.Join(e.dir, "missing.env"),
	}
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), append(base, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"--help"}, &stdout, &stderr)
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, stdout.String(), "ingest")
	assert.Contains(t, stdout.String(), "analyze")
	assert.Contains(t, stdout.String(), "serve")
}

func TestRun_UnknownCommand(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"explode"}, &stdout, &stderr)
	assert.Equal(t, ExitUsage, code)
	assert.NotEmpty(t, stderr.String())
}

func TestIngest_IsIdempotent(t *testing.T) {
	e := newCLIEnv(t)

	code, out, _ := e.run(t, "--db", e.db, "ingest", "--export", e.export)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "chat -1000000000555")
	assert.Contains(t, out, "inserted:         3")

	code, out, _ = e.run(t, "--db", e.db, "ingest", "--export", e.export)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "inserted:         0")
	assert.Contains(t, out, "duplicates:       3")
}

func TestIngest_RangeAndAnalyze(t *testing.T) {
	e := newCLIEnv(t)
	reportPath := filepath.Join(e.dir, "report.txt")

	code, out, _ := e.run(t, "--db", e.db, "ingest", "--export", e.export,
		"--from", "2023-01-01", "--to", "2023-01-31", "--analyze", "--output", reportPath)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "inserted:         2")
	assert.Contains(t, out, "out of range:     1")

	content, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== GLOBAL STATISTICS ===")
	assert.Contains(t, string(content), "1. Total messages: 2")
	assert.Contains(t, string(content), "1. hello: 2")
}

func TestIngest_Failures(t *testing.T) {
	e := newCLIEnv(t)

	code, _, stderr := e.run(t, "--db", e.db, "ingest", "--export", e.export, "--from", "2023-02-01", "--to", "2023-01-01")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "invalid date range")

	code, _, _ = e.run(t, "--db", e.db, "ingest", "--export", e.export, "--chat=-100999")
	assert.Equal(t, ExitFailure, code)

	code, _, _ = e.run(t, "--db", e.db, "ingest", "--export", filepath.Join(e.dir, "missing.json"), "--chat=-100555")
	assert.Equal(t, ExitFailure, code)

	code, _, _ = e.run(t, "--db", e.db, "ingest")
	assert.Equal(t, ExitUsage, code)
}

func TestAnalyze_JSON(t *testing.T) {
	e := newCLIEnv(t)

	code, _, _ := e.run(t, "--db", e.db, "ingest", "--export", e.export)
	require.Equal(t, ExitOK, code)

	code, out, _ := e.run(t, "--db", e.db, "analyze", "--format", "json")
	require.Equal(t, ExitOK, code)

	var rep struct {
		Global struct {
			TotalMessages int `json:"total_messages"`
			VoiceCount    int `json:"voice_count"`
		} `json:"global"`
		Users map[string]json.RawMessage `json:"users"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 3, rep.Global.TotalMessages)
	assert.Equal(t, 1, rep.Global.VoiceCount)
	assert.Len(t, rep.Users, 2)
}

func TestAnalyze_RequiresChatOrDB(t *testing.T) {
	e := newCLIEnv(t)
	code, _, stderr := e.run(t, "analyze")
	assert.Equal(t, ExitUsage, code)
	assert.Contains(t, stderr, "--chat or --db is required")
}

func TestServe_RequiresToken(t *testing.T) {
	e := newCLIEnv(t)
	code, _, stderr := e.run(t, "--db", e.db, "serve")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "telegram.token is required")
}
