package cli_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentos-labs/agentstate/internal/cli"
	aserrors "github.com/agentos-labs/agentstate/pkg/agentstate/v1/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type result struct {
	out    string
	errOut string
	err    error
}

// isolate clears environment that would leak into the command under test.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("AGENTSTATE_BASE_DIR", "")
	t.Setenv("AGENTSTATE_LOCK_TIMEOUT", "")
	t.Setenv("AGENTSTATE_LOG_FORMAT", "")
	t.Setenv("AGENTSTATE_LOG_LEVEL", "error")
	t.Setenv("OTEL_SDK_DISABLED", "true")
	return filepath.Join(t.TempDir(), ".agent-os")
}

func run(t *testing.T, base, stdin string, args ...string) result {
	t.Helper()
	root := cli.NewRootCommand(cli.BuildInfo{Version: "1.2.3", Commit: "abc123", BuildDate: "2024-01-15"})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--base-dir", base}, args...))
	err := root.Execute()
	return result{out: out.String(), errOut: errOut.String(), err: err}
}

func mustRun(t *testing.T, base string, args ...string) string {
	t.Helper()
	res := run(t, base, "", args...)
	require.NoError(t, res.err, "agentstate %v\nstderr: %s", args, res.errOut)
	return res.out
}

func TestInitAndGet(t *testing.T) {
	base := isolate(t)

	out := mustRun(t, base, "init")
	assert.Contains(t, out, "State store ready")
	assert.DirExists(t, filepath.Join(base, "state", "recovery"))

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "get", "workflow")), &doc))
	assert.Equal(t, "1.0.0", doc["state_version"])
	assert.Contains(t, doc, "current_workflow")
	assert.Nil(t, doc["current_workflow"])

	// Running init again leaves the document alone.
	mustRun(t, base, "set", "workflow", "current_workflow", `"build"`)
	mustRun(t, base, "init")
	assert.Equal(t, "build\n", mustRun(t, base, "get", "workflow", "current_workflow"))
}

func TestSetAndGetPath(t *testing.T) {
	base := isolate(t)
	mustRun(t, base, "init")

	mustRun(t, base, "set", "workflow", "current_workflow", `{"name": "deploy"}`)
	mustRun(t, base, "set", "workflow", "current_workflow.step", "3")
	mustRun(t, base, "set", "workflow", "note", "plain text")

	assert.Equal(t, "deploy\n", mustRun(t, base, "get", "workflow", "current_workflow.name"))
	assert.Equal(t, "\"deploy\"\n", mustRun(t, base, "--json", "get", "workflow", "current_workflow.name"))
	assert.Equal(t, "3\n", mustRun(t, base, "get", "workflow", "current_workflow.step"))
	assert.Equal(t, "plain text\n", mustRun(t, base, "get", "workflow", "note"))

	res := run(t, base, "", "get", "workflow", "missing.path")
	assert.ErrorContains(t, res.err, "not found")
}

func TestSet_RejectsInvalidState(t *testing.T) {
	base := isolate(t)
	mustRun(t, base, "init")

	res := run(t, base, "", "set", "workflow", "state_version", "123")
	require.Error(t, res.err)
	assert.True(t, aserrors.IsInvalidState(res.err))
	assert.Equal(t, "1.0.0\n", mustRun(t, base, "get", "workflow", "state_version"))
}

func TestPut(t *testing.T) {
	base := isolate(t)

	res := run(t, base, `{"items": [1, 2], "owner": "ana"}`, "put", "inventory")
	require.NoError(t, res.err, res.errOut)
	assert.Contains(t, res.out, "Saved 'inventory'")
	assert.Equal(t, "2\n", mustRun(t, base, "get", "inventory", "items.#"))

	file := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"owner": "bo"}`), 0o644))
	mustRun(t, base, "put", "inventory", file)
	assert.Equal(t, "bo\n", mustRun(t, base, "get", "inventory", "owner"))

	res = run(t, base, `[1, 2]`, "put", "inventory")
	assert.ErrorContains(t, res.err, "not a JSON object")
}

func TestGet_Errors(t *testing.T) {
	base := isolate(t)

	res := run(t, base, "", "get", "nothing")
	assert.ErrorContains(t, res.err, "no state named 'nothing'")

	res = run(t, base, "", "get", "../escape")
	assert.ErrorContains(t, res.err, "invalid state name")
}

func TestCache(t *testing.T) {
	base := isolate(t)

	mustRun(t, base, "cache", "new", "session", "2m", `{"user": "ana"}`)
	assert.Equal(t, "ana\n", mustRun(t, base, "get", "session", "user"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "cache", "check", "session")), &status))
	assert.Equal(t, true, status["valid"])
	assert.Equal(t, 0.0, status["extension_count"])
	assert.Equal(t, 12.0, status["max_extensions"])

	expired := `{"metadata": {"timestamp": "2020-01-01T00:00:00.000Z", "expires": "2020-01-01T00:05:00.000Z",
		"extension_count": 12, "max_extensions": 12}}`
	require.NoError(t, run(t, base, expired, "put", "stale").err)
	res := run(t, base, "", "cache", "check", "stale")
	var exitErr *cli.ExitError
	require.ErrorAs(t, res.err, &exitErr)
	assert.Equal(t, 1, exitErr.Code)
	assert.Contains(t, res.out, "expired")

	res = run(t, base, "", "cache", "new", "bad", "soon")
	assert.ErrorContains(t, res.err, "positive duration")
}

func TestLockCommands(t *testing.T) {
	base := isolate(t)

	assert.Contains(t, mustRun(t, base, "lock", "acquire", "deploy"), "Acquired lock deploy")
	assert.FileExists(t, filepath.Join(base, "state", "deploy.lock"))

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "lock", "status", "deploy")), &status))
	assert.Equal(t, true, status["held"])
	owner, ok := status["owner"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, owner["owner_id"])

	assert.Contains(t, mustRun(t, base, "lock", "release", "deploy"), "Released lock deploy")
	assert.NoFileExists(t, filepath.Join(base, "state", "deploy.lock"))
	assert.Contains(t, mustRun(t, base, "lock", "status", "deploy"), "free")
	assert.Contains(t, mustRun(t, base, "lock", "release", "deploy"), "was not held")

	res := run(t, base, "", "lock", "acquire", "a/b")
	assert.Error(t, res.err)
}

func TestLockAcquire_TakesOverAfterTimeout(t *testing.T) {
	base := isolate(t)
	mustRun(t, base, "lock", "acquire")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "lock", "acquire", "--timeout", "150ms")), &out))
	assert.Equal(t, true, out["forced"])
	assert.GreaterOrEqual(t, out["waited_ms"], 150.0)
}

func TestLockRun(t *testing.T) {
	base := isolate(t)

	res := run(t, base, "", "lock", "run", "job")
	assert.ErrorContains(t, res.err, "usage")

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	marker := filepath.Join(base, "state", "job.lock")

	res = run(t, base, "", "lock", "run", "job", "--", sh, "-c", "test -f "+marker+" && echo locked")
	require.NoError(t, res.err, res.errOut)
	assert.Equal(t, "locked\n", res.out)
	assert.NoFileExists(t, marker)

	res = run(t, base, "", "lock", "run", "--", sh, "-c", "exit 3")
	var exitErr *cli.ExitError
	require.True(t, errors.As(res.err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
	assert.NoFileExists(t, filepath.Join(base, "state", ".lock"))
}

func TestBackupsCommands(t *testing.T) {
	base := isolate(t)
	mustRun(t, base, "init")
	for _, v := range []string{"1", "2", "3"} {
		mustRun(t, base, "set", "workflow", "step", v)
	}

	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "backups", "list", "workflow")), &listed))
	assert.Len(t, listed, 3)
	assert.Contains(t, mustRun(t, base, "backups", "list", "workflow"), "NAME")
	assert.Contains(t, mustRun(t, base, "backups", "list", "other"), "No backups")

	// Corrupt the primary: get falls back and warns, recover repairs it.
	primary := filepath.Join(base, "state", "workflow.json")
	require.NoError(t, os.WriteFile(primary, []byte("{broken"), 0o644))
	res := run(t, base, "", "get", "workflow", "step")
	require.NoError(t, res.err)
	assert.Equal(t, "2\n", res.out)
	assert.Contains(t, res.errOut, "is corrupt")

	assert.Contains(t, mustRun(t, base, "backups", "recover", "workflow"), "Restored 'workflow'")
	res = run(t, base, "", "get", "workflow", "step")
	require.NoError(t, res.err)
	assert.Empty(t, res.errOut)
	assert.Equal(t, "2\n", res.out)

	var pruned map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "backups", "prune", "workflow")), &pruned))
	assert.Equal(t, 4.0, pruned["kept"])

	res = run(t, base, "", "backups", "recover", "other")
	assert.ErrorContains(t, res.err, "no valid backup")
}

func TestConfigFile(t *testing.T) {
	base := isolate(t)
	require.NoError(t, os.MkdirAll(base, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "agentstate.yaml"), []byte("recovery:\n  retain: 1\n"), 0o644))

	mustRun(t, base, "init")
	for _, v := range []string{"1", "2", "3"} {
		mustRun(t, base, "set", "workflow", "step", v)
	}
	var listed []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, base, "--json", "backups", "list", "workflow")), &listed))
	assert.Len(t, listed, 1)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("lock:\n  timout: 1s\n"), 0o644))
	res := run(t, base, "", "--config", bad, "init")
	var cfgErr *aserrors.ConfigError
	assert.ErrorAs(t, res.err, &cfgErr)
}

func TestMetricsFlag(t *testing.T) {
	base := isolate(t)
	res := run(t, base, "", "--metrics", "init")
	require.NoError(t, res.err)
	assert.Contains(t, res.errOut, `agentstate_saves_total{result="ok"} 1`)
}

func TestVersionAndHelp(t *testing.T) {
	base := isolate(t)

	assert.Contains(t, mustRun(t, base, "version"), "agentstate version 1.2.3")
	assert.Equal(t, "1.2.3\n", mustRun(t, base, "--version"))

	help := mustRun(t, base, "--help")
	assert.Contains(t, help, "State Documents:")
	assert.Contains(t, help, "Coordination:")
	assert.Contains(t, help, "backups")

	res := run(t, base, "", "no-such-command")
	assert.Error(t, res.err)
}
