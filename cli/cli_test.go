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

const retryJob = `
name: {{ .params.name | default "retry" }}
root:
  children:
    - cwd: flaky
      task: taskflow.shell
      init:
        cmd: "test -f marker || { touch marker; exit 1; }"
    - cwd: after
      task: taskflow.shell
      args: [echo, "{{ index .args 0 }}"]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeJob(t *testing.T) (string, string) {
	t.Helper()
	d := t.TempDir()
	path := filepath.Join(d, "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(retryJob), 0644))
	return d, path
}

func TestRun_LocalRequeue(t *testing.T) {
	d, path := writeJob(t)
	workdir := filepath.Join(d, "work")

	_, err := execute(t, "run", "--mem-store", "--workdir", workdir, "--log-level", "debug", path, "hello")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(workdir, "flaky", "marker"))

	log, err := os.ReadFile(filepath.Join(workdir, "after", "shell.log"))
	require.NoError(t, err)
	assert.Contains(t, string(log), "hello\n")
}

func TestRun_NoRequeueLeft(t *testing.T) {
	d, path := writeJob(t)
	_, err := execute(t, "run", "--mem-store", "--max-requeue", "0", "--workdir", filepath.Join(d, "work"), path, "x")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	d, path := writeJob(t)
	common := []string{"--store-dir", filepath.Join(d, "store"), "--workdir", filepath.Join(d, "work"), "--param", "name=shown"}

	out, err := execute(t, append([]string{"status"}, append(common, path, "x")...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "0 done, 0 running, 3 pending")

	_, err = execute(t, append([]string{"run"}, append(common, path, "x")...)...)
	require.NoError(t, err)

	out, err = execute(t, append([]string{"status"}, append(common, path, "x")...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ flaky [taskflow.shell]")
	assert.Contains(t, out, "3 done, 0 running, 0 pending, 0 failed, 0 aborted")

	out, err = execute(t, append([]string{"status", "--dot"}, append(common, path, "x")...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "digraph D {")
	assert.Contains(t, out, `label="shown"`)

	out, err = execute(t, append([]string{"status", "--json"}, append(common, path, "x")...)...)
	require.NoError(t, err)
	report := map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, ".", report["path"])
	assert.Len(t, report["children"], 2)
}

func TestCommandErrors(t *testing.T) {
	_, path := writeJob(t)

	_, err := execute(t, "run", "--log-format", "xml", "--mem-store", path, "x")
	assert.Error(t, err)
	_, err = execute(t, "run", "--log-level", "loud", "--mem-store", path, "x")
	assert.Error(t, err)
	_, err = execute(t, "run", "--mem-store", "--system", "pbs", path, "x")
	assert.Error(t, err)
	_, err = execute(t, "run", "--postgres-dsn", "host= port=0", path, "x")
	assert.Error(t, err)
	_, err = execute(t, "run", "missing.yaml")
	assert.Error(t, err)
	_, err = execute(t, "run")
	assert.Error(t, err)
	_, err = execute(t, "--config", "/nonexistent/taskflow.yaml", "version")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--log-level", "info")
	require.NoError(t, err)
	assert.Contains(t, out, "taskflow ")
}

func TestDriver(t *testing.T) {
	d := t.TempDir()
	record := filepath.Join(d, "mpiexec.task.json")
	require.NoError(t, os.WriteFile(record, []byte(`{"func":"missing"}`), 0644))

	_, err := execute(t, "driver", "--rank", "0", record)
	assert.Error(t, err)
	assert.FileExists(t, filepath.Join(d, "mpiexec.error"))
}
