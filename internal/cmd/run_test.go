package cmd

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/verifarm/pkg/engine"
	"github.com/3leaps/verifarm/pkg/output"
)

func inputs(t *testing.T, dir string, names ...string) string {
	t.Helper()
	in := filepath.Join(dir, "in")
	require.NoError(t, os.MkdirAll(in, 0o755))
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(in, n), []byte(n), 0o644))
	}
	return filepath.Join(in, "*.cfg")
}

func reportRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, engine.ReportHeader, rows[0])
	return rows[1:]
}

// reportLocation turns a report row's file:// URL back into a local path.
func reportLocation(t *testing.T, row []string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(row[1], "file://"), row[1])
	return strings.TrimPrefix(row[1], "file://")
}

func eventTypes(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var types []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		types = append(types, rec.Type)
	}
	require.NoError(t, sc.Err())
	return types
}

func TestRun_AllPassCompressed(t *testing.T) {
	dir := cliEnv(t)
	script := writeScript(t, dir, `echo "job $JOB_ID $1"`)
	files := inputs(t, dir, "a.cfg", "b.cfg")
	events := filepath.Join(dir, "events.jsonl")

	code, out := runCLI(t, "run",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu",
		"-R", script, "-F", files, "-N", "2", "-T", "2", "-Z",
		"--events", events)
	require.Equal(t, ExitOK, code, out)

	assert.Contains(t, out, "All done.")
	assert.Contains(t, out, "# passes: 4")
	assert.NotContains(t, out, "requests pended")

	rows := reportRows(t, filepath.Join(dir, "out", "regress", engine.ReportFileName))
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.True(t, strings.HasSuffix(r[1], ".tar.gz"), r[1])
		assert.Equal(t, "PASS", r[2])
		assert.FileExists(t, reportLocation(t, r))
	}

	types := eventTypes(t, events)
	assert.Equal(t, output.TypePlan, types[0])
	assert.Equal(t, output.TypeSummary, types[len(types)-1])
	outcomes := 0
	for _, typ := range types {
		if typ == output.TypeOutcome {
			outcomes++
		}
	}
	assert.Equal(t, 4, outcomes)
}

func TestRun_FailThresholdLeavesJobsPending(t *testing.T) {
	dir := cliEnv(t)
	script := writeScript(t, dir, "exit 1")

	code, out := runCLI(t, "run",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu",
		"-R", script, "-N", "6", "-T", "1", "-X", "1", "-K")
	require.Equal(t, ExitOK, code, out)

	assert.Contains(t, out, "# fails:  2")
	assert.Contains(t, out, "# requests pended:  4")
	assert.Contains(t, out, "more than 1 fails")

	rows := reportRows(t, filepath.Join(dir, "out", "regress", engine.ReportFileName))
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "FAIL", r[2])
		assert.FileExists(t, filepath.Join(reportLocation(t, r), engine.StdoutLogName))
	}
}

func TestRun_InvalidInvocations(t *testing.T) {
	tests := []struct {
		name string
		args func(dir, script string) []string
		want int
	}{
		{
			name: "compress and clobber",
			args: func(dir, script string) []string {
				return []string{"run", "-O", dir, "-P", "p", "-U", "u", "-R", script, "-Z", "-K"}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "zero threads",
			args: func(dir, script string) []string {
				return []string{"run", "-O", dir, "-P", "p", "-U", "u", "-R", script, "-T", "0"}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "negative threads",
			args: func(dir, script string) []string {
				return []string{"run", "-O", dir, "-P", "p", "-U", "u", "-R", script, "-T", "-2"}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "missing project",
			args: func(dir, script string) []string {
				return []string{"run", "-O", dir, "-U", "u", "-R", script}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "zero run count",
			args: func(dir, script string) []string {
				return []string{"run", "-O", dir, "-P", "p", "-U", "u", "-R", script, "-N", "0"}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "submissions file with single flags",
			args: func(dir, script string) []string {
				return []string{"run", "-S", filepath.Join(dir, "subs.yaml"), "-P", "p"}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "missing submissions file",
			args: func(dir, script string) []string {
				return []string{"run", "-S", filepath.Join(dir, "missing.yaml")}
			},
			want: foundry.ExitInvalidArgument,
		},
		{
			name: "unresolvable run script",
			args: func(dir, script string) []string {
				return []string{"run", "-O", filepath.Join(dir, "out"), "-P", "p", "-U", "u", "-R", filepath.Join(dir, "nope.sh")}
			},
			want: foundry.ExitFileNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := cliEnv(t)
			script := writeScript(t, dir, "exit 0")

			code, out := runCLI(t, tt.args(dir, script)...)
			assert.Equal(t, tt.want, code, out)
			assert.NoDirExists(t, filepath.Join(dir, "out", "p"), "nothing is expanded")
		})
	}
}

func TestRun_SubmissionsFile(t *testing.T) {
	dir := cliEnv(t)
	script := writeScript(t, dir, `case "$1" in *bad*) exit 3;; esac`)
	files := inputs(t, dir, "good.cfg", "bad.cfg")

	subs := filepath.Join(dir, "subs.yaml")
	require.NoError(t, os.WriteFile(subs, []byte(`project:
  name: regress
  output_directory: `+filepath.Join(dir, "out")+`
  run_count: 2
  units:
    - name: alu
      run_script: `+script+`
      files: "`+files+`"
      passing_tests: remove
    - name: fpu
      run_script: `+script+`
      passing_tests: keep
`), 0o644))

	code, out := runCLI(t, "run", "-S", subs, "-T", "3")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "unit fpu will NOT be compressed or removed")
	assert.Contains(t, out, "# passes: 4")
	assert.Contains(t, out, "# fails:  2")

	rows := reportRows(t, filepath.Join(dir, "out", "regress", engine.ReportFileName))
	assert.Len(t, rows, 4, "removed passes are not reported")
}

func TestRun_DryRunCreatesNothing(t *testing.T) {
	dir := cliEnv(t)
	script := writeScript(t, dir, "exit 0")
	files := inputs(t, dir, "a.cfg", "b.cfg", "c.cfg")

	code, out := runCLI(t, "run", "--dry-run",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu",
		"-R", script, "-F", files, "-N", "2")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "jobs:        6")
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestPlanCommand(t *testing.T) {
	dir := cliEnv(t)
	script := writeScript(t, dir, "exit 0")

	code, out := runCLI(t, "plan",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu",
		"-R", script, "-N", "3", "-X", "2")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "Unit alu")
	assert.Contains(t, out, "jobs:        3")
	assert.Contains(t, out, "max fails:   2")
	assert.NoDirExists(t, filepath.Join(dir, "out"))
}

func TestRun_RecordsHistory(t *testing.T) {
	dir := cliEnv(t)
	t.Setenv("VERIFARM_HISTORY_PATH", filepath.Join(dir, "history.db"))
	script := writeScript(t, dir, "exit 0")

	code, out := runCLI(t, "run",
		"-O", filepath.Join(dir, "out"), "-P", "smoke", "-U", "alu", "-R", script, "-N", "2", "-Z")
	require.Equal(t, ExitOK, code, out)

	code, out = runCLI(t, "history", "--project", "smoke")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "smoke")
	assert.Contains(t, out, "complete")

	code, out = runCLI(t, "history", "--project", "other")
	require.Equal(t, ExitOK, code, out)
	assert.Contains(t, out, "No runs recorded.")

	code, _ = runCLI(t, "history", "show", "no-such-run")
	assert.Equal(t, foundry.ExitInvalidArgument, code)
}

func TestRun_PublishToDirectory(t *testing.T) {
	dir := cliEnv(t)
	dest := filepath.Join(dir, "published")
	t.Setenv("VERIFARM_PUBLISH_ENABLED", "true")
	t.Setenv("VERIFARM_PUBLISH_PROVIDER", "file")
	t.Setenv("VERIFARM_PUBLISH_BASE_DIR", dest)
	t.Setenv("VERIFARM_PUBLISH_PREFIX", "nightly")
	script := writeScript(t, dir, "exit 0")

	code, out := runCLI(t, "run",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu", "-R", script, "-Z")
	require.Equal(t, ExitOK, code, out)

	assert.FileExists(t, filepath.Join(dest, "nightly", "regress", engine.ReportFileName))
	archives, err := filepath.Glob(filepath.Join(dest, "nightly", "regress", "alu", "*", "*.tar.gz"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)
}

func TestRun_SystemFailureExitCode(t *testing.T) {
	dir := cliEnv(t)
	// The job deletes its own run directory, so compressing it fails.
	script := writeScript(t, dir, `rm -rf "$PWD"`)

	code, out := runCLI(t, "run",
		"-O", filepath.Join(dir, "out"), "-P", "regress", "-U", "alu", "-R", script, "-T", "1", "-N", "3", "-Z")
	assert.Equal(t, ExitInternal, code, out)
	assert.Contains(t, out, "System fail detected")
}
