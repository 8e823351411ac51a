package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cliEnv isolates a CLI invocation from the caller's config, .env and
// history database.
func cliEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("VERIFARM_MONITOR_INTERVAL", "10ms")
	t.Setenv("VERIFARM_LOGGING_LEVEL", "error")
	return dir
}

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	code := execute(context.Background(), root, args)
	return code, out.String()
}

func writeScript(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "run.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate)

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2024-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
			assert.Equal(t, tt.version, rootCmd.Version)
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "plan", "history", "doctor", "version"} {
		sub, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestVersionCommand(t *testing.T) {
	cliEnv(t)
	orig := versionInfo
	defer SetVersionInfo(orig.Version, orig.Commit, orig.BuildDate)
	SetVersionInfo("2.1.0", "deadbeef", "2025-03-04")

	code, out := runCLI(t, "version")
	assert.Equal(t, ExitOK, code)
	assert.Contains(t, out, "verifarm 2.1.0 (commit deadbeef")
}

func TestUnknownFlagIsInvalidArgument(t *testing.T) {
	cliEnv(t)
	code, _ := runCLI(t, "run", "--no-such-flag")
	assert.Equal(t, foundry.ExitInvalidArgument, code)
}

func TestInvalidConfigFile(t *testing.T) {
	dir := cliEnv(t)
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: -3\n"), 0o644))

	code, _ := runCLI(t, "--config", path, "version")
	assert.Equal(t, foundry.ExitInvalidArgument, code)
}
