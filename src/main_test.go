package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ChurnInsights/src/charts"
	"ChurnInsights/src/datasource/file"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePath = "testdata/churn_sample.csv"

var outputs = []string{
	charts.FileDistribution, charts.FileDemographics, charts.FileTenure, charts.FileServices,
	charts.FileContracts, charts.FileCharges, charts.FileCorrelation,
}

func runArgs(t *testing.T, dir string, extra ...string) []string {
	t.Helper()
	return append([]string{
		"--config-dir", filepath.Join(dir, "config"),
		"--out", filepath.Join(dir, "imgs"),
		"--log", filepath.Join(dir, "app.log"),
		"--dpi", "24",
	}, extra...)
}

func TestRootCommandRendersAllCharts(t *testing.T) {
	dir := t.TempDir()
	var stderr bytes.Buffer

	cmd := newRootCmd()
	cmd.SetArgs(runArgs(t, dir, "--data", samplePath, "--summary", filepath.Join(dir, "summary.xlsx")))
	cmd.SetErr(&stderr)
	require.NoError(t, cmd.Execute())

	for _, name := range outputs {
		assert.FileExists(t, filepath.Join(dir, "imgs", name))
	}
	assert.FileExists(t, filepath.Join(dir, "summary.xlsx"))

	console := stderr.String()
	assert.Contains(t, console, "Loading data from "+samplePath+"...")
	assert.Contains(t, console, "Generating "+charts.FileDistribution+"...")
	assert.Contains(t, console, "Saving "+charts.FileCorrelation+"...")
	assert.Contains(t, console, "Visualization generation complete.")

	logData, err := os.ReadFile(filepath.Join(dir, "app.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), `"run_id"`)
}

func TestRootCommandMissingInput(t *testing.T) {
	dir := t.TempDir()

	cmd := newRootCmd()
	cmd.SetArgs(runArgs(t, dir, "--data", filepath.Join(dir, "nope.csv")))
	cmd.SetErr(io.Discard)
	err := cmd.Execute()
	require.Error(t, err)
	assert.True(t, errors.Is(err, file.ErrInput))
	assert.NoDirExists(t, filepath.Join(dir, "imgs"))
}

func TestRootCommandRejectsArgs(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetArgs([]string{"extra"})
	cmd.SetErr(io.Discard)
	cmd.SetOut(io.Discard)
	assert.Error(t, cmd.Execute())
}

func TestWatchRendersAndStops(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "churn.csv")
	raw, err := os.ReadFile(samplePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(data, raw, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"watch", "--every", "1h"}, runArgs(t, dir, "--data", data)...))
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	last := filepath.Join(dir, "imgs", charts.FileCorrelation)
	require.Eventually(t, func() bool {
		_, err := os.Stat(last)
		return err == nil
	}, 30*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

func TestWatchStopsScheduledRuns(t *testing.T) {
	dir := t.TempDir()
	data := filepath.Join(dir, "churn.csv")
	raw, err := os.ReadFile(samplePath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(data, raw, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"watch", "--every", "20ms"}, runArgs(t, dir, "--data", data)...))
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	logPath := filepath.Join(dir, "app.log")
	require.Eventually(t, func() bool {
		b, err := os.ReadFile(logPath)
		return err == nil && bytes.Contains(b, []byte(`"schedule"`))
	}, 30*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}

	// 返回后不再有任何运行写日志
	before, err := os.ReadFile(logPath)
	require.NoError(t, err)
	time.Sleep(200 * time.Millisecond)
	after, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}
