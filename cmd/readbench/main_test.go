package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basekick-labs/readbench/internal/dataset"
	"github.com/basekick-labs/readbench/internal/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
[benchmark]
repetitions = 3
warmup = 1

[engine]
type = "memory"

[[datasets]]
name = "small"
location = "mem://small"
size_class = "small"

[[datasets]]
name = "average"
location = "mem://average"
size_class = "average"

[generate]
rows_per_file = 100
files_per_partition = 1
top_values = 3
second_values = 2
count_cardinality = 20

[report]
format = "markdown"

[log]
level = "error"
`

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "readbench.toml")
	body := testConfig + "\n[metrics]\nenabled = true\ntextfile_path = \"" +
		filepath.ToSlash(filepath.Join(dir, "readbench.prom")) + "\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunAndCompare(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	reportPath := filepath.Join(dir, "run.json.gz")

	out, err := execute(t, "run", "-c", cfgPath, "-o", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "eager (baseline)")
	assert.Contains(t, out, "deferred_fallible")

	r, err := report.Load(reportPath)
	require.NoError(t, err)
	assert.False(t, r.Incomplete)
	assert.Equal(t, "memory", r.Settings.Engine)
	// 2 datasets x 2 orders x 3 strategies x 3 repetitions
	assert.Len(t, r.Samples, 36)
	require.Len(t, r.Verdicts, 4)
	for _, v := range r.Verdicts {
		require.Len(t, v.Ranked, 3)
		assert.NotEmpty(t, v.Winner)
		for _, rk := range v.Ranked {
			assert.Equal(t, rk.Strategy == dataset.Eager, rk.Baseline)
			assert.Zero(t, rk.Failures)
		}
	}

	prom, err := os.ReadFile(filepath.Join(dir, "readbench.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(prom), "readbench_trial_total")

	saved := filepath.Join(dir, "recomputed.json")
	out, err = execute(t, "compare", reportPath, "-c", cfgPath, "--threshold", "0.99", "--format", "ascii", "--save", saved)
	require.NoError(t, err)
	assert.Contains(t, out, "baseline")

	again, err := report.Load(saved)
	require.NoError(t, err)
	assert.Equal(t, r.RunID, again.RunID)
	assert.InDelta(t, 0.99, again.Settings.NoiseThreshold, 1e-9)
	for _, v := range again.Verdicts {
		require.NotNil(t, v.MarginPct)
		if *v.MarginPct <= 99 {
			assert.Equal(t, report.WinnerTie, v.Winner)
		} else {
			assert.Equal(t, v.Ranked[0].Strategy.String(), v.Winner)
		}
	}
}

func TestRunFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	reportPath := filepath.Join(dir, "{run_id}.json")

	_, err := execute(t, "run", "-c", cfgPath, "-o", reportPath,
		"-n", "1", "--warmup", "0", "--timing-mode", "include_resolution", "--parallel", "--format", "none")
	require.NoError(t, err)

	matches, err := filepath.Glob(filepath.Join(dir, "*-*-*-*-*.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	r, err := report.Load(matches[0])
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSuffix(filepath.Base(matches[0]), ".json"), r.RunID)
	assert.Equal(t, 1, r.Settings.Repetitions)
	assert.True(t, r.Settings.Parallel)
	assert.Equal(t, "include_resolution", r.Settings.TimingMode.String())
	assert.Len(t, r.Samples, 12)
}

func TestRunRejectsInvalidOverride(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir())
	_, err := execute(t, "run", "-c", cfgPath, "--timing-mode", "wall_clock")
	assert.Error(t, err)

	_, err = execute(t, "run", "-c", cfgPath, "-n", "0")
	assert.Error(t, err)
}

func TestGenerateSingleDataset(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	target := filepath.Join(dir, "events")

	out, err := execute(t, "generate", "-c", cfgPath, "--size-class", "average", "--out", target)
	require.NoError(t, err)
	assert.Contains(t, out, "6 files")

	files, err := filepath.Glob(filepath.Join(target, "region=*", "device=*", "*.parquet"))
	require.NoError(t, err)
	assert.Len(t, files, 6)

	_, err = execute(t, "generate", "-c", cfgPath, "--size-class", "average", "--out", target)
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "generate", "-c", cfgPath, "--size-class", "average", "--out", target, "--force")
	assert.NoError(t, err)
}

func TestCompareMissingReport(t *testing.T) {
	cfgPath := writeTestConfig(t, t.TempDir())
	_, err := execute(t, "compare", "-c", cfgPath, filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
