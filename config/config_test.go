package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JessicaTegner/tagship/errors"
)

const validDefinition = `
pipeline: release
matrix:
  os: [ubuntu-latest, macos-latest, windows-latest]
  runtimes: ["3.10", "3.11", "3.12"]
lockfile: poetry.lock
dependency_dir: .venv
install:
  - [poetry, install]
checks:
  - [pre-commit, run, --all-files]
  - [python, -c, "import teamtalk"]
build:
  runtime: "3.11"
  command: [poetry, build]
  out_dir: dist
index:
  url: https://index.example.com
  token_endpoint: https://token.example.com
  project: teamtalk-py
`

func TestParseValid(t *testing.T) {
	cfg, err := Parse([]byte(validDefinition))
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.PipelineID)
	assert.Equal(t, []string{"3.10", "3.11", "3.12"}, cfg.Matrix.Runtimes)
	assert.Equal(t, []string{"poetry", "build"}, cfg.Build.Command)
	assert.Equal(t, "teamtalk-py", cfg.Index.Project)

	// Defaults.
	assert.Equal(t, DefaultRemote, cfg.Remote)
	assert.Equal(t, DefaultMainBranch, cfg.MainBranch)
	assert.Equal(t, DefaultRetention.Std(), cfg.Retention.Std())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(validDefinition), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "release", cfg.PipelineID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.CodeOf(err))
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("TAGSHIP_INDEX_URL", "https://staging-index.example.com")
	t.Setenv("TAGSHIP_TOKEN_ENDPOINT", "https://staging-token.example.com")

	cfg, err := Parse([]byte(validDefinition))
	require.NoError(t, err)
	assert.Equal(t, "https://staging-index.example.com", cfg.Index.URL)
	assert.Equal(t, "https://staging-token.example.com", cfg.Index.TokenEndpoint)
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("matrix: ["))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.CodeOf(err))
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Parse([]byte(validDefinition))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty matrix os", func(c *Config) { c.Matrix.OS = nil }},
		{"empty matrix runtimes", func(c *Config) { c.Matrix.Runtimes = nil }},
		{"no checks", func(c *Config) { c.Checks = nil }},
		{"empty command", func(c *Config) { c.Checks = append(c.Checks, nil) }},
		{"no build command", func(c *Config) { c.Build.Command = nil }},
		{"no build runtime", func(c *Config) { c.Build.Runtime = "" }},
		{"build runtime outside matrix", func(c *Config) { c.Build.Runtime = "2.7" }},
		{"no build out dir", func(c *Config) { c.Build.OutDir = "" }},
		{"no index url", func(c *Config) { c.Index.URL = "" }},
		{"no project", func(c *Config) { c.Index.Project = "" }},
		{"cache without lockfile", func(c *Config) { c.CacheDir = "/tmp/cache"; c.Lockfile = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errors.CodeInvalidConfig, errors.CodeOf(err))
		})
	}
}

func TestRetentionParsing(t *testing.T) {
	cfg, err := Parse([]byte(validDefinition + "\nretention: 2h\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Retention.Std())
}
