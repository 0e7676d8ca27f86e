// Package config loads and validates the pipeline definition: the test
// matrix, the commands each stage runs, and the endpoints the publish stage
// talks to. Definitions are YAML files; deployment-specific endpoints can be
// overridden through the environment so the same definition works against a
// staging index.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/JessicaTegner/tagship/errors"
)

// Defaults applied to unset fields.
const (
	DefaultPipelineID = "release"
	DefaultRemote     = "origin"
	DefaultMainBranch = "master"
	DefaultRetention  = Duration(24 * time.Hour)
)

// Duration wraps time.Duration so YAML definitions can write "24h" or "30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// MatrixConfig declares the fixed OS and runtime sets of the Test stage.
type MatrixConfig struct {
	OS       []string `yaml:"os"`
	Runtimes []string `yaml:"runtimes"`
}

// BuildConfig declares the single, non-matrixed artifact build.
type BuildConfig struct {
	// Runtime is the fixed runtime version the build runs on. The artifact
	// is platform-independent by construction, so any one version works;
	// pinning one keeps builds reproducible.
	Runtime string `yaml:"runtime"`

	// Command produces the distributable files.
	Command []string `yaml:"command"`

	// OutDir is the directory, relative to the checkout, the command writes
	// the distributable files into.
	OutDir string `yaml:"out_dir"`
}

// IndexConfig locates the package index and its token service.
type IndexConfig struct {
	// URL is the index upload endpoint.
	URL string `yaml:"url" envconfig:"INDEX_URL"`

	// TokenEndpoint is the identity-token exchange service.
	TokenEndpoint string `yaml:"token_endpoint" envconfig:"TOKEN_ENDPOINT"`

	// Project is the package name on the index.
	Project string `yaml:"project"`
}

// Config is the full pipeline definition.
type Config struct {
	// PipelineID is the fixed identifier used in concurrency grouping keys.
	PipelineID string `yaml:"pipeline"`

	// Remote and MainBranch configure the ancestry gate.
	Remote     string `yaml:"remote"`
	MainBranch string `yaml:"main_branch"`

	// Checkout is the repository working directory commands run in.
	Checkout string `yaml:"checkout"`

	Matrix MatrixConfig `yaml:"matrix"`

	// Lockfile is the dependency lockfile path hashed into cache keys,
	// relative to the checkout.
	Lockfile string `yaml:"lockfile"`

	// DependencyDir is the installed-dependency prefix the cache snapshots.
	DependencyDir string `yaml:"dependency_dir"`

	// Install runs on a cache miss; Checks validate every matrix cell.
	Install [][]string `yaml:"install"`
	Checks  [][]string `yaml:"checks"`

	Build BuildConfig `yaml:"build"`
	Index IndexConfig `yaml:"index"`

	// StagingDir and CacheDir root the artifact staging area and the
	// dependency cache. Empty values are filled in by the caller (the CLI
	// derives per-user defaults).
	StagingDir string `yaml:"staging_dir"`
	CacheDir   string `yaml:"cache_dir"`

	// Retention bounds how long a staged artifact survives.
	Retention Duration `yaml:"retention"`
}

// Load reads, overrides, validates, and defaults a pipeline definition.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "reading pipeline definition")
	}
	return Parse(raw)
}

// Parse decodes a pipeline definition from YAML, applies environment
// overrides (TAGSHIP_ prefix), validates, and fills defaults.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "parsing pipeline definition")
	}

	if err := envconfig.Process("tagship", &cfg.Index); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidConfig, "applying environment overrides")
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills unset optional fields.
func (c *Config) applyDefaults() {
	if c.PipelineID == "" {
		c.PipelineID = DefaultPipelineID
	}
	if c.Remote == "" {
		c.Remote = DefaultRemote
	}
	if c.MainBranch == "" {
		c.MainBranch = DefaultMainBranch
	}
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
}

// Validate checks the definition is complete enough to run.
func (c *Config) Validate() error {
	if len(c.Matrix.OS) == 0 || len(c.Matrix.Runtimes) == 0 {
		return errors.New(errors.CodeInvalidConfig, "matrix requires at least one os and one runtime")
	}
	if len(c.Checks) == 0 {
		return errors.New(errors.CodeInvalidConfig, "at least one check command is required")
	}
	for i, cmd := range append(append([][]string{}, c.Install...), c.Checks...) {
		if len(cmd) == 0 {
			return errors.Newf(errors.CodeInvalidConfig, "command %d is empty", i)
		}
	}
	if len(c.Build.Command) == 0 {
		return errors.New(errors.CodeInvalidConfig, "build command is required")
	}
	if c.Build.Runtime == "" {
		return errors.New(errors.CodeInvalidConfig, "build runtime must be pinned")
	}
	if !containsString(c.Matrix.Runtimes, c.Build.Runtime) {
		return errors.Newf(errors.CodeInvalidConfig,
			"build runtime %q is not part of the test matrix", c.Build.Runtime)
	}
	if c.Build.OutDir == "" {
		return errors.New(errors.CodeInvalidConfig, "build out_dir is required")
	}
	if c.Index.URL == "" {
		return errors.New(errors.CodeInvalidConfig, "index url is required")
	}
	if c.Index.Project == "" {
		return errors.New(errors.CodeInvalidConfig, "index project is required")
	}
	if c.Lockfile == "" && c.CacheDir != "" {
		return errors.New(errors.CodeInvalidConfig, "caching requires a lockfile path")
	}
	return nil
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

// String renders a short summary for logs. Endpoints only; never credentials.
func (c *Config) String() string {
	return fmt.Sprintf("pipeline %s: %dx%d matrix, index %s",
		c.PipelineID, len(c.Matrix.OS), len(c.Matrix.Runtimes), c.Index.URL)
}
