package pipeline

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/JessicaTegner/tagship/artifact"
	"github.com/JessicaTegner/tagship/cache"
	"github.com/JessicaTegner/tagship/config"
	"github.com/JessicaTegner/tagship/errors"
	"github.com/JessicaTegner/tagship/gate"
	"github.com/JessicaTegner/tagship/matrix"
	"github.com/JessicaTegner/tagship/notes"
	"github.com/JessicaTegner/tagship/publish"
	"github.com/JessicaTegner/tagship/runner"
	"github.com/JessicaTegner/tagship/trigger"
)

// Gater evaluates the ancestry gate. *gate.Gate satisfies it.
type Gater interface {
	Enforce(ctx context.Context, rev string) (*gate.Decision, error)
}

// Uploader delivers a release to the package index. *publish.Index
// satisfies it.
type Uploader interface {
	Upload(ctx context.Context, claims publish.Claims, req publish.UploadRequest) error
}

// NotesBuilder generates release notes for a tagged version.
// *notes.Builder satisfies it.
type NotesBuilder interface {
	Build(ctx context.Context, tagName string, version *semver.Version) (*notes.Notes, error)
}

// Deps carries the collaborators a Pipeline drives.
type Deps struct {
	// Logger receives stage-attributed structured logs. Required.
	Logger *zap.Logger

	// Runner executes stage commands. Required.
	Runner runner.Runner

	// Staging hands the artifact from Build to Publish. Required.
	Staging *artifact.Store

	// Cache is the optional dependency cache shared by Test and Build.
	Cache *cache.Store

	// Gate evaluates tag ancestry. Required when release tags are expected.
	Gate Gater

	// Index uploads releases. Required when release tags are expected.
	Index Uploader

	// Notes optionally generates release notes for the upload.
	Notes NotesBuilder
}

// Pipeline executes runs for one pipeline definition.
type Pipeline struct {
	cfg  *config.Config
	deps Deps
}

// New creates a Pipeline from a validated definition and its collaborators.
func New(cfg *config.Config, deps Deps) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "pipeline definition is required")
	}
	if deps.Logger == nil || deps.Runner == nil || deps.Staging == nil {
		return nil, errors.New(errors.CodeInvalidConfig, "logger, runner, and staging store are required")
	}
	return &Pipeline{cfg: cfg, deps: deps}, nil
}

// execute drives one run through the stage sequence. The caller (the
// controller) owns the run's context and terminal bookkeeping.
func (p *Pipeline) execute(ctx context.Context, run *Run) error {
	log := p.deps.Logger.With(
		zap.String("run_id", run.ID),
		zap.String("ref", run.Event.Ref),
		zap.String("ref_kind", run.Event.RefKind.String()),
		zap.String("commit", run.Event.Commit),
	)

	// The activation predicate is evaluated once, here, not scattered
	// through the stages.
	isRelease := run.Event.IsReleaseTag()
	log.Info("pipeline run started",
		zap.String("event", run.Event.Kind.String()),
		zap.Bool("release_tag", isRelease))

	if err := p.runTestStage(ctx, run, log); err != nil {
		return err
	}

	// Pull requests validate only; they never build or publish.
	if run.Event.Kind == trigger.EventPullRequest {
		log.Info("pull request validated, run complete")
		return nil
	}

	if err := p.runBuildStage(ctx, run, log); err != nil {
		return err
	}

	if !isRelease {
		log.Info("non-release push built, run complete")
		return nil
	}

	if err := p.runGateStage(ctx, run, log); err != nil {
		return err
	}
	return p.runPublishStage(ctx, run, log)
}

// runTestStage executes the full matrix. Fail-fast is disabled inside the
// suite; the stage fails only after every cell has reported.
func (p *Pipeline) runTestStage(ctx context.Context, run *Run, log *zap.Logger) error {
	run.setState(StateTesting)
	log.Info("test stage started",
		zap.Int("cells", len(p.matrix().Cells())))

	suite := &matrix.Suite{
		Runner:        p.deps.Runner,
		Install:       toCommands(p.cfg.Install),
		Checks:        toCommands(p.cfg.Checks),
		WorkDir:       p.cfg.Checkout,
		Cache:         p.deps.Cache,
		LockfilePath:  p.lockfilePath(),
		DependencyDir: p.cfg.DependencyDir,
	}

	report, err := suite.Run(ctx, p.matrix())
	if err != nil {
		return p.abort(ctx, run, log, StateTesting, err)
	}

	run.mu.Lock()
	run.report = &report
	run.mu.Unlock()

	for _, res := range report.Results {
		log.Info("matrix cell finished",
			zap.String("cell", res.Cell.String()),
			zap.Bool("passed", res.Passed),
			zap.Bool("cache_hit", res.CacheHit),
			zap.Duration("duration", res.Duration))
	}

	if stageErr := report.Err(); stageErr != nil {
		return p.abort(ctx, run, log, StateTesting, stageErr)
	}
	log.Info("test stage passed")
	return nil
}

// runBuildStage produces the artifact on the pinned runtime and stages it
// under a run-scoped name. The build shares the Test stage's dependency
// cache scheme, keyed by the build host's OS.
func (p *Pipeline) runBuildStage(ctx context.Context, run *Run, log *zap.Logger) error {
	run.setState(StateBuilding)
	log.Info("build stage started", zap.String("runtime", p.cfg.Build.Runtime))

	env := map[string]string{
		"CELL_OS":      goruntime.GOOS,
		"CELL_RUNTIME": p.cfg.Build.Runtime,
	}
	// The build runs alone, after the matrix, so it keeps the base
	// dependency directory rather than a suffixed per-cell one.
	if p.cfg.DependencyDir != "" {
		env["CELL_DEPS"] = p.cfg.DependencyDir
	}

	if err := p.provisionBuildDeps(ctx, env, log); err != nil {
		return p.abort(ctx, run, log, StateBuilding, err)
	}

	cmd := p.cfg.Build.Command
	opts := []runner.Option{runner.WithEnv(env)}
	if p.cfg.Checkout != "" {
		opts = append(opts, runner.WithWorkingDir(p.cfg.Checkout))
	}
	if _, err := p.deps.Runner.Run(ctx, cmd[0], cmd[1:], opts...); err != nil {
		return p.abort(ctx, run, log, StateBuilding,
			errors.Wrap(err, errors.CodeBuildFailed, "build command failed"))
	}

	outDir := p.cfg.Build.OutDir
	if p.cfg.Checkout != "" && !filepath.IsAbs(outDir) {
		outDir = filepath.Join(p.cfg.Checkout, outDir)
	}
	if _, err := os.Stat(outDir); err != nil {
		return p.abort(ctx, run, log, StateBuilding,
			errors.Wrap(err, errors.CodeBuildFailed, "build produced no output directory"))
	}

	info, err := p.deps.Staging.Put(ctx, artifactName(run), outDir)
	if err != nil {
		return p.abort(ctx, run, log, StateBuilding,
			errors.Wrap(err, errors.CodeBuildFailed, "staging artifact"))
	}

	log.Info("build stage finished",
		zap.String("artifact_id", info.ID),
		zap.Int("files", info.Files))
	return nil
}

// provisionBuildDeps restores the dependency cache for the build host and
// installs on a miss, mirroring the matrix cells' provisioning.
func (p *Pipeline) provisionBuildDeps(ctx context.Context, env map[string]string, log *zap.Logger) error {
	if len(p.cfg.Install) == 0 {
		return nil
	}

	install := true
	var key cache.Key
	if p.deps.Cache != nil {
		var err error
		key, err = cache.KeyFromFile(goruntime.GOOS, p.cfg.Build.Runtime, p.lockfilePath())
		if err == nil {
			if hit, restoreErr := p.deps.Cache.Restore(ctx, key, p.cfg.DependencyDir); restoreErr == nil && hit {
				install = false
				log.Info("build dependency cache hit", zap.String("key", key.String()))
			}
		}
	}
	if !install {
		return nil
	}

	for _, cmd := range p.cfg.Install {
		opts := []runner.Option{runner.WithEnv(env)}
		if p.cfg.Checkout != "" {
			opts = append(opts, runner.WithWorkingDir(p.cfg.Checkout))
		}
		if _, err := p.deps.Runner.Run(ctx, cmd[0], cmd[1:], opts...); err != nil {
			return errors.Wrap(err, errors.CodeBuildFailed, "installing build dependencies")
		}
	}
	if p.deps.Cache != nil && key.Validate() == nil {
		if err := p.deps.Cache.Save(ctx, key, p.cfg.DependencyDir); err != nil {
			log.Warn("build dependency cache save skipped", zap.Error(err))
		}
	}
	return nil
}

// runGateStage evaluates tag ancestry, fresh, before any credential exists.
func (p *Pipeline) runGateStage(ctx context.Context, run *Run, log *zap.Logger) error {
	run.setState(StateGating)
	log.Info("ancestry gate started", zap.String("tag", run.Event.Ref))

	if p.deps.Gate == nil {
		return p.abort(ctx, run, log, StateGating,
			errors.New(errors.CodeInvalidConfig, "release tag pushed but no gate configured"))
	}

	decision, err := p.deps.Gate.Enforce(ctx, run.Event.Ref)
	if decision != nil {
		run.mu.Lock()
		run.decision = decision
		run.mu.Unlock()
	}
	if err != nil {
		switch {
		case stderrors.Is(err, gate.ErrNotAncestor):
			return p.abort(ctx, run, log, StateGating,
				errors.Wrap(err, errors.CodeGateRejected, "refusing to publish unmerged tag"))
		case stderrors.Is(err, gate.ErrBranchMissing),
			stderrors.Is(err, gate.ErrResolveFailed),
			stderrors.Is(err, gate.ErrInvalidRef):
			// Repository or definition problems, not transient network ones.
			return p.abort(ctx, run, log, StateGating,
				errors.Wrap(err, errors.CodeInvalidConfig, "gate cannot evaluate the repository"))
		default:
			return p.abort(ctx, run, log, StateGating,
				errors.Wrap(err, errors.CodeNetwork, "ancestry evaluation failed"))
		}
	}

	log.Info("ancestry gate passed",
		zap.String("commit", decision.Commit),
		zap.String("main_tip", decision.MainTip))
	return nil
}

// runPublishStage consumes the staged artifact and uploads it. The identity
// token is minted inside the index client, after this point, so a rejected
// gate means no credential was ever created.
func (p *Pipeline) runPublishStage(ctx context.Context, run *Run, log *zap.Logger) error {
	run.setState(StatePublishing)
	log.Info("publish stage started")

	if p.deps.Index == nil {
		return p.abort(ctx, run, log, StatePublishing,
			errors.New(errors.CodeInvalidConfig, "release tag pushed but no index configured"))
	}

	version, err := run.Event.Version()
	if err != nil {
		return p.abort(ctx, run, log, StatePublishing, err)
	}

	dest, err := os.MkdirTemp("", "tagship-publish-")
	if err != nil {
		return p.abort(ctx, run, log, StatePublishing,
			errors.Wrap(err, errors.CodeInternal, "creating download directory"))
	}
	defer os.RemoveAll(dest)

	info, err := p.deps.Staging.Consume(ctx, artifactName(run), dest)
	if err != nil {
		if stderrors.Is(err, artifact.ErrMissing) {
			return p.abort(ctx, run, log, StatePublishing,
				errors.Wrap(err, errors.CodeArtifactMissing, "artifact absent or retention expired"))
		}
		return p.abort(ctx, run, log, StatePublishing,
			errors.Wrap(err, errors.CodeArtifactMissing, "downloading artifact"))
	}
	log.Info("artifact downloaded", zap.String("artifact_id", info.ID))

	releaseNotes := p.buildNotes(ctx, run, version, log)

	claims := publish.Claims{
		PipelineID: p.cfg.PipelineID,
		RunID:      run.ID,
		Ref:        run.Event.Ref,
		Commit:     run.Event.Commit,
	}
	req := publish.UploadRequest{
		Project: p.cfg.Index.Project,
		Version: version.String(),
		Dir:     dest,
		Notes:   releaseNotes,
	}
	if err := p.deps.Index.Upload(ctx, claims, req); err != nil {
		code := errors.CodePublishFailed
		if stderrors.Is(err, publish.ErrUnauthorized) || stderrors.Is(err, publish.ErrTokenExchange) {
			code = errors.CodeUnauthorized
		}
		return p.abort(ctx, run, log, StatePublishing, errors.Wrap(err, code, "index upload"))
	}

	log.Info("published",
		zap.String("project", p.cfg.Index.Project),
		zap.String("version", version.String()))
	return nil
}

// buildNotes renders release notes, best-effort: a notes failure degrades
// the release text, it does not block publication.
func (p *Pipeline) buildNotes(ctx context.Context, run *Run, version *semver.Version, log *zap.Logger) string {
	if p.deps.Notes == nil {
		return ""
	}
	n, err := p.deps.Notes.Build(ctx, run.Event.Ref, version)
	if err != nil {
		log.Warn("release notes skipped", zap.Error(err))
		return ""
	}
	if n.Empty() {
		return ""
	}
	return n.Render()
}

// abort attributes the error to the failing stage, classifies cancellation,
// and logs the terminal diagnostic.
func (p *Pipeline) abort(ctx context.Context, run *Run, log *zap.Logger, stage State, err error) error {
	if ctx.Err() != nil {
		switch {
		case run.Superseded():
			err = errors.Wrap(ctx.Err(), errors.CodeSuperseded,
				"run superseded by a newer event for "+run.Event.Ref)
		case stderrors.Is(ctx.Err(), context.DeadlineExceeded):
			err = errors.Wrap(ctx.Err(), errors.CodeTimeout, "run exceeded its deadline")
		default:
			err = errors.Wrap(ctx.Err(), errors.CodeCanceled, "run canceled")
		}
	}

	var structured *errors.Error
	if stderrors.As(err, &structured) && structured.Stage == "" {
		err = structured.WithStage(stage.String())
	}

	log.Error("pipeline run aborted",
		zap.String("stage", stage.String()),
		zap.Error(err))
	return err
}

// artifactName scopes the staged artifact to the run that built it. The
// staging store is shared across runs, so the fixed name alone would let a
// concurrent build on another reference replace a blob between this run's
// Build and Publish stages.
func artifactName(run *Run) string {
	return artifact.DefaultName + "-" + run.ID
}

func (p *Pipeline) matrix() matrix.Matrix {
	return matrix.Matrix{OSList: p.cfg.Matrix.OS, Runtimes: p.cfg.Matrix.Runtimes}
}

func (p *Pipeline) lockfilePath() string {
	if p.cfg.Lockfile == "" {
		return ""
	}
	if p.cfg.Checkout != "" && !filepath.IsAbs(p.cfg.Lockfile) {
		return filepath.Join(p.cfg.Checkout, p.cfg.Lockfile)
	}
	return p.cfg.Lockfile
}

func toCommands(raw [][]string) []matrix.Command {
	cmds := make([]matrix.Command, len(raw))
	for i, c := range raw {
		cmds[i] = matrix.Command(c)
	}
	return cmds
}

// Describe returns a one-line summary of the pipeline for logs.
func (p *Pipeline) Describe() string {
	return strings.TrimSpace(p.cfg.String())
}
