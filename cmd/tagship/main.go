// tagship runs one release pipeline execution for a trigger event.
//
// It loads the pipeline definition, opens the checkout's repository for the
// ancestry gate, and drives the event through test, build, gate, and publish.
// The process exit code distinguishes a rejected gate (exit 2) from every
// other failure (exit 1) so CI wrappers can tell "refused to publish" apart
// from "broke while publishing".
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/JessicaTegner/tagship/artifact"
	"github.com/JessicaTegner/tagship/cache"
	"github.com/JessicaTegner/tagship/config"
	"github.com/JessicaTegner/tagship/errors"
	"github.com/JessicaTegner/tagship/gate"
	"github.com/JessicaTegner/tagship/notes"
	"github.com/JessicaTegner/tagship/pipeline"
	"github.com/JessicaTegner/tagship/publish"
	"github.com/JessicaTegner/tagship/runner"
	"github.com/JessicaTegner/tagship/trigger"
)

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagship: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	var (
		configPath string
		eventKind  string
		ref        string
		commit     string
		checkout   string
		debug      bool
	)

	flags := pflag.NewFlagSet("tagship", pflag.ContinueOnError)
	flags.StringVarP(&configPath, "config", "c", "tagship.yaml", "pipeline definition file")
	flags.StringVar(&eventKind, "event", "push", "trigger event kind (push or pull_request)")
	flags.StringVar(&ref, "ref", "", "triggering reference (refs/tags/v1.2.3, refs/heads/main)")
	flags.StringVar(&commit, "commit", "", "commit the reference points at")
	flags.StringVar(&checkout, "checkout", "", "working copy root (overrides the definition)")
	flags.BoolVar(&debug, "debug", false, "verbose development logging")

	if err := flags.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0, nil
		}
		return 2, err
	}

	log, err := newLogger(debug)
	if err != nil {
		return 1, err
	}
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load(configPath)
	if err != nil {
		return 1, err
	}
	if checkout != "" {
		cfg.Checkout = checkout
	}

	event, err := parseEvent(eventKind, ref, commit)
	if err != nil {
		return 2, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return 1, err
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return 1, err
	}

	ctrl := pipeline.NewController(p, log)
	runHandle := ctrl.Submit(ctx, event)
	if err := runHandle.Wait(context.Background()); err != nil {
		if errors.HasCode(err, errors.CodeGateRejected) {
			return 2, err
		}
		return 1, err
	}
	return 0, nil
}

// buildDeps wires the pipeline's collaborators from the definition. Staging
// and cache directories fall back to the user's XDG data and cache homes.
func buildDeps(ctx context.Context, cfg *config.Config, log *zap.Logger) (pipeline.Deps, error) {
	stagingDir := cfg.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(xdg.DataHome, "tagship", "staging")
	}
	staging, err := artifact.New(stagingDir, cfg.Retention.Std())
	if err != nil {
		return pipeline.Deps{}, err
	}
	if removed, pruneErr := staging.Prune(ctx); pruneErr == nil && removed > 0 {
		log.Info("pruned expired artifacts", zap.Int("removed", removed))
	}

	var depCache *cache.Store
	if cfg.CacheDir != "" || cfg.Lockfile != "" {
		cacheDir := cfg.CacheDir
		if cacheDir == "" {
			cacheDir = filepath.Join(xdg.CacheHome, "tagship")
		}
		depCache, err = cache.New(cache.Config{Root: cacheDir})
		if err != nil {
			return pipeline.Deps{}, err
		}
	}

	g, err := gate.Open(ctx, gate.Options{
		FS:         osfs.New(cfg.Checkout),
		RemoteName: cfg.Remote,
		MainBranch: cfg.MainBranch,
	})
	if err != nil {
		return pipeline.Deps{}, err
	}

	index := publish.NewIndex(cfg.Index.URL, publish.NewHTTPMinter(cfg.Index.TokenEndpoint))

	return pipeline.Deps{
		Logger:  log,
		Runner:  runner.NewLocal(),
		Staging: staging,
		Cache:   depCache,
		Gate:    g,
		Index:   index,
		Notes:   notes.NewBuilder(g),
	}, nil
}

func parseEvent(kind, ref, commit string) (trigger.Event, error) {
	var k trigger.EventKind
	switch kind {
	case "push":
		k = trigger.EventPush
	case "pull_request":
		k = trigger.EventPullRequest
	default:
		return trigger.Event{}, fmt.Errorf("unknown event kind %q", kind)
	}
	return trigger.Parse(k, ref, commit)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
