// Package gate implements the ancestry gate: the release pipeline's sole
// correctness-critical decision point. A version tag may only be published if
// its commit is already reachable from the tip of the main branch; the gate
// fetches the latest main state and answers exactly that question, fresh on
// every publish attempt.
package gate

import (
	"context"
	"errors"

	gobilly "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	// DefaultRemoteName is the remote consulted for the main branch tip.
	DefaultRemoteName = "origin"

	// DefaultMainBranch is the trunk branch name used when none is configured.
	DefaultMainBranch = "master"
)

// Options configures how the gate opens and queries a repository.
type Options struct {
	// FS is the billy filesystem holding the repository's .git storage.
	// Required. Use osfs for on-disk checkouts or memfs in tests.
	FS gobilly.Filesystem

	// RemoteName is the remote holding the authoritative main branch.
	// Defaults to DefaultRemoteName. If the repository has no such remote,
	// the gate evaluates against the local branch ref instead of fetching;
	// this is intended for tests and offline evaluation only.
	RemoteName string

	// MainBranch is the trunk branch the ancestry test runs against.
	// Defaults to DefaultMainBranch.
	MainBranch string

	// Auth optionally authenticates fetches against the remote.
	Auth transport.AuthMethod
}

// applyDefaults sets default values for unset fields.
func (o *Options) applyDefaults() {
	if o.RemoteName == "" {
		o.RemoteName = DefaultRemoteName
	}
	if o.MainBranch == "" {
		o.MainBranch = DefaultMainBranch
	}
}

// Validate checks that the Options are properly configured.
func (o *Options) Validate() error {
	if o.FS == nil {
		return WrapError(ErrInvalidRef, "FS is required")
	}
	return nil
}

// Gate answers ancestry queries over a single repository.
type Gate struct {
	repo    *git.Repository
	options Options
}

// Open opens an existing repository rooted at the filesystem in opts.
// The filesystem must contain the repository storage directly (a bare layout
// or a .git directory at its root).
func Open(ctx context.Context, opts Options) (*Gate, error) {
	if err := opts.Validate(); err != nil {
		return nil, WrapError(err, "invalid options")
	}
	opts.applyDefaults()

	storerFS := opts.FS
	if fi, err := opts.FS.Stat(".git"); err == nil && fi.IsDir() {
		sub, chErr := opts.FS.Chroot(".git")
		if chErr != nil {
			return nil, WrapError(chErr, "failed to access .git directory")
		}
		storerFS = sub
	}

	storage := filesystem.NewStorage(storerFS, cache.NewObjectLRUDefault())
	repo, err := git.Open(storage, nil)
	if err != nil {
		return nil, WrapError(err, "failed to open repository")
	}

	return &Gate{repo: repo, options: opts}, nil
}

// New wraps an already-open go-git repository. Used by tests and by callers
// that manage repository lifecycle themselves.
func New(repo *git.Repository, opts Options) *Gate {
	opts.applyDefaults()
	return &Gate{repo: repo, options: opts}
}

// fetchMain fetches the latest state of the main branch from the remote.
// A repository without the configured remote is left untouched: the gate then
// evaluates against the local branch ref.
func (g *Gate) fetchMain(ctx context.Context) error {
	if _, err := g.repo.Remote(g.options.RemoteName); err != nil {
		if errors.Is(err, git.ErrRemoteNotFound) {
			return nil
		}
		return WrapError(err, "failed to get remote configuration")
	}

	branch := plumbing.NewBranchReferenceName(g.options.MainBranch)
	remote := plumbing.NewRemoteReferenceName(g.options.RemoteName, g.options.MainBranch)

	err := g.repo.FetchContext(ctx, &git.FetchOptions{
		RemoteName: g.options.RemoteName,
		RefSpecs: []gitconfig.RefSpec{
			gitconfig.RefSpec("+" + branch.String() + ":" + remote.String()),
		},
		Auth:  g.options.Auth,
		Force: true,
	})
	if err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil
		}
		return WrapError(err, "failed to fetch main branch")
	}
	return nil
}

// mainTip resolves the commit hash of the main branch tip, preferring the
// remote-tracking ref over the local branch.
func (g *Gate) mainTip() (plumbing.Hash, error) {
	remoteRef := plumbing.NewRemoteReferenceName(g.options.RemoteName, g.options.MainBranch)
	if ref, err := g.repo.Reference(remoteRef, true); err == nil {
		return ref.Hash(), nil
	}

	localRef := plumbing.NewBranchReferenceName(g.options.MainBranch)
	ref, err := g.repo.Reference(localRef, true)
	if err != nil {
		return plumbing.ZeroHash, WrapErrorf(ErrBranchMissing, "branch %q", g.options.MainBranch)
	}
	return ref.Hash(), nil
}

// resolveCommit resolves any revision specifier to a commit hash, peeling
// annotated tags down to the commit they point at.
func (g *Gate) resolveCommit(rev string) (plumbing.Hash, error) {
	if rev == "" {
		return plumbing.ZeroHash, WrapError(ErrInvalidRef, "revision cannot be empty")
	}
	hash, err := g.repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return plumbing.ZeroHash, WrapErrorf(ErrResolveFailed, "revision %q", rev)
	}
	return *hash, nil
}
