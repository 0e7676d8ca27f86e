package gate

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRepo holds an in-memory repository the gate is evaluated against.
type testRepo struct {
	repo *git.Repository
	wt   *git.Worktree
	ctx  context.Context
	seq  int
}

// setupTestRepo creates an in-memory repository with a single initial commit
// on master.
func setupTestRepo(t *testing.T) *testRepo {
	t.Helper()

	repo, err := git.Init(memory.NewStorage(), memfs.New())
	require.NoError(t, err, "failed to initialize test repository")

	wt, err := repo.Worktree()
	require.NoError(t, err)

	tr := &testRepo{repo: repo, wt: wt, ctx: context.Background()}
	tr.commit(t, "initial commit")
	return tr
}

// commit writes a fresh file and commits it on the current branch,
// returning the new commit hash.
func (tr *testRepo) commit(t *testing.T, message string) plumbing.Hash {
	t.Helper()

	tr.seq++
	name := fmt.Sprintf("file%d.txt", tr.seq)

	f, err := tr.wt.Filesystem.Create(name)
	require.NoError(t, err)
	_, err = f.Write([]byte(message))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = tr.wt.Add(name)
	require.NoError(t, err)

	hash, err := tr.wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test",
			Email: "test@example.com",
			When:  time.Now(),
		},
	})
	require.NoError(t, err)
	return hash
}

// checkout switches to the named branch, creating it when create is true.
func (tr *testRepo) checkout(t *testing.T, branch string, create bool) {
	t.Helper()

	err := tr.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(branch),
		Create: create,
	})
	require.NoError(t, err)
}

// tag creates a lightweight tag at the given commit.
func (tr *testRepo) tag(t *testing.T, name string, hash plumbing.Hash) {
	t.Helper()

	ref := plumbing.NewHashReference(plumbing.NewTagReferenceName(name), hash)
	require.NoError(t, tr.repo.Storer.SetReference(ref))
}

// retag moves an existing tag to a new commit, as a force-pushed tag would.
func (tr *testRepo) retag(t *testing.T, name string, hash plumbing.Hash) {
	t.Helper()

	refName := plumbing.NewTagReferenceName(name)
	require.NoError(t, tr.repo.Storer.RemoveReference(refName))
	tr.tag(t, name, hash)
}

func TestEnforceTagOnMainTip(t *testing.T) {
	tr := setupTestRepo(t)
	tip := tr.commit(t, "release work")
	tr.tag(t, "v2.0.0", tip)

	g := New(tr.repo, Options{})
	decision, err := g.Enforce(tr.ctx, "v2.0.0")
	require.NoError(t, err)
	assert.True(t, decision.Ancestor)
	assert.Equal(t, tip.String(), decision.Commit)
	assert.Equal(t, tip.String(), decision.MainTip)
}

func TestEnforceTagOnOlderMainCommit(t *testing.T) {
	tr := setupTestRepo(t)
	tagged := tr.commit(t, "tagged work")
	tr.tag(t, "v1.0.0", tagged)
	tr.commit(t, "later work")

	g := New(tr.repo, Options{})
	decision, err := g.Enforce(tr.ctx, "v1.0.0")
	require.NoError(t, err)
	assert.True(t, decision.Ancestor)
	assert.NotEqual(t, decision.Commit, decision.MainTip)
}

func TestEnforceTagOnUnmergedBranch(t *testing.T) {
	tr := setupTestRepo(t)

	tr.checkout(t, "feature", true)
	stray := tr.commit(t, "unmerged work")
	tr.tag(t, "v9.9.9", stray)
	tr.checkout(t, "master", false)

	g := New(tr.repo, Options{})
	decision, err := g.Enforce(tr.ctx, "v9.9.9")
	require.ErrorIs(t, err, ErrNotAncestor)
	require.NotNil(t, decision)
	assert.False(t, decision.Ancestor)
}

func TestEnforceReevaluatesRepushedTag(t *testing.T) {
	tr := setupTestRepo(t)

	tr.checkout(t, "feature", true)
	stray := tr.commit(t, "unmerged work")
	tr.checkout(t, "master", false)

	tr.tag(t, "v3.0.0", stray)
	g := New(tr.repo, Options{})
	_, err := g.Enforce(tr.ctx, "v3.0.0")
	require.ErrorIs(t, err, ErrNotAncestor)

	// The tag is force-pushed to a commit that is on master. The gate must
	// evaluate the new commit, not remember the old rejection.
	merged := tr.commit(t, "merged work")
	tr.retag(t, "v3.0.0", merged)

	decision, err := g.Enforce(tr.ctx, "v3.0.0")
	require.NoError(t, err)
	assert.True(t, decision.Ancestor)
	assert.Equal(t, merged.String(), decision.Commit)
}

func TestCheckAnnotatedTagPeeled(t *testing.T) {
	tr := setupTestRepo(t)
	tip := tr.commit(t, "release work")

	_, err := tr.repo.CreateTag("v4.0.0", tip, &git.CreateTagOptions{
		Tagger:  &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
		Message: "release 4.0.0",
	})
	require.NoError(t, err)

	g := New(tr.repo, Options{})
	decision, err := g.Check(tr.ctx, "v4.0.0")
	require.NoError(t, err)
	assert.Equal(t, tip.String(), decision.Commit)
	assert.True(t, decision.Ancestor)
}

func TestCheckUnknownRevision(t *testing.T) {
	tr := setupTestRepo(t)

	g := New(tr.repo, Options{})
	_, err := g.Check(tr.ctx, "v0.0.0-missing")
	require.ErrorIs(t, err, ErrResolveFailed)
}

func TestCheckMissingMainBranch(t *testing.T) {
	tr := setupTestRepo(t)
	tip := tr.commit(t, "work")
	tr.tag(t, "v1.0.0", tip)

	g := New(tr.repo, Options{MainBranch: "main"})
	_, err := g.Check(tr.ctx, "v1.0.0")
	require.ErrorIs(t, err, ErrBranchMissing)
}

func TestOpenOnDiskRepository(t *testing.T) {
	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	// One commit so master exists.
	wt, err := repo.Worktree()
	require.NoError(t, err)
	f, err := wt.Filesystem.Create("README")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	_, err = wt.Add("README")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	g, err := Open(context.Background(), Options{FS: osfs.New(dir)})
	require.NoError(t, err)

	decision, err := g.Check(context.Background(), hash.String())
	require.NoError(t, err)
	assert.True(t, decision.Ancestor)
}

func TestOptionsValidate(t *testing.T) {
	opts := Options{}
	require.ErrorIs(t, opts.Validate(), ErrInvalidRef)

	opts.FS = memfs.New()
	require.NoError(t, opts.Validate())
}
