package gate

import (
	"context"
	"time"
)

// Decision is the outcome of one ancestry evaluation. A Decision is computed
// fresh for every publish attempt and never cached: a tag re-pushed to a new
// commit gets a new Decision against the main tip as it stands right now.
type Decision struct {
	// Rev is the revision the gate was asked about (a tag name or commit hash).
	Rev string

	// Commit is the resolved commit hash, with annotated tags peeled.
	Commit string

	// MainTip is the commit hash of the main branch tip the test ran against.
	MainTip string

	// Ancestor reports whether Commit is reachable from MainTip.
	Ancestor bool

	// CheckedAt records when the evaluation ran.
	CheckedAt time.Time
}

// Check evaluates whether the given revision's commit is an ancestor of the
// main branch tip. It fetches the remote's main branch first so the decision
// reflects the trunk as it stands now, resolves both ends, and runs a
// merge-base ancestor test over the commit graph.
//
// The returned Decision is informational; callers enforcing the gate should
// use Enforce, which converts a negative decision into ErrNotAncestor.
func (g *Gate) Check(ctx context.Context, rev string) (*Decision, error) {
	if err := g.fetchMain(ctx); err != nil {
		return nil, err
	}

	commitHash, err := g.resolveCommit(rev)
	if err != nil {
		return nil, err
	}

	tipHash, err := g.mainTip()
	if err != nil {
		return nil, err
	}

	commit, err := g.repo.CommitObject(commitHash)
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "commit %s", commitHash)
	}
	tip, err := g.repo.CommitObject(tipHash)
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "main tip %s", tipHash)
	}

	ancestor, err := commit.IsAncestor(tip)
	if err != nil {
		return nil, WrapError(err, "ancestor test failed")
	}

	return &Decision{
		Rev:       rev,
		Commit:    commitHash.String(),
		MainTip:   tipHash.String(),
		Ancestor:  ancestor,
		CheckedAt: time.Now().UTC(),
	}, nil
}

// Enforce runs Check and converts a negative decision into ErrNotAncestor,
// carrying a diagnostic naming the tag, its commit, and the tip it was tested
// against. A nil error means the gate passed and publication may proceed.
func (g *Gate) Enforce(ctx context.Context, rev string) (*Decision, error) {
	decision, err := g.Check(ctx, rev)
	if err != nil {
		return nil, err
	}
	if !decision.Ancestor {
		return decision, WrapErrorf(ErrNotAncestor,
			"%s (commit %s) is not merged into %s (tip %s)",
			decision.Rev, decision.Commit, g.options.MainBranch, decision.MainTip)
	}
	return decision, nil
}
