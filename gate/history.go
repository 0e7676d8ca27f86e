package gate

import (
	"context"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// VersionTag pairs a v-prefixed semantic-version tag with its parsed version.
type VersionTag struct {
	// Name is the tag name as stored ("v1.2.3").
	Name string

	// Version is the parsed semantic version.
	Version *semver.Version
}

// VersionTags returns all v-prefixed semantic-version tags in the repository,
// sorted ascending by version. Non-version tags are skipped.
func (g *Gate) VersionTags(ctx context.Context) ([]VersionTag, error) {
	refs, err := g.repo.References()
	if err != nil {
		return nil, WrapError(err, "failed to get references")
	}

	var tags []VersionTag
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if !ref.Name().IsTag() {
			return nil
		}
		name := ref.Name().Short()
		if !strings.HasPrefix(name, "v") {
			return nil
		}
		v, parseErr := semver.StrictNewVersion(strings.TrimPrefix(name, "v"))
		if parseErr != nil {
			return nil
		}
		tags = append(tags, VersionTag{Name: name, Version: v})
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to iterate references")
	}

	sort.Slice(tags, func(i, j int) bool {
		return tags[i].Version.LessThan(tags[j].Version)
	})
	return tags, nil
}

// PreviousVersionTag returns the highest version tag strictly lower than the
// given version, or nil if this is the first release.
func (g *Gate) PreviousVersionTag(ctx context.Context, current *semver.Version) (*VersionTag, error) {
	tags, err := g.VersionTags(ctx)
	if err != nil {
		return nil, err
	}

	var prev *VersionTag
	for i := range tags {
		if tags[i].Version.LessThan(current) {
			prev = &tags[i]
		}
	}
	return prev, nil
}

// CommitsSince returns the commits reachable from rev but not from sinceRev,
// newest first. If sinceRev is empty the full history of rev is returned.
// This is the commit range a release's notes are generated from.
func (g *Gate) CommitsSince(ctx context.Context, rev, sinceRev string) ([]*object.Commit, error) {
	head, err := g.resolveCommit(rev)
	if err != nil {
		return nil, err
	}
	headCommit, err := g.repo.CommitObject(head)
	if err != nil {
		return nil, WrapErrorf(ErrResolveFailed, "commit %s", head)
	}

	var ignore []plumbing.Hash
	if sinceRev != "" {
		since, resolveErr := g.resolveCommit(sinceRev)
		if resolveErr != nil {
			return nil, resolveErr
		}
		ignore = append(ignore, since)
	}

	iter := object.NewCommitPreorderIter(headCommit, nil, ignore)
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, WrapError(err, "failed to walk history")
	}
	return commits, nil
}
