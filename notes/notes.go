// Package notes generates release notes for a tagged version from the commits
// that entered the trunk since the previous release. Commit subjects written
// as conventional commits are grouped by change kind; everything else lands
// in a catch-all section so no change is silently dropped.
package notes

import (
	"context"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"

	"github.com/JessicaTegner/tagship/gate"
)

// History is the slice of repository history the builder needs.
// *gate.Gate satisfies it.
type History interface {
	PreviousVersionTag(ctx context.Context, current *semver.Version) (*gate.VersionTag, error)
	CommitsSince(ctx context.Context, rev, sinceRev string) ([]*object.Commit, error)
}

// Entry is one line of release notes.
type Entry struct {
	// Scope is the conventional-commit scope, empty when absent.
	Scope string

	// Description is the change summary.
	Description string
}

// Notes is the rendered-ready release-notes document for one version.
type Notes struct {
	// Version is the released tag name ("v1.2.3").
	Version string

	// Previous is the tag the commit range starts after; empty for the first
	// release.
	Previous string

	Breaking []Entry
	Features []Entry
	Fixes    []Entry
	Other    []Entry
}

// Empty reports whether the notes contain no entries at all.
func (n *Notes) Empty() bool {
	return len(n.Breaking) == 0 && len(n.Features) == 0 && len(n.Fixes) == 0 && len(n.Other) == 0
}

// Render produces the markdown body attached to the published release.
func (n *Notes) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", n.Version)
	if n.Previous != "" {
		fmt.Fprintf(&b, "\nChanges since %s.\n", n.Previous)
	}

	section := func(title string, entries []Entry) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n\n", title)
		for _, e := range entries {
			if e.Scope != "" {
				fmt.Fprintf(&b, "- **%s**: %s\n", e.Scope, e.Description)
			} else {
				fmt.Fprintf(&b, "- %s\n", e.Description)
			}
		}
	}

	section("Breaking Changes", n.Breaking)
	section("Features", n.Features)
	section("Fixes", n.Fixes)
	section("Other Changes", n.Other)
	return b.String()
}

// Builder turns a commit range into grouped release notes.
type Builder struct {
	history History
	machine conventionalcommits.Machine
}

// NewBuilder creates a Builder over the given history.
func NewBuilder(history History) *Builder {
	return &Builder{
		history: history,
		machine: parser.NewMachine(conventionalcommits.WithTypes(conventionalcommits.TypesConventional)),
	}
}

// Build collects the commits reachable from tagName but not from the previous
// version tag and groups their subjects into release-note sections.
func (b *Builder) Build(ctx context.Context, tagName string, version *semver.Version) (*Notes, error) {
	prev, err := b.history.PreviousVersionTag(ctx, version)
	if err != nil {
		return nil, fmt.Errorf("finding previous release: %w", err)
	}

	sinceRev := ""
	prevName := ""
	if prev != nil {
		sinceRev = prev.Name
		prevName = prev.Name
	}

	commits, err := b.history.CommitsSince(ctx, tagName, sinceRev)
	if err != nil {
		return nil, fmt.Errorf("collecting commits for %s: %w", tagName, err)
	}

	notes := &Notes{Version: tagName, Previous: prevName}
	for _, commit := range commits {
		b.classify(notes, subject(commit.Message))
	}
	return notes, nil
}

// classify parses one commit subject and appends it to the right section.
func (b *Builder) classify(notes *Notes, subj string) {
	if subj == "" {
		return
	}

	msg, err := b.machine.Parse([]byte(subj))
	cc, ok := msg.(*conventionalcommits.ConventionalCommit)
	if err != nil || !ok {
		notes.Other = append(notes.Other, Entry{Description: subj})
		return
	}

	entry := Entry{Description: cc.Description}
	if cc.Scope != nil {
		entry.Scope = *cc.Scope
	}

	switch {
	case cc.IsBreakingChange():
		notes.Breaking = append(notes.Breaking, entry)
	case cc.Type == "feat":
		notes.Features = append(notes.Features, entry)
	case cc.Type == "fix":
		notes.Fixes = append(notes.Fixes, entry)
	default:
		notes.Other = append(notes.Other, entry)
	}
}

// subject returns the first line of a commit message.
func subject(message string) string {
	if i := strings.IndexByte(message, '\n'); i >= 0 {
		message = message[:i]
	}
	return strings.TrimSpace(message)
}
