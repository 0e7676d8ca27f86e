// Package trigger models the source-control events that start a release
// pipeline run. An Event carries the pushed reference, its kind, and the
// commit it points at; predicates over events decide which stages activate.
package trigger

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/JessicaTegner/tagship/errors"
)

// RefKind classifies the reference carried by a trigger event.
type RefKind int

const (
	// RefBranch indicates a branch reference (refs/heads/*).
	RefBranch RefKind = iota

	// RefTag indicates a tag reference (refs/tags/*).
	RefTag
)

// String returns a human-readable representation of the RefKind.
func (k RefKind) String() string {
	switch k {
	case RefBranch:
		return "branch"
	case RefTag:
		return "tag"
	default:
		return "unknown"
	}
}

// EventKind distinguishes push events from pull-request events.
type EventKind int

const (
	// EventPush is a push to a branch or tag.
	EventPush EventKind = iota

	// EventPullRequest is a pull-request notification. Pull requests run the
	// Test stage only; they never build or publish.
	EventPullRequest
)

// String returns a human-readable representation of the EventKind.
func (k EventKind) String() string {
	switch k {
	case EventPush:
		return "push"
	case EventPullRequest:
		return "pull_request"
	default:
		return "unknown"
	}
}

// commitHashPattern matches abbreviated or full hexadecimal commit hashes.
var commitHashPattern = regexp.MustCompile(`^[0-9a-f]{7,64}$`)

// Event is a trigger event as delivered by the source-control system.
// Events are read-only to the pipeline; they are created once per
// notification and never mutated.
type Event struct {
	// Kind distinguishes push from pull-request events.
	Kind EventKind

	// Ref is the short reference name ("main", "v1.2.3"), without the
	// refs/heads/ or refs/tags/ prefix.
	Ref string

	// RefKind is the classification of Ref.
	RefKind RefKind

	// Commit is the full hash of the commit the reference points at.
	Commit string
}

// Parse builds an Event from a raw reference string and commit hash.
// The ref may be fully qualified ("refs/tags/v1.2.3") or short; short refs
// are classified as branches unless they carry the refs/tags/ prefix.
func Parse(kind EventKind, ref, commit string) (Event, error) {
	if ref == "" {
		return Event{}, errors.New(errors.CodeInvalidTrigger, "ref cannot be empty")
	}
	if !commitHashPattern.MatchString(strings.ToLower(commit)) {
		return Event{}, errors.Newf(errors.CodeInvalidTrigger, "malformed commit hash %q", commit)
	}

	refKind := RefBranch
	switch {
	case strings.HasPrefix(ref, "refs/tags/"):
		ref = strings.TrimPrefix(ref, "refs/tags/")
		refKind = RefTag
	case strings.HasPrefix(ref, "refs/heads/"):
		ref = strings.TrimPrefix(ref, "refs/heads/")
	}

	if ref == "" {
		return Event{}, errors.New(errors.CodeInvalidTrigger, "ref cannot be empty after prefix")
	}

	return Event{
		Kind:    kind,
		Ref:     ref,
		RefKind: refKind,
		Commit:  strings.ToLower(commit),
	}, nil
}

// Key returns the grouping key used by the concurrency controller: the
// reference string combined with a fixed pipeline identifier. Two events
// share a key exactly when one should supersede the other.
func (e Event) Key(pipelineID string) string {
	return pipelineID + "/" + e.RefKind.String() + "/" + e.Ref
}

// IsReleaseTag reports whether the event is a push of a tag whose name is a
// v-prefixed semantic version ("v1.2.3", "v2.0.0-rc.1"). This is the single
// predicate deciding whether the gate and publish stages activate; it is
// evaluated once at pipeline start.
func (e Event) IsReleaseTag() bool {
	if e.Kind != EventPush || e.RefKind != RefTag {
		return false
	}
	if !strings.HasPrefix(e.Ref, "v") {
		return false
	}
	_, err := semver.StrictNewVersion(strings.TrimPrefix(e.Ref, "v"))
	return err == nil
}

// Version returns the semantic version carried by a release tag.
// Returns an error if the event is not a release tag.
func (e Event) Version() (*semver.Version, error) {
	if !e.IsReleaseTag() {
		return nil, errors.Newf(errors.CodeInvalidTrigger, "ref %q is not a release tag", e.Ref)
	}
	v, err := semver.StrictNewVersion(strings.TrimPrefix(e.Ref, "v"))
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidTrigger, "parsing release tag")
	}
	return v, nil
}
