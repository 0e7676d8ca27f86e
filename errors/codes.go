// Package errors provides the error handling system shared by the tagship
// release pipeline. It extends Go's standard error handling with structured
// error codes, stage attribution, and context preservation so that a failed
// pipeline run can always be traced to the first failing stage.
package errors

// ErrorCode represents a specific failure condition in the release pipeline.
// Error codes are string-based for debuggability and natural JSON serialization.
type ErrorCode string

const (
	// Stage failures.

	// CodeValidationFailed indicates one or more test matrix cells failed.
	// Reported per cell; the Test stage fails once every cell has completed.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeBuildFailed indicates artifact construction failed. Fatal to the
	// pipeline; no downstream stages run.
	CodeBuildFailed ErrorCode = "BUILD_FAILED"

	// CodeGateRejected indicates the tagged commit is not an ancestor of the
	// main branch tip. Fatal; surfaced before any credential exchange.
	CodeGateRejected ErrorCode = "GATE_REJECTED"

	// CodeArtifactMissing indicates the Publish stage could not find the
	// expected artifact, which means Build never completed or the staging
	// retention window expired.
	CodeArtifactMissing ErrorCode = "ARTIFACT_MISSING"

	// CodePublishFailed indicates the package index rejected the upload,
	// for example a duplicate version. Requires human intervention (new tag).
	CodePublishFailed ErrorCode = "PUBLISH_FAILED"

	// Run lifecycle.

	// CodeSuperseded indicates the run was canceled because a newer trigger
	// event arrived for the same reference.
	CodeSuperseded ErrorCode = "SUPERSEDED"

	// CodeCanceled indicates the run's context was canceled externally.
	CodeCanceled ErrorCode = "CANCELED"

	// Input and configuration.

	// CodeInvalidTrigger indicates a malformed trigger event (empty ref,
	// unparseable commit hash, unknown ref kind).
	CodeInvalidTrigger ErrorCode = "INVALID_TRIGGER"

	// CodeInvalidConfig indicates the pipeline definition failed validation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// Infrastructure.

	// CodeUnauthorized indicates the identity token exchange was refused.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeNetwork indicates a network operation failed (fetch, upload).
	CodeNetwork ErrorCode = "NETWORK_ERROR"

	// CodeTimeout indicates the run exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeExecutionFailed indicates a cell's dependency provisioning failed,
	// as opposed to a check running and reporting a validation failure.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeInternal indicates an internal pipeline error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeUnknown indicates an unknown or unclassified error.
	CodeUnknown ErrorCode = "UNKNOWN"
)
