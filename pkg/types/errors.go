// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "errors"

// Error taxonomy shared by every stage. Callers match with errors.Is.
var (
	// ErrProviderUnavailable marks a missing credential or external outage.
	// Stages degrade to skipped and the run continues.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrMalformedArtifact marks a prior stage's output that fails the next
	// stage's input contract. Fatal for the run.
	ErrMalformedArtifact = errors.New("malformed artifact")

	// ErrStructuralViolation marks a draft that still fails the template's
	// section contract after repair. Fatal for the run.
	ErrStructuralViolation = errors.New("structural violation")

	// ErrEvidenceGap marks a claim without support. It is recorded in the gap
	// report and never aborts a run.
	ErrEvidenceGap = errors.New("evidence gap")
)
