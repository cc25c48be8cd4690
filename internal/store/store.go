// Package store defines the remote-store boundary the engine depends on and
// its HTTP implementation. All persistence is delegated here.
package store

import (
	"context"
	"errors"

	"veriline/internal/domain"
)

// ErrNotFound reports a missing remote record (methodology, unit,
// verification).
var ErrNotFound = errors.New("not found")

// Store is the contract the verification engine requires from a remote
// store. Every call may suspend; failures surface as errors, never panics.
type Store interface {
	// Methodology fetches a workflow definition by slug. The returned
	// Process field is encoded text that must be parsed before use.
	Methodology(ctx context.Context, workspace, slug string) (domain.Methodology, error)

	// SegmentUnits lists the units of a segment whose persisted state
	// resolves to the given column.
	SegmentUnits(ctx context.Context, workspace, investigation, segment, state string) ([]domain.VerificationUnit, error)

	// PutUnitState persists a unit's new machine snapshot.
	PutUnitState(ctx context.Context, workspace, investigation, segment string, unitID int, snapshot string) error

	// Annotations reads the annotation records for a verification id.
	Annotations(ctx context.Context, workspace, investigation string, verificationID int) ([]domain.Annotation, error)

	// PutAnnotation upserts one annotation value.
	PutAnnotation(ctx context.Context, workspace, investigation string, verificationID int, a domain.Annotation) error

	// UnitsByIDs fetches full records for export projection.
	UnitsByIDs(ctx context.Context, workspace string, ids []int) ([]domain.FullUnit, error)
}
