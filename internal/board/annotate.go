package board

import (
	"context"
	"errors"
	"fmt"
	"time"

	"veriline/internal/domain"
	"veriline/internal/machine"
	"veriline/internal/store"
)

// ErrValidation reports an annotation value that does not satisfy its
// schema entry. Surfaced inline near the annotation form.
var ErrValidation = errors.New("invalid annotation")

// Annotator derives the editable schema for a unit from its resolved state
// and coordinates annotation reads and writes. Values are read fresh on
// every open and re-read after every submit; nothing is cached.
type Annotator struct {
	Store         store.Store
	Def           *machine.Definition
	Workspace     string
	Investigation string
}

// AnnotationView is what a unit's detail view renders.
type AnnotationView struct {
	Schema []domain.AnnotationSchema
	Values []domain.Annotation
}

// Open resolves the unit's snapshot, aggregates the schema from every
// active node's metadata (duplicates retained), and reads current values.
func (a *Annotator) Open(ctx context.Context, verificationID int, snapshot string) (AnnotationView, error) {
	snap, err := machine.DecodeSnapshot(snapshot)
	if err != nil {
		return AnnotationView{}, err
	}
	resolved := machine.Resolve(a.Def, snap)
	schema := machine.SchemaFor(a.Def, resolved)
	values, err := a.Store.Annotations(ctx, a.Workspace, a.Investigation, verificationID)
	if err != nil {
		return AnnotationView{}, err
	}
	return AnnotationView{Schema: schema, Values: values}, nil
}

// Submit validates an annotation against the unit's current schema, writes
// it, and returns the freshly re-fetched list to keep the view consistent
// with server state.
func (a *Annotator) Submit(ctx context.Context, verificationID int, snapshot string, ann domain.Annotation) ([]domain.Annotation, error) {
	snap, err := machine.DecodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	schema := machine.SchemaFor(a.Def, machine.Resolve(a.Def, snap))
	entry, ok := findSchema(schema, ann.Key)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not editable for the current state", ErrValidation, ann.Key)
	}
	if err := ValidateValue(entry, ann.Value); err != nil {
		return nil, err
	}
	if ann.Name == "" {
		ann.Name = entry.Name
	}
	if err := a.Store.PutAnnotation(ctx, a.Workspace, a.Investigation, verificationID, ann); err != nil {
		return nil, err
	}
	return a.Store.Annotations(ctx, a.Workspace, a.Investigation, verificationID)
}

// findSchema returns the first entry for a key. Duplicate keys across nodes
// stay in the schema list; the first declaration governs validation.
func findSchema(schema []domain.AnnotationSchema, key string) (domain.AnnotationSchema, bool) {
	for _, s := range schema {
		if s.Key == key {
			return s, true
		}
	}
	return domain.AnnotationSchema{}, false
}

// ValidateValue checks a value against a schema entry's kind and constraints.
func ValidateValue(s domain.AnnotationSchema, value any) error {
	if value == nil {
		if s.Required {
			return fmt.Errorf("%w: %s is required", ErrValidation, s.Key)
		}
		return nil
	}
	switch s.Kind {
	case "string", "text":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string", ErrValidation, s.Key)
		}
		if s.Required && str == "" {
			return fmt.Errorf("%w: %s is required", ErrValidation, s.Key)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%w: %s must be a boolean", ErrValidation, s.Key)
		}
	case "datetime":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a datetime string", ErrValidation, s.Key)
		}
		if _, err := time.Parse(time.RFC3339, str); err != nil {
			return fmt.Errorf("%w: %s must be RFC 3339", ErrValidation, s.Key)
		}
	case "selection":
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a string selection", ErrValidation, s.Key)
		}
		for _, sel := range s.Selections {
			if sel == str {
				return nil
			}
		}
		return fmt.Errorf("%w: %s must be one of %v", ErrValidation, s.Key, s.Selections)
	default:
		return fmt.Errorf("%w: unknown kind %q for %s", ErrValidation, s.Kind, s.Key)
	}
	return nil
}
