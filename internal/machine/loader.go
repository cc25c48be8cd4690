package machine

import (
	"context"
	"fmt"

	"veriline/internal/store"
)

// Load fetches a methodology by slug and parses its process. The definition
// is immutable for the session; edits to methodologies are out of scope.
func Load(ctx context.Context, st store.Store, workspace, slug string) (*Definition, error) {
	m, err := st.Methodology(ctx, workspace, slug)
	if err != nil {
		return nil, fmt.Errorf("load methodology %s: %w", slug, err)
	}
	def, err := Parse(m.Process)
	if err != nil {
		return nil, fmt.Errorf("methodology %s: %w", slug, err)
	}
	def.ID = m.ID
	def.Title = m.Title
	def.Slug = m.Slug
	def.Description = m.Description
	return def, nil
}
