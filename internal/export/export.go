// Package export projects a column's units into a flat CSV artifact.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"veriline/internal/store"
)

// Fields is the fixed projection, in column order.
var Fields = []string{
	"id", "id_hash", "source", "unit_id", "body", "href",
	"author", "title", "description", "created_at", "fetched_at",
}

// Export is a ready-to-download CSV artifact.
type Export struct {
	Filename string
	Data     []byte
}

// Column fetches the full records for a column's unit ids and serializes
// them as CSV named {segmentSlug}-{columnName}.csv. Transport failure is a
// recoverable error, never a crash.
func Column(ctx context.Context, st store.Store, workspace, segmentSlug, columnName string, ids []int) (Export, error) {
	units, err := st.UnitsByIDs(ctx, workspace, ids)
	if err != nil {
		return Export{}, fmt.Errorf("export %s: %w", columnName, err)
	}
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(Fields); err != nil {
		return Export{}, err
	}
	for _, u := range units {
		row := []string{
			strconv.Itoa(u.ID), u.IDHash, u.Source, u.UnitID, u.Body, u.Href,
			u.Author, u.Title, u.Description, u.CreatedAt, u.FetchedAt,
		}
		if err := w.Write(row); err != nil {
			return Export{}, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return Export{}, err
	}
	return Export{
		Filename: fmt.Sprintf("%s-%s.csv", segmentSlug, columnName),
		Data:     buf.Bytes(),
	}, nil
}
