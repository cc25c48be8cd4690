package machine

import (
	"strings"

	"veriline/internal/domain"
)

// Resolved is the live, queryable form of a snapshot against a definition.
type Resolved struct {
	// Nodes are the active node names in definition declaration order.
	Nodes []string
	// NextEvents are the legal outgoing event names, first occurrence wins.
	NextEvents []string
}

// Resolve interprets a snapshot against the definition. A zero snapshot is at
// the initial node; node names the definition does not declare are ignored.
// Resolve never mutates the definition and is safe to call repeatedly.
func Resolve(def *Definition, snap Snapshot) Resolved {
	active := map[string]bool{}
	if snap.IsZero() {
		active[def.Initial] = true
	} else {
		for _, name := range snap.Value.nodeNames() {
			active[name] = true
		}
	}
	var r Resolved
	seen := map[string]bool{}
	for _, n := range def.Nodes {
		if !active[n.Name] {
			continue
		}
		r.Nodes = append(r.Nodes, n.Name)
		for _, e := range n.Events {
			if seen[e.Name] {
				continue
			}
			seen[e.Name] = true
			r.NextEvents = append(r.NextEvents, e.Name)
		}
	}
	return r
}

// Transition applies an event to a snapshot. changed=false means the event is
// not legal from the current state; callers must treat that as a no-op and
// abort any mutation.
func Transition(def *Definition, snap Snapshot, event string) (next Snapshot, changed bool) {
	r := Resolve(def, snap)
	for _, name := range r.Nodes {
		node, ok := def.Node(name)
		if !ok {
			continue
		}
		if target, ok := node.On(event); ok {
			return AtNode(target), true
		}
	}
	return snap, false
}

// ColumnOf maps a snapshot to the column that holds the unit: the first
// active node in definition order (the top-level stage for compound states).
// Falls back to the initial node when nothing resolves.
func ColumnOf(def *Definition, snap Snapshot) string {
	r := Resolve(def, snap)
	if len(r.Nodes) == 0 {
		return def.Initial
	}
	return r.Nodes[0]
}

// SchemaFor derives the editable annotation schema for a resolved state: the
// concatenation of every active node's meta annotations, in active-node
// order. Duplicate keys across nodes are retained.
func SchemaFor(def *Definition, r Resolved) []domain.AnnotationSchema {
	var schema []domain.AnnotationSchema
	for _, name := range r.Nodes {
		node, ok := def.Node(name)
		if !ok || node.Meta == nil {
			continue
		}
		schema = append(schema, node.Meta.Annotations...)
	}
	return schema
}

// EventColumn maps an event name to its destination column name: strip a
// leading TO_ prefix and lowercase the remainder. The convention couples
// event naming to column naming; keep them in lockstep.
func EventColumn(event string) string {
	return strings.ToLower(strings.TrimPrefix(event, "TO_"))
}

// ColumnEvent is the inverse transform: TO_ plus the uppercased column name.
func ColumnEvent(column string) string {
	return "TO_" + strings.ToUpper(column)
}
