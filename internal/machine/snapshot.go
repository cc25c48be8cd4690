package machine

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Snapshot is the persisted form of "where in the methodology" a unit sits.
// The wire shape is {"value": v} where v is a node name, or a nested object
// for compound states ({parent: child}).
type Snapshot struct {
	Value Value `json:"value"`
}

// Value is a tagged state value: a single node name, or a compound mapping.
type Value struct {
	Simple   string
	Compound map[string]Value
}

// AtNode returns a snapshot resting at a single node.
func AtNode(name string) Snapshot {
	return Snapshot{Value: Value{Simple: name}}
}

// IsZero reports whether no state has been recorded yet.
func (s Snapshot) IsZero() bool {
	return s.Value.Simple == "" && len(s.Value.Compound) == 0
}

func (v Value) MarshalJSON() ([]byte, error) {
	if len(v.Compound) > 0 {
		m := make(map[string]Value, len(v.Compound))
		for k, c := range v.Compound {
			m[k] = c
		}
		return json.Marshal(m)
	}
	return json.Marshal(v.Simple)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.Simple = s
		v.Compound = nil
		return nil
	}
	var m map[string]Value
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("state value must be a string or object: %w", err)
	}
	v.Simple = ""
	v.Compound = m
	return nil
}

// nodeNames collects every node name the value touches: compound keys and
// leaves, plus the simple name. Order is not significant here; Resolve
// re-orders against the definition.
func (v Value) nodeNames() []string {
	if v.Simple != "" {
		return []string{v.Simple}
	}
	var names []string
	keys := make([]string, 0, len(v.Compound))
	for k := range v.Compound {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		names = append(names, k)
		names = append(names, v.Compound[k].nodeNames()...)
	}
	return names
}

// DecodeSnapshot parses a persisted snapshot. An empty payload decodes to the
// zero snapshot, which resolves to the definition's initial node.
func DecodeSnapshot(encoded string) (Snapshot, error) {
	if encoded == "" {
		return Snapshot{}, nil
	}
	var s Snapshot
	if err := json.Unmarshal([]byte(encoded), &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// EncodeSnapshot serializes a snapshot to its persisted form.
func EncodeSnapshot(s Snapshot) string {
	b, _ := json.Marshal(s)
	return string(b)
}
