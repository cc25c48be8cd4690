// Package machine interprets methodology definitions: runtime-loaded state
// machines whose nodes are the board columns and whose events are the legal
// moves between them.
package machine

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"veriline/internal/domain"
)

// ErrMalformed marks a definition payload that cannot produce a usable
// machine. Callers must halt before any column work.
var ErrMalformed = errors.New("malformed methodology definition")

// Reserved node names, always rendered as columns.
const (
	ColumnIncoming  = "incoming_data"
	ColumnDiscarded = "discarded_data"
	ColumnVerified  = "verified_data"
)

// Definition is a parsed methodology process: named nodes with an ordered
// event adjacency and optional annotation metadata. Declaration order is
// preserved because column ordering and meta aggregation depend on it.
type Definition struct {
	ID          string
	Title       string
	Slug        string
	Description string
	Initial     string
	Nodes       []Node

	byName map[string]int
}

// Node is one workflow stage.
type Node struct {
	Name   string
	Events []Event
	Meta   *Meta
}

// Event is one outgoing transition.
type Event struct {
	Name   string
	Target string
}

// Meta is the per-node metadata payload.
type Meta struct {
	Annotations []domain.AnnotationSchema `json:"annotations"`
}

// Node returns the named node, if declared.
func (d *Definition) Node(name string) (*Node, bool) {
	i, ok := d.byName[name]
	if !ok {
		return nil, false
	}
	return &d.Nodes[i], true
}

// On returns the target for an event, if the node offers it.
func (n *Node) On(event string) (string, bool) {
	for _, e := range n.Events {
		if e.Name == event {
			return e.Target, true
		}
	}
	return "", false
}

// Columns returns the board column names in render order: incoming_data,
// custom stages in declaration order, discarded_data, verified_data.
func (d *Definition) Columns() []string {
	cols := []string{ColumnIncoming}
	for _, n := range d.Nodes {
		switch n.Name {
		case ColumnIncoming, ColumnDiscarded, ColumnVerified:
			continue
		}
		cols = append(cols, n.Name)
	}
	return append(cols, ColumnDiscarded, ColumnVerified)
}

// Parse decodes an encoded process payload into a Definition. The payload is
// a JSON object {"initial": ..., "states": {name: {"on": {...}, "meta": {...}}}};
// node and event declaration order is retained. Any structural problem is
// reported as ErrMalformed.
func Parse(process string) (*Definition, error) {
	dec := json.NewDecoder(strings.NewReader(process))
	dec.UseNumber()

	def := &Definition{byName: map[string]int{}}
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "initial":
			if def.Initial, err = stringToken(dec); err != nil {
				return nil, err
			}
		case "states":
			if err := parseStates(dec, def); err != nil {
				return nil, err
			}
		default:
			// id, version and similar top-level fields are ignored.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("%w: field %s: %v", ErrMalformed, key, err)
			}
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after process object", ErrMalformed)
	}
	if err := def.validate(); err != nil {
		return nil, err
	}
	return def, nil
}

// FromYAML decodes a YAML-authored definition (the import format) and
// re-encodes its process as the canonical JSON text.
func FromYAML(data []byte) (slug, title, description, process string, err error) {
	var doc struct {
		Slug        string `yaml:"slug"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Process     struct {
			Initial string    `yaml:"initial"`
			States  yaml.Node `yaml:"states"`
		} `yaml:"process"`
	}
	if err = yaml.Unmarshal(data, &doc); err != nil {
		return "", "", "", "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	states, err := yamlStates(&doc.Process.States)
	if err != nil {
		return "", "", "", "", err
	}
	var b strings.Builder
	b.WriteString(`{"initial":`)
	writeJSONString(&b, doc.Process.Initial)
	b.WriteString(`,"states":`)
	b.WriteString(states)
	b.WriteString(`}`)
	return doc.Slug, doc.Title, doc.Description, b.String(), nil
}

func parseStates(dec *json.Decoder, def *Definition) error {
	if err := expectDelim(dec, '{'); err != nil {
		return err
	}
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return err
		}
		node, err := parseNode(dec, name)
		if err != nil {
			return err
		}
		if _, dup := def.byName[name]; dup {
			return fmt.Errorf("%w: duplicate state %q", ErrMalformed, name)
		}
		def.byName[name] = len(def.Nodes)
		def.Nodes = append(def.Nodes, node)
	}
	return expectDelim(dec, '}')
}

func parseNode(dec *json.Decoder, name string) (Node, error) {
	node := Node{Name: name}
	if err := expectDelim(dec, '{'); err != nil {
		return node, err
	}
	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return node, err
		}
		switch key {
		case "on":
			if node.Events, err = parseEvents(dec); err != nil {
				return node, fmt.Errorf("state %q: %w", name, err)
			}
		case "meta":
			meta := &Meta{}
			if err := dec.Decode(meta); err != nil {
				return node, fmt.Errorf("%w: state %q meta: %v", ErrMalformed, name, err)
			}
			node.Meta = meta
		default:
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return node, fmt.Errorf("%w: state %q field %s: %v", ErrMalformed, name, key, err)
			}
		}
	}
	return node, expectDelim(dec, '}')
}

func parseEvents(dec *json.Decoder) ([]Event, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var events []Event
	for dec.More() {
		name, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		target, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		events = append(events, Event{Name: name, Target: target})
	}
	return events, expectDelim(dec, '}')
}

func (d *Definition) validate() error {
	if len(d.Nodes) == 0 {
		return fmt.Errorf("%w: no states", ErrMalformed)
	}
	if d.Initial == "" {
		return fmt.Errorf("%w: initial state not set", ErrMalformed)
	}
	if _, ok := d.byName[d.Initial]; !ok {
		return fmt.Errorf("%w: initial state %q not declared", ErrMalformed, d.Initial)
	}
	for _, reserved := range []string{ColumnIncoming, ColumnDiscarded, ColumnVerified} {
		if _, ok := d.byName[reserved]; !ok {
			return fmt.Errorf("%w: missing reserved state %q", ErrMalformed, reserved)
		}
	}
	for _, n := range d.Nodes {
		for _, e := range n.Events {
			if _, ok := d.byName[e.Target]; !ok {
				return fmt.Errorf("%w: state %q event %s targets unknown state %q", ErrMalformed, n.Name, e.Name, e.Target)
			}
		}
	}
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("%w: expected %q, got %v", ErrMalformed, want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("%w: expected string, got %v", ErrMalformed, tok)
	}
	return s, nil
}

// yamlStates re-encodes a YAML mapping node as JSON preserving key order.
func yamlStates(n *yaml.Node) (string, error) {
	if n.Kind == 0 {
		return "", fmt.Errorf("%w: process.states missing", ErrMalformed)
	}
	return yamlToJSON(n)
}

func yamlToJSON(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) != 1 {
			return "", fmt.Errorf("%w: unexpected yaml document", ErrMalformed)
		}
		return yamlToJSON(n.Content[0])
	case yaml.MappingNode:
		var b strings.Builder
		b.WriteString("{")
		for i := 0; i+1 < len(n.Content); i += 2 {
			if i > 0 {
				b.WriteString(",")
			}
			writeJSONString(&b, n.Content[i].Value)
			b.WriteString(":")
			v, err := yamlToJSON(n.Content[i+1])
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		}
		b.WriteString("}")
		return b.String(), nil
	case yaml.SequenceNode:
		var b strings.Builder
		b.WriteString("[")
		for i, c := range n.Content {
			if i > 0 {
				b.WriteString(",")
			}
			v, err := yamlToJSON(c)
			if err != nil {
				return "", err
			}
			b.WriteString(v)
		}
		b.WriteString("]")
		return b.String(), nil
	case yaml.ScalarNode:
		var v any
		if err := n.Decode(&v); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if s, ok := v.(string); ok {
			var b strings.Builder
			writeJSONString(&b, s)
			return b.String(), nil
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("%w: unsupported yaml node kind %d", ErrMalformed, n.Kind)
	}
}

func writeJSONString(b *strings.Builder, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}
