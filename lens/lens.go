// Package lens implements path queries over nested, schema-less structures.
//
// A Lens is an ordered sequence of steps (attribute lookup, index lookup,
// wildcard) evaluated against a root value decoded from JSON (maps, slices,
// scalars). Evaluation is tolerant: a step that does not apply to a candidate
// drops that candidate instead of failing, so a query may yield zero, one, or
// many matches.
package lens

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// StepKind discriminates the three step variants.
type StepKind int

const (
	// KindAttr selects a named key of a map.
	KindAttr StepKind = iota
	// KindIndex selects an element of a slice by position.
	KindIndex
	// KindAll selects every element of a slice, or every value of a map
	// in key order.
	KindAll
)

// Step is a single projection in a Lens path.
type Step struct {
	Kind  StepKind
	Attr  string
	Index int
}

// Attr returns a step selecting the named map key.
func Attr(name string) Step { return Step{Kind: KindAttr, Attr: name} }

// Index returns a step selecting the i-th slice element.
func Index(i int) Step { return Step{Kind: KindIndex, Index: i} }

// All returns a wildcard step selecting every element of a container.
func All() Step { return Step{Kind: KindAll} }

// Lens is an immutable ordered sequence of steps. The zero value is the
// identity lens: evaluating it yields the root itself.
type Lens struct {
	steps []Step
}

// New builds a Lens from the given steps.
func New(steps ...Step) Lens {
	return Lens{steps: steps}
}

// Steps returns a copy of the lens's steps.
func (l Lens) Steps() []Step {
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Len returns the number of steps.
func (l Lens) Len() int { return len(l.steps) }

// Append returns a new Lens with the given steps added at the end.
// The receiver is not modified.
func (l Lens) Append(steps ...Step) Lens {
	combined := make([]Step, 0, len(l.steps)+len(steps))
	combined = append(combined, l.steps...)
	combined = append(combined, steps...)
	return Lens{steps: combined}
}

// Rest returns the lens with its first step removed. Calling Rest on the
// identity lens returns the identity lens.
func (l Lens) Rest() Lens {
	if len(l.steps) == 0 {
		return Lens{}
	}
	return Lens{steps: l.steps[1:]}
}

// First returns the first step, if any.
func (l Lens) First() (Step, bool) {
	if len(l.steps) == 0 {
		return Step{}, false
	}
	return l.steps[0], true
}

// Evaluate projects root through the lens and returns all matches.
// Composition holds: for any split of a lens into prefix p and suffix s,
// evaluating s against each match of p yields the same matches as
// evaluating the whole lens. Evaluate never modifies root.
func (l Lens) Evaluate(root any) []any {
	candidates := []any{root}
	for _, step := range l.steps {
		var next []any
		for _, c := range candidates {
			next = step.apply(c, next)
		}
		candidates = next
		if len(candidates) == 0 {
			return nil
		}
	}
	return candidates
}

// apply projects one candidate through one step, appending matches to out.
func (s Step) apply(c any, out []any) []any {
	switch s.Kind {
	case KindAttr:
		if m, ok := c.(map[string]any); ok {
			if v, present := m[s.Attr]; present {
				out = append(out, v)
			}
		}
	case KindIndex:
		if seq, ok := c.([]any); ok && s.Index >= 0 && s.Index < len(seq) {
			out = append(out, seq[s.Index])
		}
	case KindAll:
		switch v := c.(type) {
		case []any:
			out = append(out, v...)
		case map[string]any:
			// Key order for deterministic match order.
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				out = append(out, v[k])
			}
		}
	}
	return out
}

// String renders the lens in bracket notation, e.g. `.chain.docs[*][0].text`.
func (l Lens) String() string {
	var b strings.Builder
	for _, s := range l.steps {
		switch s.Kind {
		case KindAttr:
			b.WriteByte('.')
			b.WriteString(s.Attr)
		case KindIndex:
			fmt.Fprintf(&b, "[%d]", s.Index)
		case KindAll:
			b.WriteString("[*]")
		}
	}
	return b.String()
}

// MarshalJSON encodes the lens as a path array: attributes as strings,
// indexes as numbers, wildcards as "*". The attribute name "*" is reserved
// for the wildcard.
func (l Lens) MarshalJSON() ([]byte, error) {
	path := make([]any, len(l.steps))
	for i, s := range l.steps {
		switch s.Kind {
		case KindAttr:
			path[i] = s.Attr
		case KindIndex:
			path[i] = s.Index
		case KindAll:
			path[i] = "*"
		}
	}
	return json.Marshal(path)
}

// UnmarshalJSON decodes a path array produced by MarshalJSON.
func (l *Lens) UnmarshalJSON(data []byte) error {
	var path []any
	if err := json.Unmarshal(data, &path); err != nil {
		return fmt.Errorf("lens: decode path: %w", err)
	}
	steps := make([]Step, 0, len(path))
	for i, el := range path {
		switch v := el.(type) {
		case string:
			if v == "*" {
				steps = append(steps, All())
			} else {
				steps = append(steps, Attr(v))
			}
		case float64:
			if v != float64(int(v)) {
				return fmt.Errorf("lens: path element %d: non-integer index %v", i, v)
			}
			steps = append(steps, Index(int(v)))
		default:
			return fmt.Errorf("lens: path element %d: unsupported type %T", i, el)
		}
	}
	l.steps = steps
	return nil
}
