package model

import (
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/hyouka/lens"
)

// SelectionRoot names the object a selection is evaluated against.
type SelectionRoot string

const (
	// RootInput is the sentinel for the record's overall input text.
	RootInput SelectionRoot = "input"
	// RootOutput is the sentinel for the record's overall output text.
	RootOutput SelectionRoot = "output"
	// RootRecord roots a lens path at the record layout.
	RootRecord SelectionRoot = "record"
	// RootChain roots a lens path at the chain description layout.
	RootChain SelectionRoot = "chain"
)

// Selection binds one implementation argument to a location in a record or
// chain: either a root-text sentinel, or a lens path evaluated against the
// record or chain layout.
type Selection struct {
	Root SelectionRoot
	Path lens.Lens // meaningful only for RootRecord / RootChain
}

// Input selects the record's overall input text.
func Input() Selection { return Selection{Root: RootInput} }

// Output selects the record's overall output text.
func Output() Selection { return Selection{Root: RootOutput} }

// RecordPath selects via a lens rooted at the record layout.
func RecordPath(l lens.Lens) Selection { return Selection{Root: RootRecord, Path: l} }

// ChainPath selects via a lens rooted at the chain description layout.
func ChainPath(l lens.Lens) Selection { return Selection{Root: RootChain, Path: l} }

// MarshalJSON encodes sentinels as bare strings and lens selections as a
// path array whose first element names the root.
func (s Selection) MarshalJSON() ([]byte, error) {
	switch s.Root {
	case RootInput, RootOutput:
		return json.Marshal(string(s.Root))
	case RootRecord, RootChain:
		prefixed := lens.New(lens.Attr(string(s.Root))).Append(s.Path.Steps()...)
		return prefixed.MarshalJSON()
	default:
		return nil, fmt.Errorf("model: selection has unknown root %q", s.Root)
	}
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var sentinel string
	if err := json.Unmarshal(data, &sentinel); err == nil {
		switch SelectionRoot(sentinel) {
		case RootInput, RootOutput:
			s.Root = SelectionRoot(sentinel)
			s.Path = lens.Lens{}
			return nil
		default:
			return fmt.Errorf("model: unknown selection sentinel %q", sentinel)
		}
	}

	var l lens.Lens
	if err := l.UnmarshalJSON(data); err != nil {
		return fmt.Errorf("model: decode selection: %w", err)
	}
	first, ok := l.First()
	if !ok || first.Kind != lens.KindAttr {
		return fmt.Errorf("model: selection path %v does not name a root", l)
	}
	switch SelectionRoot(first.Attr) {
	case RootRecord, RootChain:
		s.Root = SelectionRoot(first.Attr)
		s.Path = l.Rest()
		return nil
	default:
		return fmt.Errorf("model: selection path rooted at unknown object %q", first.Attr)
	}
}
