package feedback

import (
	"github.com/ashita-ai/hyouka/model"
)

// ResolveSelections maps each selector to a concrete value from the record
// or chain. Root-text sentinels take the record's overall input/output text
// directly. Lens selections evaluate against the layout named by their root.
// Exactly one match unwraps to the scalar; zero or many matches pass through
// as the match slice unchanged — callers must tolerate both.
func (f *Feedback) ResolveSelections(chain *model.Chain, record *model.Record) (map[string]any, error) {
	args := make(map[string]any, len(f.Selectors))
	for arg, sel := range f.Selectors {
		switch sel.Root {
		case model.RootInput:
			args[arg] = record.Input
		case model.RootOutput:
			args[arg] = record.Output
		case model.RootRecord:
			args[arg] = unwrap(sel.Path.Evaluate(record.Layout()))
		case model.RootChain:
			if chain == nil {
				return nil, &SelectionError{Arg: arg, Reason: "chain-rooted selection but no chain provided"}
			}
			args[arg] = unwrap(sel.Path.Evaluate(chain.Layout()))
		default:
			return nil, &SelectionError{Arg: arg, Reason: "selection names neither the record nor the chain root"}
		}
	}
	return args, nil
}

// unwrap applies the match-unwrapping rule: one match becomes the scalar,
// anything else stays a slice.
func unwrap(matches []any) any {
	if len(matches) == 1 {
		return matches[0]
	}
	return matches
}
