// Package feedback couples declarative feedback definitions to registered
// scoring implementations and runs them against recorded executions.
//
// A Feedback is a FeedbackDefinition plus a bound implementation. Derived
// variants (OnInput, OnOutput, On, OnMultiple) always return a new Feedback
// with its own identity; the receiver is never mutated.
package feedback

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashita-ai/hyouka/lens"
	"github.com/ashita-ai/hyouka/model"
	"github.com/ashita-ai/hyouka/pool"
)

// DefaultArg is the argument name used by OnInput and OnOutput when the
// caller does not name one.
const DefaultArg = "text"

// Feedback is an invocable feedback function. Construct with New or derive
// from an existing instance; zero values are not usable.
type Feedback struct {
	model.FeedbackDefinition
	imp Func
}

// New binds an implementation to a selector map and validates the binding:
// every selector key must be one of the implementation's declared
// parameters. Violations fail immediately with a *DefinitionError, never at
// call time. A nil selectors map is allowed; such a Feedback can be called
// directly but not run against a record until selectors are attached via a
// derived variant.
func New(imp Func, selectors map[string]model.Selection) (*Feedback, error) {
	declared := make(map[string]bool, len(imp.Params))
	for _, p := range imp.Params {
		declared[p] = true
	}
	for key := range selectors {
		if !declared[key] {
			return nil, &DefinitionError{Key: key, Func: imp.QualifiedName(), Params: imp.Params}
		}
	}

	def := model.FeedbackDefinition{
		Name:      imp.Name,
		Provider:  imp.Provider,
		Method:    imp.Name,
		Selectors: cloneSelectors(selectors),
	}
	def.ID = model.ObjID("feedback", def)

	return &Feedback{FeedbackDefinition: def, imp: imp}, nil
}

// MustNew is New for statically known bindings; it panics on a definition
// error. Intended for package-level feedback declarations.
func MustNew(imp Func, selectors map[string]model.Selection) *Feedback {
	f, err := New(imp, selectors)
	if err != nil {
		panic(err)
	}
	return f
}

// Call invokes the bound implementation directly with the given arguments.
func (f *Feedback) Call(ctx context.Context, args map[string]any) (any, error) {
	if f.imp.Call == nil {
		return nil, ErrNoImplementation
	}
	return f.imp.Call(ctx, args)
}

// Definition returns the serializable half of the feedback.
func (f *Feedback) Definition() model.FeedbackDefinition {
	return f.FeedbackDefinition
}

// OnInput derives a Feedback whose single argument (default "text") is
// bound to the record's overall input text.
func (f *Feedback) OnInput(arg ...string) (*Feedback, error) {
	return New(f.imp, map[string]model.Selection{argName(arg): model.Input()})
}

// OnOutput derives a Feedback whose single argument (default "text") is
// bound to the record's overall output text.
func (f *Feedback) OnOutput(arg ...string) (*Feedback, error) {
	return New(f.imp, map[string]model.Selection{argName(arg): model.Output()})
}

// On derives a Feedback with the same implementation and the given
// selectors, replacing any existing ones.
func (f *Feedback) On(selectors map[string]model.Selection) (*Feedback, error) {
	return New(f.imp, selectors)
}

func argName(arg []string) string {
	if len(arg) > 0 && arg[0] != "" {
		return arg[0]
	}
	return DefaultArg
}

// OnMultiple derives a Feedback whose implementation fans out over a
// sequence bound to multiarg: one invocation per element is submitted to p,
// each optionally projected through each first, and the per-element scores
// are reduced with agg (Mean when nil). The wrapped implementation keeps the
// original's name and parameter list, so validation and serialization are
// unchanged.
func (f *Feedback) OnMultiple(multiarg string, each *lens.Lens, agg Aggregator, p *pool.Pool) (*Feedback, error) {
	if f.imp.Call == nil {
		return nil, ErrNoImplementation
	}
	if p == nil {
		return nil, fmt.Errorf("feedback: OnMultiple requires a pool")
	}
	if agg == nil {
		agg = Mean
	}

	base := f.imp
	wrapped := base
	wrapped.Call = func(ctx context.Context, args map[string]any) (any, error) {
		multi, err := asSequence(args[multiarg])
		if err != nil {
			return nil, fmt.Errorf("feedback: %s: argument %q: %w", base.QualifiedName(), multiarg, err)
		}

		promises := make([]*pool.Promise, 0, len(multi))
		for _, el := range multi {
			if each != nil {
				el = unwrap(each.Evaluate(el))
			}
			elArgs := make(map[string]any, len(args))
			for k, v := range args {
				elArgs[k] = v
			}
			elArgs[multiarg] = el
			promises = append(promises, p.Submit(func() (any, error) {
				return base.Call(ctx, elArgs)
			}))
		}

		scores := make([]float64, len(promises))
		for i, pr := range promises {
			v, err := pr.Get()
			if err != nil {
				return nil, err
			}
			score, err := toFloat(v)
			if err != nil {
				return nil, fmt.Errorf("feedback: %s: element %d: %w", base.QualifiedName(), i, err)
			}
			scores[i] = score
		}
		return agg(scores), nil
	}

	return New(wrapped, f.Selectors)
}

// OfJSON rehydrates a Feedback from a serialized definition, resolving the
// implementation through the registry.
func OfJSON(raw json.RawMessage, reg *Registry) (*Feedback, error) {
	var def model.FeedbackDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("feedback: decode definition: %w", err)
	}
	imp, ok := reg.Lookup(def.Provider, def.Method)
	if !ok {
		return nil, fmt.Errorf("feedback: no registered implementation %s.%s", def.Provider, def.Method)
	}
	return New(imp, def.Selectors)
}

// asSequence widens the slice types implementations commonly receive into
// []any. Anything else is an error: fan-out requires a sequence.
func asSequence(v any) ([]any, error) {
	switch seq := v.(type) {
	case []any:
		return seq, nil
	case []string:
		out := make([]any, len(seq))
		for i, s := range seq {
			out[i] = s
		}
		return out, nil
	case []float64:
		out := make([]any, len(seq))
		for i, f := range seq {
			out[i] = f
		}
		return out, nil
	case []int:
		out := make([]any, len(seq))
		for i, n := range seq {
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a sequence, got %T", v)
	}
}

func cloneSelectors(selectors map[string]model.Selection) map[string]model.Selection {
	if selectors == nil {
		return nil
	}
	out := make(map[string]model.Selection, len(selectors))
	for k, v := range selectors {
		out[k] = v
	}
	return out
}
