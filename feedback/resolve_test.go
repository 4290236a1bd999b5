package feedback_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hyouka/feedback"
	"github.com/ashita-ai/hyouka/lens"
	"github.com/ashita-ai/hyouka/model"
)

func testRecord() *model.Record {
	return &model.Record{
		ID:      "record_1",
		ChainID: "chain_1",
		Input:   "hello",
		Output:  "world",
		Calls: map[string]any{
			"retriever": map[string]any{
				"docs": []any{
					map[string]any{"text": "first"},
					map[string]any{"text": "second"},
				},
			},
		},
	}
}

func testChain() *model.Chain {
	return &model.Chain{
		ID: "chain_1",
		Definition: map[string]any{
			"llm": map[string]any{"model_name": "gpt-4"},
		},
	}
}

func TestResolveSelectionsSentinels(t *testing.T) {
	f, err := feedback.New(
		feedback.Func{
			Provider: "test", Name: "pair", Params: []string{"prompt", "response"},
			Call: func(ctx context.Context, args map[string]any) (any, error) { return 1.0, nil },
		},
		map[string]model.Selection{
			"prompt":   model.Input(),
			"response": model.Output(),
		},
	)
	require.NoError(t, err)

	args, err := f.ResolveSelections(nil, testRecord())
	require.NoError(t, err)
	assert.Equal(t, "hello", args["prompt"])
	assert.Equal(t, "world", args["response"])
}

func TestResolveSelectionsUnwrapRule(t *testing.T) {
	imp := feedback.Func{
		Provider: "test", Name: "ctx", Params: []string{"text"},
		Call: func(ctx context.Context, args map[string]any) (any, error) { return 1.0, nil },
	}

	tests := []struct {
		name string
		sel  model.Selection
		want any
	}{
		{
			"one match unwraps to the scalar",
			model.RecordPath(lens.New(lens.Attr("chain"), lens.Attr("retriever"), lens.Attr("docs"), lens.Index(0), lens.Attr("text"))),
			"first",
		},
		{
			"many matches stay a slice",
			model.RecordPath(lens.New(lens.Attr("chain"), lens.Attr("retriever"), lens.Attr("docs"), lens.All(), lens.Attr("text"))),
			[]any{"first", "second"},
		},
		{
			"zero matches stay an empty slice",
			model.RecordPath(lens.New(lens.Attr("chain"), lens.Attr("missing"))),
			[]any(nil),
		},
		{
			"chain-rooted path",
			model.ChainPath(lens.New(lens.Attr("llm"), lens.Attr("model_name"))),
			"gpt-4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := feedback.New(imp, map[string]model.Selection{"text": tt.sel})
			require.NoError(t, err)

			args, err := f.ResolveSelections(testChain(), testRecord())
			require.NoError(t, err)
			assert.Equal(t, tt.want, args["text"])
		})
	}
}

func TestResolveSelectionsChainRequired(t *testing.T) {
	f, err := feedback.New(
		feedback.Func{
			Provider: "test", Name: "ctx", Params: []string{"text"},
			Call: func(ctx context.Context, args map[string]any) (any, error) { return 1.0, nil },
		},
		map[string]model.Selection{
			"text": model.ChainPath(lens.New(lens.Attr("llm"))),
		},
	)
	require.NoError(t, err)

	_, err = f.ResolveSelections(nil, testRecord())
	var selErr *feedback.SelectionError
	require.ErrorAs(t, err, &selErr)
	assert.Equal(t, "text", selErr.Arg)
}

func TestResolveSelectionsUnknownRoot(t *testing.T) {
	f, err := feedback.New(
		feedback.Func{
			Provider: "test", Name: "ctx", Params: []string{"text"},
			Call: func(ctx context.Context, args map[string]any) (any, error) { return 1.0, nil },
		},
		map[string]model.Selection{
			"text": {Root: model.SelectionRoot("bogus")},
		},
	)
	require.NoError(t, err)

	_, err = f.ResolveSelections(testChain(), testRecord())
	var selErr *feedback.SelectionError
	require.ErrorAs(t, err, &selErr)
}
