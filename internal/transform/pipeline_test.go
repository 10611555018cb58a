package transform

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/types"
)

const greeting = "Hello {{name}}, {{toggle:vip}}you get VIP access{{/toggle:vip}}!"

func paragraphs(lines ...string) *doctree.Node {
	d := doctree.NewDoc()
	for _, l := range lines {
		d.Content = append(d.Content, doctree.NewParagraph(doctree.NewText(l)))
	}
	return d
}

func texts(tree *doctree.Node) []string {
	var out []string
	for _, n := range doctree.TextNodes(tree) {
		out = append(out, n.Text)
	}
	return out
}

func TestRenderGreeting(t *testing.T) {
	tests := []struct {
		name     string
		toggles  map[string]bool
		expected string
	}{
		{"vip disabled", map[string]bool{"vip": false}, "Hello Ana, !"},
		{"vip enabled", map[string]bool{"vip": true}, "Hello Ana, you get VIP access!"},
		{"vip absent", nil, "Hello Ana, !"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Render(paragraphs(greeting), types.Settings{
				VariableValues: map[string]string{"name": "Ana"},
				ToggleStates:   tt.toggles,
			})
			assert.Equal(t, tt.expected, doctree.PlainText(res.Content))
			assert.Empty(t, res.Unresolved)
		})
	}
}

func TestRenderDoesNotMutateInput(t *testing.T) {
	src := paragraphs(greeting, "{{other}}")
	src.Content[0].Attrs = map[string]interface{}{"localId": "abc"}
	before, err := json.Marshal(src)
	require.NoError(t, err)

	Render(src, types.Settings{
		ToggleStates:     map[string]bool{"vip": true},
		CustomInsertions: []types.CustomInsertion{{Position: 0, Text: "extra"}},
	})

	after, err := json.Marshal(src)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestRenderUnresolvedSkipsDisabledToggles(t *testing.T) {
	src := paragraphs("{{toggle:extra}}Call {{phone}}{{/toggle:extra}}{{name}} and {{name}}")

	res := Render(src, types.Settings{})
	assert.Equal(t, []string{"name"}, res.Unresolved)

	res = Render(src, types.Settings{ToggleStates: map[string]bool{"extra": true}})
	assert.Equal(t, []string{"phone", "name"}, res.Unresolved)
}

func TestRenderRemovesParagraphEmptiedByToggle(t *testing.T) {
	src := paragraphs("{{toggle:x}}only this{{/toggle:x}}", "stays")
	res := Render(src, types.Settings{})
	require.Len(t, res.Content.Content, 1)
	assert.Equal(t, []string{"stays"}, texts(res.Content))
}

func TestRenderInsertionOrdinalsAgainstOriginal(t *testing.T) {
	src := paragraphs("{{toggle:x}}gone{{/toggle:x}}", "a", "b")

	tests := []struct {
		name     string
		position int
		expected []string
	}{
		{"after surviving paragraph", 1, []string{"a", "ins", "b"}},
		{"removed paragraph falls back to start", 0, []string{"ins", "a", "b"}},
		{"last paragraph", 2, []string{"a", "b", "ins"}},
		{"past the end", 9, []string{"a", "b", "ins"}},
		{"negative", -1, []string{"ins", "a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Render(src, types.Settings{
				CustomInsertions: []types.CustomInsertion{{Position: tt.position, Text: "ins"}},
			})
			assert.Equal(t, tt.expected, texts(res.Content))
		})
	}
}

func TestRenderInsertionAfterRemovedMiddleParagraph(t *testing.T) {
	src := paragraphs("a", "{{toggle:x}}gone{{/toggle:x}}", "c")
	res := Render(src, types.Settings{
		CustomInsertions: []types.CustomInsertion{
			{Position: 2, Text: "two"},
			{Position: 1, Text: "one"},
		},
	})
	assert.Equal(t, []string{"a", "one", "c", "two"}, texts(res.Content))
}

func TestRenderStripsOrdinalTags(t *testing.T) {
	res := Render(paragraphs("a", "b"), types.Settings{
		CustomInsertions: []types.CustomInsertion{{Position: 0, Text: "x"}},
	})
	doctree.Walk(res.Content, func(n, _ *doctree.Node) bool {
		assert.NotContains(t, n.Attrs, ordinalAttr)
		return true
	})
}

func TestRenderNilContent(t *testing.T) {
	res := Render(nil, types.Settings{})
	require.NotNil(t, res.Content)
	assert.Equal(t, doctree.TypeDoc, res.Content.Type)
}

func TestPipelineCustomMark(t *testing.T) {
	p := New(Options{UnresolvedMark: doctree.Mark{Type: "highlight"}})
	res := p.Render(context.Background(), paragraphs("{{x}}"), types.Settings{})

	nodes := doctree.TextNodes(res.Content)
	require.Len(t, nodes, 1)
	assert.Equal(t, []doctree.Mark{{Type: "highlight"}}, nodes[0].Marks)
}

func TestPipelineCustomAlwaysKeep(t *testing.T) {
	src := doctree.NewDoc(&doctree.Node{
		Type:    doctree.TypePanel,
		Content: []*doctree.Node{doctree.NewText("{{toggle:x}}a{{/toggle:x}}")},
	})

	gone := New(Options{}).FilterToggles(src, nil)
	assert.Empty(t, gone.Content)

	kept := New(Options{AlwaysKeep: []string{doctree.TypePanel}}).FilterToggles(src, nil)
	require.Len(t, kept.Content, 1)
	assert.Equal(t, doctree.TypePanel, kept.Content[0].Type)
}

func TestPipelineSubstituteVariables(t *testing.T) {
	out, unresolved := New(Options{}).SubstituteVariables(paragraphs("{{a}}{{b}}", "{{c}}"), map[string]string{"a": "x", "c": ""})
	assert.Equal(t, []string{"x", "{{b}}", "{{c}}"}, texts(out))
	assert.Equal(t, []string{"b", "c"}, unresolved)
}
