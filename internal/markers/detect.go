package markers

import (
	"strings"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/types"
)

// DetectVariables returns the names of every {{name}} token in the text
// nodes of tree, de-duplicated in first-seen order. Toggle markers are
// structural and never reported.
func DetectVariables(tree *doctree.Node) []string {
	var names []string
	seen := make(map[string]bool)
	for _, n := range doctree.TextNodes(tree) {
		for _, s := range Scan(n.Text) {
			if s.Kind != KindVariable || seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	return names
}

// DetectToggles returns the unique names of opening toggle markers in
// first-seen order.
func DetectToggles(tree *doctree.Node) []string {
	var names []string
	seen := make(map[string]bool)
	for _, n := range doctree.TextNodes(tree) {
		for _, s := range Scan(n.Text) {
			if s.Kind != KindToggleOpen || s.Name == "" || seen[s.Name] {
				continue
			}
			seen[s.Name] = true
			names = append(names, s.Name)
		}
	}
	return names
}

// Malformed is a toggle marker that could not be paired inside its text
// node. Node is the index of the text node in document order.
type Malformed struct {
	Node int
	Span Span
}

// Report is the data pass over a whole tree.
type Report struct {
	Variables []string
	Toggles   []string
	Malformed []Malformed
}

// Analyze scans every text node of tree once and returns the detected
// schema along with the markers a render will leave as literal text.
func Analyze(tree *doctree.Node) Report {
	r := Report{
		Variables: DetectVariables(tree),
		Toggles:   DetectToggles(tree),
	}
	for i, n := range doctree.TextNodes(tree) {
		if !strings.Contains(n.Text, "toggle:") {
			continue
		}
		spans := Scan(n.Text)
		_, bad := Pairs(spans)
		for _, idx := range bad {
			r.Malformed = append(r.Malformed, Malformed{Node: i, Span: spans[idx]})
		}
	}
	return r
}

// MergeVariables builds a variable schema in the order of names, keeping
// the description and example a curator entered for names already in
// prev. Names no longer detected are dropped.
func MergeVariables(prev []types.VariableDef, names []string) []types.VariableDef {
	known := make(map[string]types.VariableDef, len(prev))
	for _, v := range prev {
		known[NormalizeName(v.Name)] = v
	}
	out := make([]types.VariableDef, 0, len(names))
	for _, name := range names {
		def, ok := known[name]
		if !ok {
			def = types.VariableDef{}
		}
		def.Name = name
		out = append(out, def)
	}
	return out
}

// MergeToggles is MergeVariables for toggles.
func MergeToggles(prev []types.ToggleDef, names []string) []types.ToggleDef {
	known := make(map[string]types.ToggleDef, len(prev))
	for _, t := range prev {
		known[NormalizeName(t.Name)] = t
	}
	out := make([]types.ToggleDef, 0, len(names))
	for _, name := range names {
		def := known[name]
		def.Name = name
		out = append(out, def)
	}
	return out
}

// Schema regenerates the variable and toggle schema of a Source from its
// content.
func Schema(src *types.Source) ([]types.VariableDef, []types.ToggleDef) {
	return MergeVariables(src.Variables, DetectVariables(src.Content)),
		MergeToggles(src.Toggles, DetectToggles(src.Content))
}
