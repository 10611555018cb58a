package transform

import (
	"sort"
	"strings"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/markers"
)

// FilterToggles returns a copy of tree with every matched toggle region
// resolved. An enabled region keeps its body and loses its markers; a
// disabled or unknown one is removed together with its markers.
// Markers that cannot be paired inside their text node stay literal.
func FilterToggles(tree *doctree.Node, states map[string]bool) *doctree.Node {
	out := doctree.Clone(tree)
	filterToggles(out, normalizeStates(states))
	return out
}

func filterToggles(tree *doctree.Node, states map[string]bool) {
	for _, n := range doctree.TextNodes(tree) {
		if strings.Contains(n.Text, "toggle:") {
			n.Text = filterText(n.Text, states)
		}
	}
}

// cut is a byte range [start, end) to delete from a text value.
type cut struct {
	start, end int
}

func filterText(text string, states map[string]bool) string {
	spans := markers.Scan(text)
	pairs, _ := markers.Pairs(spans)
	if len(pairs) == 0 {
		return text
	}

	cuts := make([]cut, 0, 2*len(pairs))
	for _, p := range pairs {
		opener, closer := spans[p.Open], spans[p.Close]
		if states[p.Name] {
			cuts = append(cuts, cut{opener.Start, opener.End}, cut{closer.Start, closer.End})
		} else {
			cuts = append(cuts, cut{opener.Start, closer.End})
		}
	}
	return applyCuts(text, cuts)
}

// applyCuts deletes the union of cuts from text.
func applyCuts(text string, cuts []cut) string {
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].start < cuts[j].start })

	var b strings.Builder
	b.Grow(len(text))
	pos := 0
	for _, c := range cuts {
		if c.end <= pos {
			continue
		}
		if c.start > pos {
			b.WriteString(text[pos:c.start])
		}
		pos = c.end
	}
	b.WriteString(text[pos:])
	return b.String()
}

func normalizeStates(states map[string]bool) map[string]bool {
	out := make(map[string]bool, len(states))
	for k, v := range states {
		out[markers.NormalizeName(k)] = v
	}
	return out
}
