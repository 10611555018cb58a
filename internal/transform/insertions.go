package transform

import (
	"sort"
	"strings"

	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/types"
)

// ordinalAttr tags a top-level paragraph with its index among the
// paragraphs of the original Source content. SanitizeForRenderer strips
// it with every other "__" attribute.
const ordinalAttr = "__ordinal"

// InsertCustomFragments returns a copy of tree with a paragraph added
// for each insertion. The top-level paragraphs of tree are numbered from
// 0 and an insertion lands right after the paragraph whose number equals
// its Position, in list order for ties. Positions past the last
// paragraph append at the end of the document; negative positions
// insert at the start.
func InsertCustomFragments(tree *doctree.Node, insertions []types.CustomInsertion) *doctree.Node {
	out := doctree.Clone(tree)
	if out == nil || len(insertions) == 0 {
		return out
	}
	ords, count := receivedOrdinals(out)
	insert(out, insertions, ords, count)
	return out
}

// receivedOrdinals numbers the top-level paragraphs of tree. Non
// paragraph children get -1.
func receivedOrdinals(tree *doctree.Node) ([]int, int) {
	ords := make([]int, len(tree.Content))
	count := 0
	for i, child := range tree.Content {
		ords[i] = -1
		if child.Type == doctree.TypeParagraph {
			ords[i] = count
			count++
		}
	}
	return ords, count
}

// taggedOrdinals reads the ordinals recorded by tagOrdinals. The count
// is the number of paragraphs the original content had.
func taggedOrdinals(tree *doctree.Node, originalCount int) ([]int, int) {
	ords := make([]int, len(tree.Content))
	for i, child := range tree.Content {
		ords[i] = -1
		if child.Type != doctree.TypeParagraph {
			continue
		}
		if v, ok := child.Attrs[ordinalAttr].(int); ok {
			ords[i] = v
		}
	}
	return ords, originalCount
}

// tagOrdinals records the paragraph ordinals of the original content on
// tree and returns the paragraph count.
func tagOrdinals(tree *doctree.Node) int {
	count := 0
	for _, child := range tree.Content {
		if child.Type != doctree.TypeParagraph {
			continue
		}
		if child.Attrs == nil {
			child.Attrs = make(map[string]interface{}, 1)
		}
		child.Attrs[ordinalAttr] = count
		count++
	}
	return count
}

func insert(tree *doctree.Node, insertions []types.CustomInsertion, ords []int, count int) {
	sorted := make([]types.CustomInsertion, len(insertions))
	copy(sorted, insertions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Position < sorted[j].Position })

	// Slot -1 is the document start, len(tree.Content) the end, any other
	// slot i means right after tree.Content[i].
	end := len(tree.Content)
	slots := make(map[int][]*doctree.Node)
	for _, ins := range sorted {
		slot := end
		switch {
		case ins.Position < 0:
			slot = -1
		case ins.Position < count:
			slot = -1
			for i, ord := range ords {
				if ord >= 0 && ord <= ins.Position {
					slot = i
				}
			}
		}
		slots[slot] = append(slots[slot], fragment(ins.Text))
	}

	content := make([]*doctree.Node, 0, len(tree.Content)+len(insertions))
	content = append(content, slots[-1]...)
	for i, child := range tree.Content {
		content = append(content, child)
		content = append(content, slots[i]...)
	}
	content = append(content, slots[end]...)
	tree.Content = content
}

// fragment builds the paragraph for one insertion. Line breaks in text
// become hard breaks.
func fragment(text string) *doctree.Node {
	p := doctree.NewParagraph()
	for i, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if i > 0 {
			p.Content = append(p.Content, &doctree.Node{Type: doctree.TypeHardBreak})
		}
		if line != "" {
			p.Content = append(p.Content, doctree.NewText(line))
		}
	}
	return p
}
