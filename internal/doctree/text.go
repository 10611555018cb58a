package doctree

import (
	"strings"
)

// blockTypes are separated by a newline in the plain-text projection.
var blockTypes = map[string]bool{
	TypeParagraph:   true,
	TypeHeading:     true,
	TypeListItem:    true,
	TypeCodeBlock:   true,
	TypeBlockquote:  true,
	TypeTableRow:    true,
	TypePanel:       true,
	TypeRule:        true,
	TypeBulletList:  true,
	TypeOrderedList: true,
	TypeTable:       true,
	TypeExpand:      true,
}

// PlainText flattens a tree into text. Block nodes are separated by a
// single newline, hard breaks become newlines, table cells are separated
// by a tab.
func PlainText(n *Node) string {
	var lines []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			lines = append(lines, cur.String())
			cur.Reset()
		}
	}

	var visit func(node *Node, inCell bool)
	visit = func(node *Node, inCell bool) {
		switch {
		case node == nil:
			return
		case node.IsText():
			cur.WriteString(node.Text)
			return
		case node.Type == TypeHardBreak:
			cur.WriteString("\n")
			return
		case node.Type == TypeTableCell || node.Type == TypeTableHeader:
			if cur.Len() > 0 {
				cur.WriteString("\t")
			}
			for _, child := range node.Content {
				visit(child, true)
			}
			return
		}

		block := blockTypes[node.Type] && !inCell
		if block {
			flush()
		}
		for _, child := range node.Content {
			visit(child, inCell)
		}
		if block {
			flush()
		}
	}
	visit(n, false)
	flush()

	return strings.Join(lines, "\n")
}

// FromText builds a document from plain text. Each non-empty line
// becomes one paragraph; blank lines are dropped.
func FromText(text string) *Node {
	doc := NewDoc()
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		doc.Content = append(doc.Content, NewParagraph(NewText(line)))
	}
	return doc
}
