package transform

import (
	"strings"

	"github.com/conneroisu/excerpt/internal/doctree"
)

// authoringAttrs are identifiers the editor adds that renderers reject.
var authoringAttrs = []string{"localId", "__autoId"}

// nullableTypes may not carry null-valued attributes when rendered.
var nullableTypes = map[string]bool{
	doctree.TypeTable:       true,
	doctree.TypeTableRow:    true,
	doctree.TypeTableCell:   true,
	doctree.TypeTableHeader: true,
	doctree.TypePanel:       true,
	doctree.TypeExpand:      true,
	"nestedExpand":          true,
	"layoutSection":         true,
	"layoutColumn":          true,
}

// SanitizeForRenderer returns a copy of tree without authoring-only
// attributes: internal identifiers and "__" attributes anywhere, and
// null values on table, panel and layout nodes. It must be the last
// pass before a tree is handed to a renderer. It is idempotent.
func SanitizeForRenderer(tree *doctree.Node) *doctree.Node {
	out := doctree.Clone(tree)
	sanitize(out)
	return out
}

func sanitize(tree *doctree.Node) {
	doctree.Walk(tree, func(n, _ *doctree.Node) bool {
		if n.Attrs == nil {
			return true
		}
		for _, key := range authoringAttrs {
			delete(n.Attrs, key)
		}
		nullable := nullableTypes[n.Type]
		for key, v := range n.Attrs {
			if strings.HasPrefix(key, "__") || (nullable && v == nil) {
				delete(n.Attrs, key)
			}
		}
		if len(n.Attrs) == 0 {
			n.Attrs = nil
		}
		return true
	})
}
