package transform

import (
	"github.com/conneroisu/excerpt/internal/doctree"
)

// DefaultAlwaysKeep lists node types that stay in the tree even when
// they end up without children.
var DefaultAlwaysKeep = []string{
	doctree.TypeHardBreak,
	doctree.TypeRule,
	doctree.TypeInlineCard,
	doctree.TypeBlockCard,
	doctree.TypeEmbedCard,
	doctree.TypeMention,
	doctree.TypeEmoji,
	doctree.TypeDate,
	doctree.TypeStatus,
	doctree.TypeMediaSingle,
	doctree.TypeMedia,
}

// Cleanup returns a copy of tree without empty text nodes and without
// containers that lost all their children to that removal. Containers
// that were already empty, nodes of the always-keep set and the root are
// never removed.
func Cleanup(tree *doctree.Node) *doctree.Node {
	out := doctree.Clone(tree)
	cleanup(out, keepSet(DefaultAlwaysKeep))
	return out
}

func cleanup(tree *doctree.Node, keep map[string]bool) {
	if tree == nil {
		return
	}
	prune(tree, keep)
}

// prune cleans n's subtree and reports whether n itself should stay.
func prune(n *doctree.Node, keep map[string]bool) bool {
	if n.IsText() {
		return n.Text != ""
	}
	if len(n.Content) == 0 {
		return true
	}
	kept := n.Content[:0]
	for _, child := range n.Content {
		if prune(child, keep) {
			kept = append(kept, child)
		}
	}
	for i := len(kept); i < len(n.Content); i++ {
		n.Content[i] = nil
	}
	n.Content = kept
	if len(kept) > 0 {
		return true
	}
	n.Content = nil
	return keep[n.Type]
}

func keepSet(types []string) map[string]bool {
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return set
}
