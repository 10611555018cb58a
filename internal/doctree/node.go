// Package doctree models the structured rich-text documents that Sources
// are authored in and Includes are rendered to.
//
// A document is a tree of Nodes. Only nodes of type "text" carry literal
// text; every other node nests children through Content. The JSON form
// is the wire format shared with the page host:
//
//	{"type":"doc","content":[{"type":"paragraph","content":[{"type":"text","text":"Hello"}]}]}
package doctree

import (
	"encoding/json"
	"fmt"
)

// Well-known node types.
const (
	TypeDoc         = "doc"
	TypeText        = "text"
	TypeParagraph   = "paragraph"
	TypeHeading     = "heading"
	TypeHardBreak   = "hardBreak"
	TypeRule        = "rule"
	TypeBulletList  = "bulletList"
	TypeOrderedList = "orderedList"
	TypeListItem    = "listItem"
	TypeBlockquote  = "blockquote"
	TypeCodeBlock   = "codeBlock"
	TypeTable       = "table"
	TypeTableRow    = "tableRow"
	TypeTableCell   = "tableCell"
	TypeTableHeader = "tableHeader"
	TypePanel       = "panel"
	TypeExpand      = "expand"
	TypeInlineCard  = "inlineCard"
	TypeBlockCard   = "blockCard"
	TypeEmbedCard   = "embedCard"
	TypeMention     = "mention"
	TypeEmoji       = "emoji"
	TypeDate        = "date"
	TypeStatus      = "status"
	TypeMedia       = "media"
	TypeMediaSingle = "mediaSingle"
)

// Node is one element of a document tree.
type Node struct {
	Type    string                 `json:"type" yaml:"type"`
	Text    string                 `json:"text,omitempty" yaml:"text,omitempty"`
	Marks   []Mark                 `json:"marks,omitempty" yaml:"marks,omitempty"`
	Attrs   map[string]interface{} `json:"attrs,omitempty" yaml:"attrs,omitempty"`
	Content []*Node                `json:"content,omitempty" yaml:"content,omitempty"`
}

// Mark is inline formatting applied to a text node.
type Mark struct {
	Type  string                 `json:"type" yaml:"type"`
	Attrs map[string]interface{} `json:"attrs,omitempty" yaml:"attrs,omitempty"`
}

// IsText reports whether n is a text node.
func (n *Node) IsText() bool {
	return n != nil && n.Type == TypeText
}

// NewDoc returns a document node holding blocks.
func NewDoc(blocks ...*Node) *Node {
	return &Node{Type: TypeDoc, Content: blocks}
}

// NewParagraph returns a paragraph holding inline nodes.
func NewParagraph(inline ...*Node) *Node {
	return &Node{Type: TypeParagraph, Content: inline}
}

// NewText returns a text node.
func NewText(text string, marks ...Mark) *Node {
	return &Node{Type: TypeText, Text: text, Marks: marks}
}

// Clone returns a deep copy of n. Attribute values that are maps or
// slices are copied as well.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Type:  n.Type,
		Text:  n.Text,
		Attrs: cloneAttrs(n.Attrs),
	}
	if n.Marks != nil {
		c.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			c.Marks[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
		}
	}
	if n.Content != nil {
		c.Content = make([]*Node, 0, len(n.Content))
		for _, child := range n.Content {
			if child == nil {
				continue
			}
			c.Content = append(c.Content, Clone(child))
		}
	}
	return c
}

// CloneMarks copies a mark slice.
func CloneMarks(marks []Mark) []Mark {
	if marks == nil {
		return nil
	}
	out := make([]Mark, len(marks))
	for i, m := range marks {
		out[i] = Mark{Type: m.Type, Attrs: cloneAttrs(m.Attrs)}
	}
	return out
}

func cloneAttrs(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return nil
	}
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return cloneAttrs(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Walk visits n and its descendants depth-first in document order. The
// visitor receives each node and its parent (nil for n). Returning false
// skips the node's children.
func Walk(n *Node, visit func(node, parent *Node) bool) {
	walk(n, nil, visit)
}

func walk(n, parent *Node, visit func(node, parent *Node) bool) {
	if n == nil {
		return
	}
	if !visit(n, parent) {
		return
	}
	for _, child := range n.Content {
		walk(child, n, visit)
	}
}

// TextNodes returns every text node under n in document order.
func TextNodes(n *Node) []*Node {
	var out []*Node
	Walk(n, func(node, _ *Node) bool {
		if node.IsText() {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Parse decodes a JSON document tree.
func Parse(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("decoding document tree: %w", err)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("decoding document tree: root node has no type")
	}
	return &n, nil
}

// Marshal encodes a document tree as JSON.
func Marshal(n *Node) ([]byte, error) {
	return json.Marshal(n)
}

// Equal reports whether two trees encode to the same JSON.
func Equal(a, b *Node) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}
