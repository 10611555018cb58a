package doctree

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/conneroisu/excerpt/internal/validation"
)

var elementFor = map[string]atom.Atom{
	TypeParagraph:   atom.P,
	TypeBulletList:  atom.Ul,
	TypeOrderedList: atom.Ol,
	TypeListItem:    atom.Li,
	TypeBlockquote:  atom.Blockquote,
	TypeHardBreak:   atom.Br,
	TypeRule:        atom.Hr,
	TypeTable:       atom.Table,
	TypeTableRow:    atom.Tr,
	TypeTableCell:   atom.Td,
	TypeTableHeader: atom.Th,
}

var markElement = map[string]atom.Atom{
	"strong":    atom.Strong,
	"em":        atom.Em,
	"code":      atom.Code,
	"strike":    atom.S,
	"underline": atom.U,
	"link":      atom.A,
	"textColor": atom.Span,
}

// RenderHTML writes n as an HTML fragment. The doc root itself emits no
// element. Unknown node types become a div (block) carrying a
// data-type attribute so nothing is silently dropped.
func RenderHTML(w io.Writer, n *Node) error {
	if n == nil {
		return nil
	}
	var roots []*html.Node
	if n.Type == TypeDoc {
		for _, child := range n.Content {
			roots = append(roots, toHTML(child))
		}
	} else {
		roots = append(roots, toHTML(n))
	}
	for _, r := range roots {
		if r == nil {
			continue
		}
		if err := html.Render(w, r); err != nil {
			return fmt.Errorf("rendering html: %w", err)
		}
	}
	return nil
}

// HTMLString is RenderHTML into a string.
func HTMLString(n *Node) (string, error) {
	var buf bytes.Buffer
	if err := RenderHTML(&buf, n); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func toHTML(n *Node) *html.Node {
	if n == nil {
		return nil
	}
	if n.IsText() {
		return textToHTML(n)
	}

	var el *html.Node
	switch n.Type {
	case TypeHeading:
		el = element(headingAtom(n.Attrs["level"]))
	case TypeCodeBlock:
		pre := element(atom.Pre)
		code := element(atom.Code)
		pre.AppendChild(code)
		for _, child := range n.Content {
			if c := toHTML(child); c != nil {
				code.AppendChild(c)
			}
		}
		return pre
	case TypePanel:
		el = element(atom.Div, html.Attribute{Key: "class", Val: "panel"})
		if pt, ok := n.Attrs["panelType"].(string); ok && pt != "" {
			el.Attr = append(el.Attr, html.Attribute{Key: "data-panel-type", Val: pt})
		}
	default:
		if a, ok := elementFor[n.Type]; ok {
			el = element(a)
		} else {
			el = element(atom.Div, html.Attribute{Key: "data-type", Val: n.Type})
		}
	}

	for _, child := range n.Content {
		if c := toHTML(child); c != nil {
			el.AppendChild(c)
		}
	}
	return el
}

func textToHTML(n *Node) *html.Node {
	out := &html.Node{Type: html.TextNode, Data: n.Text}
	// Innermost mark first so the first mark ends up outermost.
	for i := len(n.Marks) - 1; i >= 0; i-- {
		m := n.Marks[i]
		a, ok := markElement[m.Type]
		if !ok {
			a = atom.Span
		}
		wrap := element(a)
		switch m.Type {
		case "link":
			// A rejected target keeps the anchor without an href.
			if href, ok := m.Attrs["href"].(string); ok && validation.ValidateHref(href) == nil {
				wrap.Attr = append(wrap.Attr, html.Attribute{Key: "href", Val: href})
			}
		case "textColor":
			if color, ok := m.Attrs["color"].(string); ok && validation.ValidateColor(color) == nil {
				wrap.Attr = append(wrap.Attr, html.Attribute{Key: "style", Val: "color: " + color})
			}
		default:
			if !ok {
				wrap.Attr = append(wrap.Attr, html.Attribute{Key: "data-mark", Val: m.Type})
			}
		}
		wrap.AppendChild(out)
		out = wrap
	}
	return out
}

func headingAtom(level interface{}) atom.Atom {
	var l int
	switch v := level.(type) {
	case int:
		l = v
	case float64:
		l = int(v)
	}
	switch l {
	case 1:
		return atom.H1
	case 3:
		return atom.H3
	case 4:
		return atom.H4
	case 5:
		return atom.H5
	case 6:
		return atom.H6
	default:
		return atom.H2
	}
}
