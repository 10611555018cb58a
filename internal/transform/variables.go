package transform

import (
	"github.com/conneroisu/excerpt/internal/doctree"
	"github.com/conneroisu/excerpt/internal/markers"
)

// DefaultUnresolvedMark is carried by a variable token that has no value
// so it stands out in the rendered document.
var DefaultUnresolvedMark = doctree.Mark{
	Type:  "textColor",
	Attrs: map[string]interface{}{"color": "#de350b"},
}

// SubstituteVariables returns a copy of tree with every {{name}} token
// replaced by its non-empty value. A token without a value keeps its
// exact bytes in a text node of its own carrying DefaultUnresolvedMark.
func SubstituteVariables(tree *doctree.Node, values map[string]string) *doctree.Node {
	out := doctree.Clone(tree)
	sub := &substituter{values: normalizeValues(values), mark: DefaultUnresolvedMark}
	sub.apply(out)
	return out
}

type substituter struct {
	values     map[string]string
	mark       doctree.Mark
	unresolved []string
	seen       map[string]bool
}

func (s *substituter) apply(n *doctree.Node) {
	if n == nil || len(n.Content) == 0 {
		return
	}
	var content []*doctree.Node
	changed := false
	for i, child := range n.Content {
		if !child.IsText() {
			s.apply(child)
			if changed {
				content = append(content, child)
			}
			continue
		}
		pieces := s.split(child)
		if len(pieces) == 1 && pieces[0] == child {
			if changed {
				content = append(content, child)
			}
			continue
		}
		if !changed {
			content = append(content, n.Content[:i]...)
			changed = true
		}
		content = append(content, pieces...)
	}
	if changed {
		n.Content = content
	}
}

// split substitutes the variables of one text node. It returns the node
// itself, updated in place, unless an unresolved token forces a split.
func (s *substituter) split(n *doctree.Node) []*doctree.Node {
	spans := markers.Scan(n.Text)
	if len(spans) == 0 {
		return []*doctree.Node{n}
	}

	var pieces []*doctree.Node
	buf := make([]byte, 0, len(n.Text))
	flush := func() {
		if len(buf) > 0 {
			pieces = append(pieces, doctree.NewText(string(buf), doctree.CloneMarks(n.Marks)...))
			buf = buf[:0]
		}
	}

	pos := 0
	for _, sp := range spans {
		if sp.Kind != markers.KindVariable {
			continue
		}
		buf = append(buf, n.Text[pos:sp.Start]...)
		pos = sp.End
		if v := s.values[sp.Name]; v != "" {
			buf = append(buf, v...)
			continue
		}
		s.record(sp.Name)
		flush()
		pieces = append(pieces, doctree.NewText(sp.Raw, withMark(n.Marks, s.mark)...))
	}
	buf = append(buf, n.Text[pos:]...)

	if len(pieces) == 0 {
		n.Text = string(buf)
		return []*doctree.Node{n}
	}
	flush()
	return pieces
}

func (s *substituter) record(name string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if !s.seen[name] {
		s.seen[name] = true
		s.unresolved = append(s.unresolved, name)
	}
}

// withMark copies marks and sets m, replacing any mark of the same type.
func withMark(marks []doctree.Mark, m doctree.Mark) []doctree.Mark {
	out := make([]doctree.Mark, 0, len(marks)+1)
	for _, existing := range doctree.CloneMarks(marks) {
		if existing.Type != m.Type {
			out = append(out, existing)
		}
	}
	return append(out, doctree.CloneMarks([]doctree.Mark{m})...)
}

func normalizeValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[markers.NormalizeName(k)] = v
	}
	return out
}
