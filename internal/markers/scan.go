// Package markers finds variable and toggle placeholders in document
// text.
//
// The grammar, inside text node values:
//
//	{{name}}            variable
//	{{toggle:name}}     toggle open
//	{{/toggle:name}}    toggle close, must match the same name
//
// A name is any run of characters other than '}', trimmed and NFC
// normalized. Scanning never fails. Tokens that cannot be paired are
// reported as malformed spans and left for the caller to treat as
// literal text.
package markers

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Kind classifies a scanned token.
type Kind int

const (
	KindVariable Kind = iota
	KindToggleOpen
	KindToggleClose
)

// String returns the token kind name.
func (k Kind) String() string {
	switch k {
	case KindVariable:
		return "variable"
	case KindToggleOpen:
		return "toggle-open"
	case KindToggleClose:
		return "toggle-close"
	default:
		return "unknown"
	}
}

const (
	toggleOpenPrefix  = "toggle:"
	toggleClosePrefix = "/toggle:"
)

// Span is one placeholder token found in a text value. Start and End are
// byte offsets with text[Start:End] == Raw.
type Span struct {
	Kind  Kind
	Name  string
	Start int
	End   int
	Raw   string
}

// NormalizeName trims a placeholder name and puts it in NFC form.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// Scan returns every placeholder token of text in order. A "{{" that is
// not followed by a non-empty run of non-'}' characters and "}}" is not
// a token.
func Scan(text string) []Span {
	var spans []Span
	pos := 0
	for pos < len(text) {
		i := strings.Index(text[pos:], "{{")
		if i < 0 {
			break
		}
		start := pos + i
		bodyStart := start + 2
		j := strings.IndexByte(text[bodyStart:], '}')
		if j <= 0 {
			// "{{}" or no closing brace at all.
			pos = start + 1
			continue
		}
		bodyEnd := bodyStart + j
		if bodyEnd+1 >= len(text) || text[bodyEnd+1] != '}' {
			pos = start + 1
			continue
		}
		end := bodyEnd + 2

		if span, ok := classify(text[bodyStart:bodyEnd]); ok {
			span.Start = start
			span.End = end
			span.Raw = text[start:end]
			spans = append(spans, span)
			pos = end
			continue
		}
		pos = start + 1
	}
	return spans
}

func classify(body string) (Span, bool) {
	name := strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(name, toggleClosePrefix):
		return Span{Kind: KindToggleClose, Name: NormalizeName(name[len(toggleClosePrefix):])}, true
	case strings.HasPrefix(name, toggleOpenPrefix):
		return Span{Kind: KindToggleOpen, Name: NormalizeName(name[len(toggleOpenPrefix):])}, true
	case name == "":
		return Span{}, false
	default:
		return Span{Kind: KindVariable, Name: NormalizeName(name)}, true
	}
}

// Pair is a matched toggle open/close. Open and Close index into the
// span slice the pair was computed from.
type Pair struct {
	Name  string
	Open  int
	Close int
}

// Pairs matches toggle markers within one text value. A close marker
// pairs with the nearest unclosed opener of the same name; openers
// passed over by that match, closers without an opener and openers
// that are never closed are returned as malformed indices. Pairs are
// returned ordered by opener position and are properly nested.
//
// A name opened twice before its closer pairs the closer with the second
// opener, so in {{toggle:a}}x{{toggle:a}}y{{/toggle:a}} only "y" is the
// toggle body and the first opener stays literal.
func Pairs(spans []Span) (pairs []Pair, malformed []int) {
	var stack []int
	for i, s := range spans {
		switch s.Kind {
		case KindToggleOpen:
			if s.Name == "" {
				malformed = append(malformed, i)
				continue
			}
			stack = append(stack, i)
		case KindToggleClose:
			match := -1
			for k := len(stack) - 1; k >= 0; k-- {
				if spans[stack[k]].Name == s.Name {
					match = k
					break
				}
			}
			if match < 0 {
				malformed = append(malformed, i)
				continue
			}
			malformed = append(malformed, stack[match+1:]...)
			pairs = append(pairs, Pair{Name: s.Name, Open: stack[match], Close: i})
			stack = stack[:match]
		}
	}
	malformed = append(malformed, stack...)

	sort.Ints(malformed)
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].Open < pairs[b].Open })
	return pairs, malformed
}
