// Package segment splits text and markup into typed, bounded-length speech
// segments.
package segment

import (
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/unicode/norm"
)

// MaxSegmentLength is the packing target for a segment, in characters. A
// single sentence longer than this is emitted whole.
const MaxSegmentLength = 500

// Type classifies the block a segment came from.
type Type string

const (
	TypeHeading   Type = "heading"
	TypeParagraph Type = "paragraph"
	TypeList      Type = "list"
	TypeQuote     Type = "quote"
	TypeText      Type = "text"
)

// Pause returns the silence to leave after a segment of this type.
func (t Type) Pause() time.Duration {
	switch t {
	case TypeHeading:
		return 1000 * time.Millisecond
	case TypeParagraph:
		return 800 * time.Millisecond
	case TypeList:
		return 400 * time.Millisecond
	case TypeQuote:
		return 600 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

// Segment is one speakable unit of text.
type Segment struct {
	Text  string        `json:"text"`
	Type  Type          `json:"type"`
	Level int           `json:"level,omitempty"`
	Pause time.Duration `json:"pauseDuration"`
}

// block is a run of visible text attributed to its nearest block element.
type block struct {
	typ   Type
	level int
	text  strings.Builder
}

// ParseHTML segments markup. Input without block-level elements is treated
// as a single paragraph.
func ParseHTML(markup string) []Segment {
	if strings.TrimSpace(markup) == "" {
		return nil
	}

	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		// html.Parse only fails on reader errors
		return ParseText(markup)
	}
	if !hasBlock(doc) {
		doc, err = html.Parse(strings.NewReader("<p>" + markup + "</p>"))
		if err != nil {
			return ParseText(markup)
		}
	}

	w := &walker{}
	w.cur = &block{typ: TypeText}
	w.walk(doc, w.cur)
	w.flush()

	var segments []Segment
	for _, b := range w.blocks {
		segments = append(segments, pack(b.text.String(), b.typ, b.level)...)
	}
	if len(segments) == 0 {
		return ParseText(visibleText(doc))
	}
	return segments
}

// ParseText segments plain text. Every segment has type text.
func ParseText(text string) []Segment {
	return pack(text, TypeText, 0)
}

type walker struct {
	blocks []*block
	cur    *block
}

func (w *walker) walk(n *html.Node, ctx *block) {
	switch n.Type {
	case html.TextNode:
		w.cur.text.WriteString(n.Data)
		return
	case html.ElementNode:
		if skipped(n.DataAtom) {
			return
		}
		if n.DataAtom == atom.Br {
			w.cur.text.WriteByte(' ')
			return
		}
		if typ, level, ok := classify(n, ctx); ok {
			w.flush()
			inner := &block{typ: typ, level: level}
			w.cur = inner
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				w.walk(c, inner)
			}
			w.flush()
			w.cur = &block{typ: ctx.typ, level: ctx.level}
			return
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c, ctx)
	}
}

// flush closes the current text run.
func (w *walker) flush() {
	if w.cur == nil || strings.TrimSpace(w.cur.text.String()) == "" {
		return
	}
	w.blocks = append(w.blocks, w.cur)
	w.cur = &block{typ: w.cur.typ, level: w.cur.level}
}

// classify maps a block-level element to a segment type given its enclosing
// block. Inline elements report ok=false.
func classify(n *html.Node, parent *block) (Type, int, bool) {
	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
		return TypeHeading, int(n.Data[1] - '0'), true
	case atom.Li, atom.Dt, atom.Dd:
		return TypeList, 0, true
	case atom.Blockquote:
		return TypeQuote, 0, true
	case atom.P:
		if parent.typ == TypeList || parent.typ == TypeQuote {
			return parent.typ, 0, true
		}
		return TypeParagraph, 0, true
	}
	if isBlock(n.DataAtom) {
		return parent.typ, parent.level, true
	}
	return "", 0, false
}

var blockAtoms = map[atom.Atom]bool{
	atom.Div: true, atom.Section: true, atom.Article: true, atom.Main: true,
	atom.Header: true, atom.Footer: true, atom.Aside: true, atom.Nav: true,
	atom.Figure: true, atom.Figcaption: true, atom.Pre: true, atom.Table: true,
	atom.Tr: true, atom.Td: true, atom.Th: true, atom.Caption: true,
	atom.Ul: true, atom.Ol: true, atom.Dl: true, atom.Address: true,
	atom.Details: true, atom.Summary: true, atom.Hr: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true,
	atom.H6: true, atom.P: true, atom.Li: true, atom.Dt: true, atom.Dd: true,
	atom.Blockquote: true,
}

func isBlock(a atom.Atom) bool {
	return blockAtoms[a]
}

func skipped(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

func hasBlock(n *html.Node) bool {
	if n.Type == html.ElementNode && isBlock(n.DataAtom) {
		return true
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if hasBlock(c) {
			return true
		}
	}
	return false
}

func visibleText(n *html.Node) string {
	var sb strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped(n.DataAtom) {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return sb.String()
}

// pack greedily joins sentences while the result stays within
// MaxSegmentLength.
func pack(text string, typ Type, level int) []Segment {
	text = strings.Join(strings.Fields(norm.NFC.String(text)), " ")
	if text == "" {
		return nil
	}

	var (
		segments []Segment
		current  string
	)
	emit := func() {
		if current == "" {
			return
		}
		segments = append(segments, Segment{Text: current, Type: typ, Level: level, Pause: typ.Pause()})
		current = ""
	}

	for _, s := range splitSentences(text) {
		switch {
		case current == "":
			current = s
		case utf8.RuneCountInString(current)+1+utf8.RuneCountInString(s) <= MaxSegmentLength:
			current += " " + s
		default:
			emit()
			current = s
		}
	}
	emit()
	return segments
}
