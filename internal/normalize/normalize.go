// Package normalize reduces fetched HTML to stable, comparable forms.
//
// Three renditions serve three consumers: a structural skeleton (tags kept,
// attributes dropped) feeds the change-detection hash, plain text with line
// structure feeds the regex extractors, and markdown feeds the LLM fallback.
package normalize

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// structuralElements are the tags kept in the skeleton. Scripts, styles,
// media, and comments are dropped along with their content; everything
// here survives with its attributes stripped.
var structuralElements = []string{
	"html", "head", "title", "body",
	"article", "section", "main", "header", "footer", "nav", "aside",
	"div", "p", "span", "a", "br", "hr",
	"h1", "h2", "h3", "h4", "h5", "h6",
	"table", "thead", "tbody", "tfoot", "tr", "th", "td", "caption",
	"ul", "ol", "li", "dl", "dt", "dd",
	"strong", "em", "b", "i", "u", "small", "sub", "sup",
	"blockquote", "pre", "code", "label", "form",
}

// blockAtoms are elements whose boundaries become line breaks in the
// plain-text rendition.
var blockAtoms = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Section: true, atom.Article: true,
	atom.Table: true, atom.Tr: true, atom.Li: true, atom.Dt: true, atom.Dd: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true,
	atom.H5: true, atom.H6: true, atom.Br: true, atom.Hr: true,
	atom.Blockquote: true, atom.Pre: true, atom.Ul: true, atom.Ol: true,
}

// skipAtoms are elements whose content never reaches the text rendition.
var skipAtoms = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Iframe: true, atom.Svg: true, atom.Video: true, atom.Audio: true,
	atom.Object: true, atom.Template: true,
}

// Normalizer converts raw HTML into the three renditions.
type Normalizer struct {
	structural *bluemonday.Policy
	md         *converter.Converter
}

// New creates a Normalizer.
func New() *Normalizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(structuralElements...)
	return &Normalizer{
		structural: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Structural returns the tag skeleton of rawHTML: structural tags kept,
// every attribute dropped, scripts/styles/media/comments removed, and
// whitespace runs collapsed to single spaces. Two fetches of the same page
// that differ only in session tokens or inline scripts produce identical
// skeletons, which is what the change detector hashes.
func (n *Normalizer) Structural(rawHTML string) string {
	return collapseSpaces(n.structural.Sanitize(rawHTML))
}

// Text returns the visible text of rawHTML with block boundaries preserved
// as newlines. The field extractors match label/value patterns line by
// line, so <td>采购人</td><td>南方电网</td> must not fuse into one token.
func (n *Normalizer) Text(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return collapseSpaces(rawHTML)
	}
	var b strings.Builder
	writeText(&b, doc)
	return collapseLines(b.String())
}

// Markdown converts rawHTML to markdown for the LLM extraction prompt.
// On conversion failure it falls back to the plain-text rendition.
func (n *Normalizer) Markdown(rawHTML, sourceURL string) string {
	if rawHTML == "" {
		return ""
	}
	out, err := n.md.ConvertString(rawHTML, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(out) == "" {
		return n.Text(rawHTML)
	}
	return strings.TrimSpace(out)
}

func writeText(b *strings.Builder, node *html.Node) {
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
		return
	case html.ElementNode:
		if skipAtoms[node.DataAtom] {
			return
		}
		if blockAtoms[node.DataAtom] {
			b.WriteByte('\n')
		}
		// Table cells become separators so "采购人" and its value stay
		// distinguishable on one row.
		if node.DataAtom == atom.Td || node.DataAtom == atom.Th {
			b.WriteByte('\t')
		}
	case html.CommentNode:
		return
	}
	for c := node.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
	if node.Type == html.ElementNode && blockAtoms[node.DataAtom] {
		b.WriteByte('\n')
	}
}

// collapseSpaces reduces every whitespace run to a single space.
func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collapseLines trims each line, drops empties, and collapses intra-line
// whitespace runs while keeping tab separators from table cells.
func collapseLines(s string) string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		fields := strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\r' || r == ' ' })
		joined := strings.TrimSpace(strings.Join(fields, " "))
		joined = strings.Trim(joined, "\t")
		if joined == "" {
			continue
		}
		out = append(out, joined)
	}
	return strings.Join(out, "\n")
}
