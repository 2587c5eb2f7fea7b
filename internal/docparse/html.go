package docparse

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

const clearanceAttr = "data-clearance"

// ParseHTML extracts clearance-tagged sections from an HTML document.
//
// Every element carrying data-clearance becomes a section. A tagged element
// nested inside another tagged element is carved out as its own independent
// section; untagged descendants stay with their nearest tagged ancestor.
// Untagged top-level content is treated as INTERNAL. At least one explicit
// tag is required.
func ParseHTML(data []byte, filename string) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "malformed HTML", err)
	}

	doc := &Document{
		SourceFormat:     FormatHTML,
		OriginalFilename: filename,
		Title:            findTitle(root),
	}
	if doc.Title == "" {
		doc.Title = titleFromFilename(filename)
	}

	body := findElement(root, "body")
	if body == nil {
		body = root
	}

	p := &htmlParser{}
	for n := body.FirstChild; n != nil; n = n.NextSibling {
		if err := p.topLevel(n); err != nil {
			return nil, err
		}
	}
	if !p.sawTag {
		return nil, apperr.New(apperr.InputInvalid, "document has no data-clearance tagged content")
	}

	doc.Sections = p.sections
	return doc, nil
}

type htmlParser struct {
	sections []Section
	sawTag   bool
}

// topLevel handles one direct child of <body>.
func (p *htmlParser) topLevel(n *html.Node) error {
	switch n.Type {
	case html.TextNode:
		if content := canonicalContent(n.Data); content != "" {
			p.emit("", classify.Internal, content)
		}
		return nil
	case html.ElementNode:
		if level, tagged, err := clearanceOf(n); err != nil {
			return err
		} else if tagged {
			return p.tagged(n, level)
		}
		// Untagged top-level element: its residual content (tagged
		// descendants carved out) is INTERNAL, then the descendants
		// follow in document order.
		content, err := renderOuterExcludingTagged(n)
		if err != nil {
			return err
		}
		if content = canonicalContent(content); content != "" {
			p.emit(attrValue(n, "id"), classify.Internal, content)
		}
		return p.descendTagged(n)
	default:
		return nil
	}
}

// tagged emits the section for an explicitly tagged element, then any tagged
// elements nested below it.
func (p *htmlParser) tagged(n *html.Node, level classify.Level) error {
	p.sawTag = true
	content, err := renderInnerExcludingTagged(n)
	if err != nil {
		return err
	}
	p.emit(attrValue(n, "id"), level, canonicalContent(content))
	return p.descendTagged(n)
}

// descendTagged finds tagged elements anywhere below n, in document order.
func (p *htmlParser) descendTagged(n *html.Node) error {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode {
			if level, tagged, err := clearanceOf(c); err != nil {
				return err
			} else if tagged {
				if err := p.tagged(c, level); err != nil {
					return err
				}
				continue
			}
		}
		if err := p.descendTagged(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *htmlParser) emit(id string, level classify.Level, content string) {
	if id == "" {
		id = fmt.Sprintf("section-%d", len(p.sections)+1)
	}
	p.sections = append(p.sections, Section{ID: id, Clearance: level, Content: content})
}

// clearanceOf reads the data-clearance attribute. The second return reports
// whether the attribute was present at all.
func clearanceOf(n *html.Node) (classify.Level, bool, error) {
	for _, a := range n.Attr {
		if a.Key == clearanceAttr {
			level, err := classify.Parse(a.Val)
			if err != nil {
				return 0, true, apperr.Newf(apperr.InputInvalid, "unknown clearance level %q", a.Val)
			}
			return level, true, nil
		}
	}
	return 0, false, nil
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// renderInnerExcludingTagged serializes n's children, dropping any descendant
// element that carries its own data-clearance attribute.
func renderInnerExcludingTagged(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		clone := cloneExcludingTagged(c)
		if clone == nil {
			continue
		}
		if err := html.Render(&buf, clone); err != nil {
			return "", fmt.Errorf("render section content: %w", err)
		}
	}
	return buf.String(), nil
}

// renderOuterExcludingTagged serializes n itself with tagged descendants
// dropped.
func renderOuterExcludingTagged(n *html.Node) (string, error) {
	clone := cloneExcludingTagged(n)
	if clone == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, clone); err != nil {
		return "", fmt.Errorf("render content: %w", err)
	}
	return buf.String(), nil
}

// cloneExcludingTagged deep-copies a node, omitting tagged elements. Returns
// nil when n itself is tagged.
func cloneExcludingTagged(n *html.Node) *html.Node {
	if n.Type == html.ElementNode {
		for _, a := range n.Attr {
			if a.Key == clearanceAttr {
				return nil
			}
		}
	}
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if cc := cloneExcludingTagged(c); cc != nil {
			clone.AppendChild(cc)
		}
	}
	return clone
}

// findTitle returns the text of the first <title> element.
func findTitle(root *html.Node) string {
	title := findElement(root, "title")
	if title == nil {
		return ""
	}
	var buf strings.Builder
	for c := title.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			buf.WriteString(c.Data)
		}
	}
	return strings.TrimSpace(buf.String())
}

func findElement(n *html.Node, name string) *html.Node {
	if n.Type == html.ElementNode && n.Data == name {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, name); found != nil {
			return found
		}
	}
	return nil
}
