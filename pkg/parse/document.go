package parse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// classSuffixMarker introduces the build-tooling hash appended to generated class names,
// e.g. "styles_reviewCard___a1b2c".
const classSuffixMarker = "___"

var lineBreaks = strings.NewReplacer("\n", " ", "\r", " ")

// Selector matches elements by tag and class. An empty Tag matches any element,
// an empty Class matches any class list.
type Selector struct {
	Tag   string
	Class string
}

func (s Selector) tag() string {
	if s.Tag == "" {
		return "*"
	}
	return s.Tag
}

func (s Selector) String() string {
	if s.Class == "" {
		return s.tag()
	}
	return s.tag() + "." + s.Class
}

// Document is a parsed page. Lookups on a malformed page simply find nothing.
type Document struct {
	doc *goquery.Document
}

// Node is a single element within a Document.
type Node struct {
	sel *goquery.Selection
}

// Parse builds a Document from raw markup. It never fails: input the HTML parser
// rejects yields an empty document.
func Parse(raw string) *Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		doc = goquery.NewDocumentFromNode(&html.Node{Type: html.DocumentNode})
	}
	return &Document{doc: doc}
}

// FindFirst returns the first element in document order matching sel.
func (d *Document) FindFirst(sel Selector) (*Node, bool) {
	return first(d.doc.Selection, sel)
}

// FindAll returns every element matching sel, in document order.
func (d *Document) FindAll(sel Selector) []*Node {
	return all(d.doc.Selection, sel)
}

// FindFirst returns the first descendant of n matching sel.
func (n *Node) FindFirst(sel Selector) (*Node, bool) {
	if n == nil {
		return nil, false
	}
	return first(n.sel, sel)
}

// FindAll returns every descendant of n matching sel, in document order.
func (n *Node) FindAll(sel Selector) []*Node {
	if n == nil {
		return nil
	}
	return all(n.sel, sel)
}

// FindTag returns the first descendant element with the given tag name.
func (n *Node) FindTag(tag string) (*Node, bool) {
	return n.FindFirst(Selector{Tag: tag})
}

// Attr returns the value of the named attribute.
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	return n.sel.Attr(name)
}

// HasClass reports whether n carries class, ignoring generated suffixes.
func (n *Node) HasClass(class string) bool {
	if n == nil {
		return false
	}
	return matchesClass(n.sel, class)
}

// TextOf returns the concatenated text of node and its descendants with every
// line feed and carriage return replaced by a single space. The result is not trimmed.
func TextOf(node *Node) string {
	if node == nil {
		return ""
	}
	return lineBreaks.Replace(node.sel.Text())
}

func matching(root *goquery.Selection, sel Selector) *goquery.Selection {
	found := root.Find(sel.tag())
	if sel.Class == "" {
		return found
	}
	return found.FilterFunction(func(_ int, s *goquery.Selection) bool {
		return matchesClass(s, sel.Class)
	})
}

func first(root *goquery.Selection, sel Selector) (*Node, bool) {
	found := matching(root, sel)
	if found.Length() == 0 {
		return nil, false
	}
	return &Node{sel: found.First()}, true
}

func all(root *goquery.Selection, sel Selector) []*Node {
	found := matching(root, sel)
	nodes := make([]*Node, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		nodes = append(nodes, &Node{sel: s})
	})
	return nodes
}

// matchesClass compares each whitespace-separated class token, with any generated
// suffix stripped, against want.
func matchesClass(s *goquery.Selection, want string) bool {
	attr, ok := s.Attr("class")
	if !ok {
		return false
	}
	for _, token := range strings.Fields(attr) {
		if i := strings.Index(token, classSuffixMarker); i >= 0 {
			token = token[:i]
		}
		if token == want {
			return true
		}
	}
	return false
}
