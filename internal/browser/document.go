package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed, read-only snapshot of a page. It answers the same
// locator queries as a live Session: CSS-like kinds through goquery and XPath
// through htmlquery.
type Document struct {
	root *html.Node
	doc  *goquery.Document
}

func ParseDocument(content string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{
		root: root,
		doc:  goquery.NewDocumentFromNode(root),
	}, nil
}

// Nodes returns every node matching loc in document order.
func (d *Document) Nodes(loc Locator) ([]*html.Node, error) {
	if loc.Kind == ByXPath {
		nodes, err := htmlquery.QueryAll(d.root, loc.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", loc.Value, err)
		}
		return nodes, nil
	}

	css, ok := loc.CSS()
	if !ok {
		return nil, fmt.Errorf("unsupported locator kind %q", loc.Kind)
	}
	return d.doc.Find(css).Nodes, nil
}

func (d *Document) FindElements(ctx context.Context, loc Locator) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nodes, err := d.Nodes(loc)
	if err != nil {
		return nil, err
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		elements = append(elements, StaticElement{Node: n})
	}
	return elements, nil
}

// NodeText returns the concatenated text content of n.
func NodeText(n *html.Node) string {
	return htmlquery.InnerText(n)
}

// NodeAttribute returns the attribute value or "". A textarea without a value
// attribute reports its text content as value, like a live form field.
func NodeAttribute(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	if name == "value" && n.Type == html.ElementNode && n.Data == "textarea" {
		return NodeText(n)
	}
	return ""
}

// StaticElement is an element of a Document. It cannot be interacted with.
type StaticElement struct {
	Node *html.Node
}

func (e StaticElement) Text() (string, error) {
	return NodeText(e.Node), nil
}

func (e StaticElement) Attribute(name string) (string, error) {
	return NodeAttribute(e.Node, name), nil
}

func (e StaticElement) Click() error              { return ErrNotSupported }
func (e StaticElement) Clear() error              { return ErrNotSupported }
func (e StaticElement) SendKeys(text string) error { return ErrNotSupported }
func (e StaticElement) Press(key string) error     { return ErrNotSupported }
