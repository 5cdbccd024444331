// Package index renders and reads the flat find-links page of a wheelhouse.
package index

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/WhoopInc/mkwheelhouse/internal/artifact"
)

// Filename is the object name of the index relative to the wheelhouse prefix.
const Filename = "index.html"

const title = "Links"

// Link is one anchor of a rendered index.
type Link struct {
	Href string
	Text string
}

// Render produces the index document for wheels. The anchors follow the
// order of wheels; nil yields the empty placeholder page.
func Render(wheels []artifact.Wheel) ([]byte, error) {
	doc := &html.Node{Type: html.DocumentNode}
	doc.AppendChild(&html.Node{Type: html.DoctypeNode, Data: "html"})

	root := element(atom.Html)
	head := element(atom.Head)
	head.AppendChild(element(atom.Meta, html.Attribute{Key: "charset", Val: "utf-8"}))
	t := element(atom.Title)
	t.AppendChild(text(title))
	head.AppendChild(t)
	root.AppendChild(head)

	body := element(atom.Body)
	for _, w := range wheels {
		body.AppendChild(text("\n"))
		a := element(atom.A, html.Attribute{Key: "href", Val: w.URL})
		a.AppendChild(text(w.Filename))
		body.AppendChild(a)
		body.AppendChild(element(atom.Br))
	}
	if len(wheels) > 0 {
		body.AppendChild(text("\n"))
	}
	root.AppendChild(body)
	doc.AppendChild(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, doc); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Parse returns the anchors of an index document in document order.
func Parse(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}
	var links []Link
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			l := Link{Text: strings.TrimSpace(nodeText(n))}
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					l.Href = attr.Val
				}
			}
			links = append(links, l)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String(), Attr: attrs}
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			sb.WriteString(c.Data)
		} else {
			sb.WriteString(nodeText(c))
		}
	}
	return sb.String()
}
