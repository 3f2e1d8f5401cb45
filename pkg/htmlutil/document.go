// Package htmlutil loads HTML documents and exposes the small query surface the scrapers need.
package htmlutil

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// Scope is something that can be queried with a CSS selector.
type Scope interface {
	// All returns every element matching selector, in document order.
	All(selector string) []Element
	// First returns the first element matching selector.
	First(selector string) (Element, bool)
}

// Element is one matched node.
type Element interface {
	Scope
	// Text returns the element's text content with surrounding whitespace trimmed.
	Text() string
	// Attr returns the named attribute, or "".
	Attr(name string) string
	// HasClass reports whether the element carries class.
	HasClass(class string) bool
}

// Load parses body as HTML, decoding it from the charset named by contentType or
// declared in the document.
func Load(body []byte, contentType string) (Scope, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("detect charset: %w", err)
	}
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return selection{goquery.NewDocumentFromNode(root).Selection}, nil
}

// TextOf returns the text of the first match for selector in s, or "".
func TextOf(s Scope, selector string) string {
	if el, ok := s.First(selector); ok {
		return el.Text()
	}
	return ""
}

// AttrOf returns attribute name of the first match for selector in s, or "".
func AttrOf(s Scope, selector, name string) string {
	if el, ok := s.First(selector); ok {
		return el.Attr(name)
	}
	return ""
}

type selection struct {
	sel *goquery.Selection
}

func (s selection) All(selector string) []Element {
	var out []Element
	s.sel.Find(selector).Each(func(_ int, match *goquery.Selection) {
		out = append(out, selection{match})
	})
	return out
}

func (s selection) First(selector string) (Element, bool) {
	match := s.sel.Find(selector).First()
	if match.Length() == 0 {
		return nil, false
	}
	return selection{match}, true
}

func (s selection) Text() string {
	return strings.TrimSpace(s.sel.Text())
}

func (s selection) Attr(name string) string {
	v, _ := s.sel.Attr(name)
	return strings.TrimSpace(v)
}

func (s selection) HasClass(class string) bool {
	return s.sel.HasClass(class)
}
