package platform

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

const (
	processedAttr = "data-feedfilter-processed"
	hiddenStyle   = "display: none"
)

// Document is a live HTML page. It is safe for concurrent use.
//
// Insert stands in for host page mutations: observers registered with
// Observe run after every insertion.
type Document struct {
	mu       sync.Mutex
	doc      *goquery.Document
	elements map[*html.Node]*Element

	obsMu     sync.Mutex
	observers map[int]func()
	nextObs   int
}

// NewDocument parses a page from r.
func NewDocument(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Document{
		doc:       doc,
		elements:  make(map[*html.Node]*Element),
		observers: make(map[int]func()),
	}, nil
}

// ParseDocument parses a page from a string.
func ParseDocument(htmlContent string) (*Document, error) {
	return NewDocument(strings.NewReader(htmlContent))
}

// Insert appends fragment to the first element matching target, or to the
// body when nothing matches, and notifies observers.
func (d *Document) Insert(target, fragment string) {
	d.mu.Lock()
	parent := d.doc.Find(target).First()
	if parent.Length() == 0 {
		parent = d.doc.Find("body").First()
	}
	parent.AppendHtml(fragment)
	d.mu.Unlock()

	d.notify()
}

// Observe registers fn to run after every Insert.
func (d *Document) Observe(fn func()) (cancel func()) {
	d.obsMu.Lock()
	id := d.nextObs
	d.nextObs++
	d.observers[id] = fn
	d.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Document) notify() {
	d.obsMu.Lock()
	fns := make([]func(), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Render serializes the current page.
func (d *Document) Render() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var buf bytes.Buffer
	for _, node := range d.doc.Nodes {
		if err := html.Render(&buf, node); err != nil {
			return "", fmt.Errorf("failed to render document: %w", err)
		}
	}
	return buf.String(), nil
}

// find returns every element matching selector. The same node always
// yields the same *Element.
func (d *Document) find(selector string) []*Element {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*Element
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		node := s.Nodes[0]
		e, ok := d.elements[node]
		if !ok {
			e = &Element{doc: d, node: node}
			d.elements[node] = e
		}
		out = append(out, e)
	})
	return out
}

// read runs fn on the element's selection under the document lock.
// Nodes no longer attached to the document are skipped.
func (d *Document) read(node *html.Node, fn func(s *goquery.Selection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s := d.doc.FindNodes(node); s.Length() > 0 {
		fn(s)
	}
}

// Element is a Container backed by a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ Container = (*Element)(nil)

func (e *Element) Processed() bool {
	var processed bool
	e.doc.read(e.node, func(s *goquery.Selection) {
		processed = s.AttrOr(processedAttr, "") == "true"
	})
	return processed
}

func (e *Element) SetProcessed(processed bool) {
	e.doc.read(e.node, func(s *goquery.Selection) {
		if processed {
			s.SetAttr(processedAttr, "true")
		} else {
			s.RemoveAttr(processedAttr)
		}
	})
}

func (e *Element) Hidden() bool {
	var hidden bool
	e.doc.read(e.node, func(s *goquery.Selection) {
		hidden = hasHiddenStyle(s.AttrOr("style", ""))
	})
	return hidden
}

func (e *Element) SetHidden(hidden bool) bool {
	changed := false
	e.doc.read(e.node, func(s *goquery.Selection) {
		style := s.AttrOr("style", "")
		if hasHiddenStyle(style) == hidden {
			return
		}
		changed = true
		if hidden {
			s.SetAttr("style", joinStyle(style, hiddenStyle))
			return
		}
		if rest := removeDisplay(style); rest == "" {
			s.RemoveAttr("style")
		} else {
			s.SetAttr("style", rest)
		}
	})
	return changed
}

func hasHiddenStyle(style string) bool {
	for _, decl := range strings.Split(style, ";") {
		name, value, ok := strings.Cut(decl, ":")
		if ok && strings.TrimSpace(name) == "display" && strings.TrimSpace(value) == "none" {
			return true
		}
	}
	return false
}

func removeDisplay(style string) string {
	var kept []string
	for _, decl := range strings.Split(style, ";") {
		name, _, _ := strings.Cut(decl, ":")
		if strings.TrimSpace(decl) == "" || strings.TrimSpace(name) == "display" {
			continue
		}
		kept = append(kept, strings.TrimSpace(decl))
	}
	return strings.Join(kept, "; ")
}

func joinStyle(style, decl string) string {
	style = strings.TrimSpace(removeDisplay(style))
	if style == "" {
		return decl
	}
	return style + "; " + decl
}
