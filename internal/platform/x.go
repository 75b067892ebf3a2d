package platform

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// x.com markup.
const (
	xObserveTarget     = "main"
	xContainerSelector = `[data-testid="cellInnerDiv"]`
	xPostSelector      = `article[data-testid="tweet"]`
	xPermalinkSelector = `a[href*="/status/"]`
	xTextSelector      = `[data-testid="tweetText"]`
)

// X is the adapter for x.com timelines.
type X struct {
	doc *Document
}

var _ Adapter = (*X)(nil)

// NewX creates an x.com adapter over doc.
func NewX(doc *Document) *X {
	return &X{doc: doc}
}

func (x *X) Host() string { return "x.com" }

func (x *X) ContainerSelector() string { return xContainerSelector }

func (x *X) Containers() []Container {
	elements := x.doc.find(xContainerSelector)
	out := make([]Container, len(elements))
	for i, e := range elements {
		out[i] = e
	}
	return out
}

func (x *X) PostID(c Container) (string, bool) {
	e, ok := c.(*Element)
	if !ok || e.doc != x.doc {
		return "", false
	}
	var id string
	var found bool
	x.doc.read(e.node, func(s *goquery.Selection) {
		id, found = postID(s)
	})
	return id, found
}

func (x *X) PostText(c Container) string {
	e, ok := c.(*Element)
	if !ok || e.doc != x.doc {
		return ""
	}

	var body string
	var plain string
	x.doc.read(e.node, func(s *goquery.Selection) {
		textEl := postElement(s).Find(xTextSelector).First()
		body, _ = textEl.Html()
		plain = textEl.Text()
	})

	text, err := ExtractText(body)
	if err != nil {
		slog.Debug("falling back to plain post text", "error", err)
		return strings.TrimSpace(plain)
	}
	return text
}

func (x *X) ObserveNewPosts(fn func()) (cancel func()) {
	return x.doc.Observe(fn)
}

// Import appends the containers of a freshly captured page that the live
// document does not hold yet. It returns the number of containers added.
func (x *X) Import(htmlContent string) (int, error) {
	incoming, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return 0, fmt.Errorf("failed to parse page: %w", err)
	}

	known := make(map[string]bool)
	for _, c := range x.Containers() {
		if id, ok := x.PostID(c); ok {
			known[id] = true
		}
	}

	var fragment strings.Builder
	added := 0
	incoming.Find(xContainerSelector).Each(func(_ int, s *goquery.Selection) {
		id, ok := postID(s)
		if !ok || known[id] {
			return
		}
		outer, err := goquery.OuterHtml(s)
		if err != nil {
			return
		}
		known[id] = true
		fragment.WriteString(outer)
		added++
	})

	if added > 0 {
		x.doc.Insert(xObserveTarget, fragment.String())
	}
	return added, nil
}

// postElement returns the tweet article inside a container. The selection is
// only valid while the document is held.
func postElement(container *goquery.Selection) *goquery.Selection {
	return container.Find(xPostSelector).First()
}

func postID(container *goquery.Selection) (string, bool) {
	post := postElement(container)
	if post.Length() == 0 {
		return "", false
	}
	href, ok := post.Find(xPermalinkSelector).First().Attr("href")
	if !ok {
		return "", false
	}
	return models.ItemIDFromPermalink(href)
}
