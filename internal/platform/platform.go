// Package platform adapts host page markup to feed items.
//
// A host page is held as a Document. An Adapter knows where the post
// containers of one host live inside it and how to pull an id and text out of
// each container. Only the adapter changes between hosts.
package platform

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedHost is returned when no adapter is registered for a host.
var ErrUnsupportedHost = errors.New("unsupported host")

// Container is one post container in a live document.
type Container interface {
	// Processed reports whether the container was already handed to the pipeline.
	Processed() bool
	SetProcessed(processed bool)
	Hidden() bool
	// SetHidden changes the container's visibility and reports whether the
	// document was modified.
	SetHidden(hidden bool) bool
}

// Adapter extracts feed items from a host page.
type Adapter interface {
	Host() string
	ContainerSelector() string
	Containers() []Container
	PostID(c Container) (string, bool)
	PostText(c Container) string
	// ObserveNewPosts calls fn whenever content is inserted into the page.
	// The returned func stops the observation.
	ObserveNewPosts(fn func()) (cancel func())
}

// ForHost returns the adapter for host, ignoring a leading "www.".
func ForHost(host string, doc *Document) (Adapter, error) {
	if doc == nil {
		return nil, fmt.Errorf("document is required")
	}
	switch strings.TrimPrefix(strings.ToLower(host), "www.") {
	case "x.com", "twitter.com":
		return NewX(doc), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedHost, host)
	}
}
