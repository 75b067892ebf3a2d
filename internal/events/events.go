// Package events defines the messages exchanged between the feed context and
// the settings context.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mfenderov/feedfilter/pkg/models"
)

// Kind names a message type.
type Kind string

const (
	KindClassifyPosts            Kind = "classifyPosts"
	KindTopicsUpdated            Kind = "topicsUpdated"
	KindClearClassificationCache Kind = "clearClassificationCache"
	KindExtensionStateChanged    Kind = "extensionStateChanged"
	KindUpdateVisibility         Kind = "updateVisibility"
)

// ErrInvalidPayload is wrapped by every Validate failure.
var ErrInvalidPayload = errors.New("invalid payload")

// Message is one envelope on the bus.
type Message struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SentAt  time.Time       `json:"sentAt"`
}

// Payload is implemented by every message body.
type Payload interface {
	Validate() error
}

// Decode unmarshals and validates the message payload into p.
func (m Message) Decode(p Payload) error {
	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, p); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidPayload, m.Kind, err)
		}
	}
	return p.Validate()
}

// ClassifyPosts asks the background context to classify posts.
type ClassifyPosts struct {
	Posts  []models.Item `json:"posts"`
	Topics []string      `json:"topics"`
	APIKey string        `json:"apiKey"`
}

func (p *ClassifyPosts) Validate() error {
	if p.Posts == nil {
		return fmt.Errorf("%w: classifyPosts: posts must be an array", ErrInvalidPayload)
	}
	for i, post := range p.Posts {
		if post.ID == "" {
			return fmt.Errorf("%w: classifyPosts: post %d has no id", ErrInvalidPayload, i)
		}
	}
	return nil
}

// ClassifyPostsResponse answers ClassifyPosts.
type ClassifyPostsResponse struct {
	Success         bool                             `json:"success"`
	Classifications map[string]models.Classification `json:"classifications,omitempty"`
	Failed          []string                         `json:"failed,omitempty"`
	Error           string                           `json:"error,omitempty"`
}

// TopicsUpdated announces a new topic selection.
type TopicsUpdated struct {
	Topics []string `json:"topics"`
}

func (p *TopicsUpdated) Validate() error {
	if p.Topics == nil {
		return fmt.Errorf("%w: topicsUpdated: topics must be an array", ErrInvalidPayload)
	}
	return nil
}

// ExtensionStateChanged announces the enabled flag.
type ExtensionStateChanged struct {
	Enabled *bool `json:"enabled"`
}

func (p *ExtensionStateChanged) Validate() error {
	if p.Enabled == nil {
		return fmt.Errorf("%w: extensionStateChanged: enabled is required", ErrInvalidPayload)
	}
	return nil
}

// Empty is the payload of messages that carry no data.
type Empty struct{}

func (*Empty) Validate() error { return nil }
