package settings

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mfenderov/feedfilter/internal/bus"
	"github.com/mfenderov/feedfilter/internal/events"
	"github.com/mfenderov/feedfilter/internal/kvstore"
	"github.com/mfenderov/feedfilter/pkg/models"
)

type stubValidator map[string]bool

func (s stubValidator) ValidateKey(_ context.Context, key string) bool { return s[key] }

// recorder captures messages published on a bus.
type recorder struct {
	kinds  []events.Kind
	topics []models.TopicSet
}

func listen(b *bus.Bus, r *recorder) {
	for _, kind := range []events.Kind{events.KindTopicsUpdated, events.KindExtensionStateChanged, events.KindClearClassificationCache} {
		b.Handle(kind, func(_ context.Context, msg events.Message) (any, error) {
			r.kinds = append(r.kinds, msg.Kind)
			if msg.Kind == events.KindTopicsUpdated {
				var p events.TopicsUpdated
				if err := msg.Decode(&p); err != nil {
					return nil, err
				}
				r.topics = append(r.topics, p.Topics)
			}
			return nil, nil
		})
	}
}

func newService(t *testing.T) (*Service, *kvstore.Memory, *recorder) {
	t.Helper()
	store := kvstore.NewMemory()
	b := bus.New()
	r := &recorder{}
	listen(b, r)
	return New(store, b, stubValidator{"good": true}), store, r
}

func TestLoad_Defaults(t *testing.T) {
	s, _, _ := newService(t)

	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !snap.Topics.Equal(DefaultTopics()) {
		t.Errorf("Topics = %v, want defaults", snap.Topics)
	}
	if !snap.Enabled {
		t.Error("Enabled = false, want true by default")
	}
	if snap.HasAPIKey() {
		t.Error("HasAPIKey() = true with nothing stored")
	}
}

func TestTopics_EmptyStoredSelectionResets(t *testing.T) {
	s, store, _ := newService(t)
	ctx := context.Background()
	kvstore.SetJSON(ctx, store, kvstore.KeySelectedTopics, models.TopicSet{})

	topics, err := s.Topics(ctx)
	if err != nil {
		t.Fatalf("Topics() error = %v", err)
	}
	if !topics.Equal(DefaultTopics()) {
		t.Errorf("Topics() = %v, want defaults", topics)
	}
}

func TestParseTopics(t *testing.T) {
	tests := []struct {
		in   string
		want models.TopicSet
	}{
		{"Crypto, sports", models.TopicSet{"crypto", "sports"}},
		{"ai-safety,,  ", models.TopicSet{"ai-safety"}},
		{"bad topic, ok, bad_topic, émoji", models.TopicSet{"ok"}},
		{"dup,dup", models.TopicSet{"dup"}},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseTopics(tt.in); !got.Equal(tt.want) {
				t.Errorf("ParseTopics(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddTopics(t *testing.T) {
	s, _, r := newService(t)
	ctx := context.Background()

	res, err := s.AddTopics(ctx, "crypto, spam, Sports")
	if err != nil {
		t.Fatalf("AddTopics() error = %v", err)
	}
	if !res.Added.Equal(models.TopicSet{"crypto", "sports"}) {
		t.Errorf("Added = %v", res.Added)
	}

	topics, _ := s.Topics(ctx)
	want := append(DefaultTopics(), "crypto", "sports")
	if !topics.Equal(want) {
		t.Errorf("Topics() = %v, want %v", topics, want)
	}
	if len(r.topics) != 1 || !r.topics[0].Equal(want) {
		t.Errorf("published topics = %v", r.topics)
	}

	res, err = s.AddTopics(ctx, "spam, not valid!")
	if err != nil || len(res.Added) != 0 {
		t.Errorf("AddTopics() with nothing new = %+v, %v", res, err)
	}
	if len(r.topics) != 1 {
		t.Error("AddTopics() with nothing new published an update")
	}
}

func TestAddTopics_Limit(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	var input string
	for i := 0; i < 20; i++ {
		input += fmt.Sprintf("t%d,", i)
	}
	res, err := s.AddTopics(ctx, input)
	if err != nil {
		t.Fatalf("AddTopics() error = %v", err)
	}
	if len(res.Added) != MaxTopics-len(DefaultTopics()) || !res.Truncated {
		t.Errorf("AddTopics() = %+v, want %d added and truncated", res, MaxTopics-len(DefaultTopics()))
	}

	if _, err := s.AddTopics(ctx, "overflow"); !errors.Is(err, ErrTopicLimit) {
		t.Errorf("AddTopics() at limit error = %v, want ErrTopicLimit", err)
	}
}

func TestRemoveTopicAndRestore(t *testing.T) {
	s, _, r := newService(t)
	ctx := context.Background()

	if err := s.RemoveTopic(ctx, "spam"); err != nil {
		t.Fatalf("RemoveTopic() error = %v", err)
	}
	topics, _ := s.Topics(ctx)
	if topics.Contains("spam") || len(topics) != 4 {
		t.Errorf("Topics() = %v after removing spam", topics)
	}

	if err := s.RemoveTopic(ctx, "missing"); err != nil {
		t.Fatalf("RemoveTopic(missing) error = %v", err)
	}
	if len(r.topics) != 1 {
		t.Errorf("removing a missing topic published an update")
	}

	if err := s.RestoreDefaults(ctx); err != nil {
		t.Fatalf("RestoreDefaults() error = %v", err)
	}
	topics, _ = s.Topics(ctx)
	if !topics.Equal(DefaultTopics()) {
		t.Errorf("Topics() = %v after restore", topics)
	}
}

func TestSaveAPIKey(t *testing.T) {
	s, _, _ := newService(t)
	ctx := context.Background()

	tests := []struct {
		key       string
		wantValid bool
		wantKey   string
	}{
		{" good ", true, "good"},
		{"bad", false, ""},
		{"", false, ""},
	}
	for _, tt := range tests {
		valid, err := s.SaveAPIKey(ctx, tt.key)
		if err != nil {
			t.Fatalf("SaveAPIKey(%q) error = %v", tt.key, err)
		}
		if valid != tt.wantValid {
			t.Errorf("SaveAPIKey(%q) = %v, want %v", tt.key, valid, tt.wantValid)
		}
		if got, _ := s.APIKey(ctx); got != tt.wantKey {
			t.Errorf("stored key after %q = %q, want %q", tt.key, got, tt.wantKey)
		}
	}
}

func TestSetEnabledAndClear(t *testing.T) {
	s, store, r := newService(t)
	ctx := context.Background()

	if err := s.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled() error = %v", err)
	}
	if enabled, _ := s.Enabled(ctx); enabled {
		t.Error("Enabled() = true after SetEnabled(false)")
	}

	kvstore.SetJSON(ctx, store, kvstore.KeyClassifications, map[string][]string{"1": {"spam"}})
	if err := s.ClearClassifications(ctx); err != nil {
		t.Fatalf("ClearClassifications() error = %v", err)
	}
	var left map[string][]string
	if found, _ := kvstore.GetJSON(ctx, store, kvstore.KeyClassifications, &left); found {
		t.Errorf("classifications still stored: %v", left)
	}

	want := []events.Kind{events.KindExtensionStateChanged, events.KindClearClassificationCache}
	if len(r.kinds) != 2 || r.kinds[0] != want[0] || r.kinds[1] != want[1] {
		t.Errorf("published kinds = %v, want %v", r.kinds, want)
	}
}
