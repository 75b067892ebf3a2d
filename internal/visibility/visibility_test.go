package visibility

import (
	"context"
	"testing"

	"github.com/mfenderov/feedfilter/internal/cache"
	"github.com/mfenderov/feedfilter/internal/scanner"
	"github.com/mfenderov/feedfilter/pkg/models"
)

// fakeContainer records visibility changes.
type fakeContainer struct {
	hidden    bool
	processed bool
	writes    int
}

func (f *fakeContainer) Processed() bool     { return f.processed }
func (f *fakeContainer) SetProcessed(p bool) { f.processed = p }
func (f *fakeContainer) Hidden() bool        { return f.hidden }
func (f *fakeContainer) SetHidden(h bool) bool {
	if f.hidden == h {
		return false
	}
	f.hidden = h
	f.writes++
	return true
}

func resolve(t *testing.T, c *cache.Cache, id string, cl models.Classification) {
	t.Helper()
	c.Reserve(id)
	if err := c.Resolve(context.Background(), id, cl); err != nil {
		t.Fatalf("Resolve(%s) error = %v", id, err)
	}
}

func item(id string, c *fakeContainer) scanner.Item {
	return scanner.Item{Item: models.Item{ID: id}, Container: c}
}

func TestApply(t *testing.T) {
	c := cache.New(nil)
	resolve(t, c, "politics", models.Classification{"politics"})
	resolve(t, c, "clean", models.Classification{})
	resolve(t, c, "spam", models.Classification{"spam", "nsfw"})
	c.Reserve("pending")

	containers := map[string]*fakeContainer{
		"politics": {},
		"clean":    {hidden: true},
		"spam":     {},
		"pending":  {hidden: true},
		"unknown":  {},
	}

	e := New(c)
	for id, fc := range containers {
		e.Track(item(id, fc))
	}

	n := e.Apply(models.TopicSet{"politics", "nsfw"})
	if n != 4 {
		t.Errorf("Apply() = %d, want 4", n)
	}

	want := map[string]bool{"politics": true, "clean": false, "spam": true, "pending": false, "unknown": false}
	for id, hidden := range want {
		if containers[id].hidden != hidden {
			t.Errorf("%s hidden = %v, want %v", id, containers[id].hidden, hidden)
		}
	}
	if containers["unknown"].writes != 0 {
		t.Error("Apply wrote to a visible unclassified post")
	}

	if n := e.Apply(models.TopicSet{"politics", "nsfw"}); n != 0 {
		t.Errorf("second Apply() = %d, want 0", n)
	}
}

func TestApply_SelectionShrinks(t *testing.T) {
	c := cache.New(nil)
	resolve(t, c, "1", models.Classification{"politics"})

	fc := &fakeContainer{}
	e := New(c)
	e.Track(item("1", fc))

	e.Apply(models.TopicSet{"politics"})
	if !fc.hidden {
		t.Fatal("post not hidden")
	}
	if n := e.Apply(models.TopicSet{"spam"}); n != 1 || fc.hidden {
		t.Errorf("Apply() = %d, hidden = %v; want 1, false", n, fc.hidden)
	}
	if n := e.Apply(nil); n != 0 {
		t.Errorf("Apply(nil) = %d, want 0", n)
	}
}

func TestTrack_DeduplicatesContainers(t *testing.T) {
	c := cache.New(nil)
	resolve(t, c, "1", models.Classification{"spam"})

	a, b := &fakeContainer{}, &fakeContainer{}
	e := New(c)
	e.Track(item("1", a), item("1", a), item("1", b))
	e.Track(scanner.Item{Item: models.Item{ID: "2"}})

	if e.Tracked() != 1 {
		t.Errorf("Tracked() = %d, want 1", e.Tracked())
	}
	if n := e.Apply(models.TopicSet{"spam"}); n != 2 {
		t.Errorf("Apply() = %d, want 2 containers for one id", n)
	}
}

func TestApply_ShowsPostsWithoutClassification(t *testing.T) {
	c := cache.New(nil)
	resolve(t, c, "1", models.Classification{"spam"})

	fc := &fakeContainer{}
	e := New(c)
	e.Track(item("1", fc))
	e.Apply(models.TopicSet{"spam"})
	if !fc.hidden {
		t.Fatal("post not hidden")
	}

	tests := []struct {
		name     string
		prepare  func()
		selected models.TopicSet
	}{
		{"absent after invalidation", func() { c.Forget() }, models.TopicSet{"spam", "nsfw"}},
		{"pending reclassification", func() { c.Forget(); c.Reserve("1") }, models.TopicSet{"spam", "nsfw"}},
		{"absent with empty selection", func() { c.Forget() }, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc.hidden = true
			tt.prepare()
			if n := e.Apply(tt.selected); n != 1 || fc.hidden {
				t.Errorf("Apply() = %d, hidden = %v; want 1, false", n, fc.hidden)
			}
		})
	}
}
