package scanner

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mfenderov/feedfilter/internal/platform"
)

func tweet(id, text string) string {
	return fmt.Sprintf(`<div data-testid="cellInnerDiv"><article data-testid="tweet">`+
		`<a href="/someone/status/%s">permalink</a>`+
		`<div data-testid="tweetText"><span>%s</span></div>`+
		`</article></div>`, id, text)
}

const promoCell = `<div data-testid="cellInnerDiv"><div>Who to follow</div></div>`

func newScanner(t *testing.T, cells ...string) (*Scanner, *platform.Document) {
	t.Helper()
	doc, err := platform.ParseDocument(`<html><body><main>` + strings.Join(cells, "") + `</main></body></html>`)
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	s, err := New(platform.NewX(doc), Config{MaxIDAttempts: 3})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, doc
}

func ids(items []Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

func TestNew_RequiresAdapter(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, ErrNoAdapter) {
		t.Errorf("New(nil) error = %v, want ErrNoAdapter", err)
	}
}

func TestScan_Idempotent(t *testing.T) {
	s, _ := newScanner(t, tweet("1", "one"), tweet("2", "two"))

	first := s.Scan()
	second := s.Scan()
	if strings.Join(ids(first), ",") != "1,2" {
		t.Fatalf("Scan() = %v, want [1 2]", ids(first))
	}
	if strings.Join(ids(second), ",") != "1,2" {
		t.Errorf("second Scan() = %v, want same items", ids(second))
	}
	if first[0].Text != "one" {
		t.Errorf("Text = %q, want one", first[0].Text)
	}
}

func TestScan_SkipsProcessed(t *testing.T) {
	s, doc := newScanner(t, tweet("1", "one"), tweet("2", "two"))

	s.MarkProcessed(s.Scan()...)
	if got := s.Scan(); len(got) != 0 {
		t.Fatalf("Scan() after MarkProcessed = %v, want none", ids(got))
	}

	doc.Insert("main", tweet("3", "three"))
	if got := ids(s.Scan()); strings.Join(got, ",") != "3" {
		t.Errorf("Scan() after insert = %v, want [3]", got)
	}
}

func TestScan_AbandonsContainersWithoutID(t *testing.T) {
	s, _ := newScanner(t, promoCell, tweet("1", "one"))

	for i := 0; i < 3; i++ {
		if got := ids(s.Scan()); strings.Join(got, ",") != "1" {
			t.Fatalf("Scan() #%d = %v, want [1]", i+1, got)
		}
	}

	s.mu.Lock()
	pending := len(s.misses)
	s.mu.Unlock()
	if pending != 0 {
		t.Errorf("misses still tracked after %d attempts: %d", 3, pending)
	}
}

func TestReset(t *testing.T) {
	s, _ := newScanner(t, tweet("1", "one"), tweet("2", "two"))
	s.MarkProcessed(s.Scan()...)

	if n := s.Reset(); n != 2 {
		t.Errorf("Reset() = %d, want 2", n)
	}
	if got := s.Scan(); len(got) != 2 {
		t.Errorf("Scan() after Reset = %v, want 2 items", ids(got))
	}
}

func TestSubscribe(t *testing.T) {
	s, doc := newScanner(t)

	var mu sync.Mutex
	var batches [][]string
	cancel := s.Subscribe(func(items []Item) {
		mu.Lock()
		batches = append(batches, ids(items))
		mu.Unlock()
		s.MarkProcessed(items...)
	})

	doc.Insert("main", tweet("1", "one"))
	doc.Insert("main", promoCell)
	doc.Insert("main", tweet("2", "two"))
	cancel()
	doc.Insert("main", tweet("3", "three"))

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 2 || batches[0][0] != "1" || batches[1][0] != "2" {
		t.Errorf("batches = %v, want [[1] [2]]", batches)
	}
}

func TestDebounce_CoalescesBursts(t *testing.T) {
	var calls atomic.Int32
	d := Debounce(30*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 10; i++ {
		d.Trigger()
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(100 * time.Millisecond)

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	d.Trigger()
	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 2 {
		t.Errorf("calls after second burst = %d, want 2", calls.Load())
	}
}

func TestDebounce_FlushAndStop(t *testing.T) {
	var calls atomic.Int32
	d := Debounce(time.Hour, func() { calls.Add(1) })

	d.Flush()
	if calls.Load() != 0 {
		t.Error("Flush() with nothing pending called fn")
	}

	d.Trigger()
	d.Flush()
	if calls.Load() != 1 {
		t.Errorf("calls after Flush = %d, want 1", calls.Load())
	}

	d.Stop()
	d.Trigger()
	d.Flush()
	if calls.Load() != 1 {
		t.Errorf("Trigger after Stop ran fn")
	}
}

func TestDebounce_DefaultWindow(t *testing.T) {
	d := Debounce(0, func() {})
	if d.window != DefaultDebounce {
		t.Errorf("window = %v, want %v", d.window, DefaultDebounce)
	}
}
