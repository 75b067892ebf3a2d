package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	c := loadConfig(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))

	if c.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want sqlite", c.Store.Backend)
	}
	if c.Classifier.BatchSize != 30 {
		t.Errorf("Classifier.BatchSize = %d, want 30", c.Classifier.BatchSize)
	}
	if c.Scanner.Debounce != 400*time.Millisecond {
		t.Errorf("Scanner.Debounce = %v, want 400ms", c.Scanner.Debounce)
	}
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.yaml", `
store:
  backend: s3
  prefix: team
classifier:
  batch_size: 10
  retry_delay: 2s
elasticsearch:
  enabled: true
`)
	t.Setenv("FEEDFILTER_LLM_MODEL", "other-model")
	t.Setenv("FEEDFILTER_ELASTICSEARCH_ADDRESSES", "http://a:9200,http://b:9200")

	c := loadConfig(viper.New(), path)

	if c.Store.Backend != "s3" || c.Store.Prefix != "team" {
		t.Errorf("Store = %+v", c.Store)
	}
	if c.Classifier.BatchSize != 10 || c.Classifier.RetryDelay != 2*time.Second {
		t.Errorf("Classifier = %+v", c.Classifier)
	}
	if c.Classifier.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want default 3 kept", c.Classifier.MaxAttempts)
	}
	if c.LLM.Model != "other-model" {
		t.Errorf("LLM.Model = %q, want env override", c.LLM.Model)
	}
	if len(c.Elasticsearch.Addresses) != 2 || !c.Elasticsearch.Enabled {
		t.Errorf("Elasticsearch = %+v", c.Elasticsearch)
	}
}

func TestFilterCommand(t *testing.T) {
	var calls atomic.Int32
	llmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		content, _ := json.Marshal(map[string][]string{"1": {"spam"}, "2": {}})
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": string(content)}}},
		})
	}))
	defer llmServer.Close()

	dir := t.TempDir()
	configPath := writeFile(t, dir, "config.yaml", fmt.Sprintf(`
store:
  backend: memory
llm:
  endpoint: %s
  api_key: test-key
classifier:
  retry_delay: 1ms
  batch_delay: 1ms
`, llmServer.URL))

	tweet := func(id, text string) string {
		return fmt.Sprintf(`<div data-testid="cellInnerDiv"><article data-testid="tweet">`+
			`<a href="/someone/status/%s">permalink</a>`+
			`<div data-testid="tweetText"><span>%s</span></div></article></div>`, id, text)
	}
	input := writeFile(t, dir, "home.html",
		`<html><body><main>`+tweet("1", "buy followers now")+tweet("2", "nice weather")+`</main></body></html>`)
	output := filepath.Join(dir, "filtered.html")

	var stderr bytes.Buffer
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs([]string{"--config", configPath, "filter", input, "--output", output})
	defer rootCmd.SetArgs(nil)

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("LLM calls = %d, want 1", calls.Load())
	}
	if !strings.Contains(stderr.String(), "classified: 2") {
		t.Errorf("summary = %q", stderr.String())
	}

	data, err := os.ReadFile(output)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	page := string(data)
	if got := strings.Count(page, "display: none"); got != 1 {
		t.Errorf("hidden containers = %d, want 1", got)
	}
	if got := strings.Count(page, `data-feedfilter-processed="true"`); got != 2 {
		t.Errorf("processed containers = %d, want 2", got)
	}
}
