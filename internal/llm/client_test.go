package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"empty endpoint", Config{Model: "m"}, true},
		{"empty model", Config{Endpoint: "http://localhost"}, true},
		{"valid", Config{Endpoint: "http://localhost", Model: "m"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompleteJSON(t *testing.T) {
	var got chatRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"  {\"1\":[\"spam\"]}\n"}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{
		Endpoint:    server.URL,
		APIKey:      "secret",
		Model:       "llama-3.1-8b-instant",
		Temperature: 0.1,
		MaxTokens:   4096,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	content, err := client.CompleteJSON(context.Background(), "sys", "usr")
	if err != nil {
		t.Fatalf("CompleteJSON() error = %v", err)
	}
	if content != `{"1":["spam"]}` {
		t.Errorf("CompleteJSON() = %q", content)
	}

	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Bearer secret")
	}
	if got.Model != "llama-3.1-8b-instant" || got.Temperature != 0.1 || got.MaxTokens != 4096 || got.TopP != 1 || got.Stream {
		t.Errorf("unexpected request parameters: %+v", got)
	}
	if got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Errorf("response_format = %+v, want json_object", got.ResponseFormat)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "usr" {
		t.Errorf("messages = %+v", got.Messages)
	}
}

func TestCompleteJSON_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr string
	}{
		{"server error", http.StatusInternalServerError, "boom", "status 500"},
		{"rate limited", http.StatusTooManyRequests, "slow down", "status 429"},
		{"api error", http.StatusOK, `{"error":{"message":"bad model"}}`, "bad model"},
		{"no choices", http.StatusOK, `{"choices":[]}`, "no response"},
		{"garbage", http.StatusOK, `not json`, "unmarshal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, _ := New(Config{Endpoint: server.URL, Model: "m"})
			_, err := client.CompleteJSON(context.Background(), "s", "u")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CompleteJSON() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer server.Close()

	client, _ := New(Config{Endpoint: server.URL, ModelsURL: server.URL, Model: "m"})

	tests := []struct {
		key  string
		want bool
	}{
		{"good", true},
		{"bad", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := client.ValidateKey(context.Background(), tt.key); got != tt.want {
			t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestWithAPIKey(t *testing.T) {
	client, _ := New(Config{Endpoint: "http://localhost", Model: "m"})
	if client.HasAPIKey() {
		t.Fatal("HasAPIKey() = true for empty key")
	}
	keyed := client.WithAPIKey("k")
	if !keyed.HasAPIKey() {
		t.Error("WithAPIKey() did not set key")
	}
	if client.HasAPIKey() {
		t.Error("WithAPIKey() mutated the original client")
	}
}
