package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestChatCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization = %q", got)
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" || req.Messages[1].Role != "user" {
			t.Fatalf("messages = %+v", req.Messages)
		}
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("model = %q", req.Model)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "SELECT 1"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient("test-key", srv.URL, "gpt-4o-mini", "text-embedding-3-small", 0.2, 512, 5*time.Second)
	out, err := c.ChatCompletion(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if out != "SELECT 1" {
		t.Fatalf("ChatCompletion() = %q", out)
	}
}

func TestChatCompletionNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", "e", 0, 0, time.Second)
	if _, err := c.ChatCompletion(context.Background(), "s", "u"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestCreateEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		inputs, _ := req["input"].([]interface{})
		data := make([]map[string]interface{}, len(inputs))
		for i := range inputs {
			data[i] = map[string]interface{}{"embedding": []float32{1, 0}, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
	defer srv.Close()

	c := NewClient("k", srv.URL, "m", "text-embedding-3-small", 0, 0, time.Second)
	vecs, err := c.CreateEmbedding(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("CreateEmbedding() error = %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 {
		t.Fatalf("CreateEmbedding() = %v", vecs)
	}
}

func TestCreateEmbeddingNoTexts(t *testing.T) {
	c := NewClient("k", "", "m", "e", 0, 0, time.Second)
	vecs, err := c.CreateEmbedding(context.Background(), nil)
	if err != nil {
		t.Fatalf("CreateEmbedding() error = %v", err)
	}
	if vecs != nil {
		t.Fatalf("CreateEmbedding() = %v, want nil", vecs)
	}
}
