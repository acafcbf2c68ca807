package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOllama_Review(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("no Authorization header expected without a key")
		}
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: "[]"}}},
		})
	}))
	defer server.Close()

	o, err := NewOllama("llama3", Options{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("NewOllama error: %v", err)
	}
	resp, err := o.Review(context.Background(), ReviewRequest{SystemPrompt: "s", UserPrompt: "u"})
	if err != nil {
		t.Fatalf("Review error: %v", err)
	}
	if resp.Content != "[]" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestOllama_EmptyResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openaiResponse{
			Choices: []openaiChoice{{Message: openaiMessage{Role: "assistant", Content: ""}}},
		})
	}))
	defer server.Close()

	o, _ := NewOllama("llama3", Options{BaseURL: server.URL})
	if _, err := o.Review(context.Background(), ReviewRequest{}); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestNewOllama_URLNormalization(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantURL string
	}{
		{"default", "", "http://localhost:11434/v1/chat/completions"},
		{"trailing slash", "http://localhost:11434/", "http://localhost:11434/v1/chat/completions"},
		{"with v1", "http://localhost:11434/v1", "http://localhost:11434/v1/chat/completions"},
		{"with full path", "http://localhost:11434/v1/chat/completions", "http://localhost:11434/v1/chat/completions"},
		{"custom host", "http://192.168.1.100:11434", "http://192.168.1.100:11434/v1/chat/completions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := NewOllama("llama3", Options{BaseURL: tt.host})
			if err != nil {
				t.Fatalf("NewOllama error: %v", err)
			}
			if o.chat.url != tt.wantURL {
				t.Errorf("url = %q, want %q", o.chat.url, tt.wantURL)
			}
		})
	}
}
