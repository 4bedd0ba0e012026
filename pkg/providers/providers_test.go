package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"niabot/pkg/config"
)

func TestChat_SendsJSONObjectRequest(t *testing.T) {
	var captured map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decoding request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"response\":\"hi\"}"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("test-key", server.URL, "")
	resp, err := p.Chat(context.Background(), []Message{
		{Role: "system", Content: "prompt"},
		{Role: "user", Content: "hello"},
	}, "test/model", map[string]interface{}{"max_tokens": 512, "temperature": 0.7})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if resp.Content != `{"response":"hi"}` {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 12 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	if captured["model"] != "test/model" {
		t.Errorf("model = %v", captured["model"])
	}
	rf, ok := captured["response_format"].(map[string]interface{})
	if !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v", captured["response_format"])
	}
	if captured["max_tokens"] != float64(512) {
		t.Errorf("max_tokens = %v", captured["max_tokens"])
	}
}

func TestChat_EmptyModelUsesDefault(t *testing.T) {
	var model string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		model, _ = body["model"].(string)
		w.Write([]byte(`{"choices":[{"message":{"content":"{}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("k", server.URL, "")
	if _, err := p.Chat(context.Background(), nil, "  ", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if model != p.GetDefaultModel() {
		t.Errorf("model = %q, want default %q", model, p.GetDefaultModel())
	}
}

func TestChat_APIErrorIsSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer server.Close()

	p := NewHTTPProvider("bad", server.URL, "")
	_, err := p.Chat(context.Background(), nil, "m", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("error %q missing API message", err)
	}
	if !strings.Contains(err.Error(), "status=401") {
		t.Errorf("error %q missing status", err)
	}
}

func TestParseResponse_NoChoices(t *testing.T) {
	resp, err := parseResponse([]byte(`{"choices":[]}`))
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Content != "" || resp.FinishReason != "stop" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestFlattenMessageContent(t *testing.T) {
	if got := flattenMessageContent("plain"); got != "plain" {
		t.Errorf("string content = %q", got)
	}

	parts := []interface{}{
		map[string]interface{}{"type": "text", "text": "a"},
		map[string]interface{}{"content": "b"},
		"ignored",
	}
	if got := flattenMessageContent(parts); got != "ab" {
		t.Errorf("part list content = %q", got)
	}

	if got := flattenMessageContent(42); got != "" {
		t.Errorf("unknown content = %q", got)
	}
}

func TestExtractAPIError(t *testing.T) {
	if got := extractAPIError([]byte(`{"error":{"message":"rate limited"}}`)); got != "rate limited" {
		t.Errorf("nested error = %q", got)
	}
	if got := extractAPIError([]byte(`{"message":"top level"}`)); got != "top level" {
		t.Errorf("top-level error = %q", got)
	}
	if got := extractAPIError([]byte("  ")); got != "empty response body" {
		t.Errorf("empty body = %q", got)
	}
	if got := extractAPIError([]byte("plain text failure")); got != "plain text failure" {
		t.Errorf("plain body = %q", got)
	}
}

func TestCreateProvider_RequiresAPIKey(t *testing.T) {
	cfg := config.DefaultConfig()
	if _, err := CreateProvider(cfg); err == nil {
		t.Error("expected error for missing API key")
	}

	cfg.Providers.OpenRouter.APIKey = "sk-test"
	p, err := CreateProvider(cfg)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if p == nil {
		t.Fatal("expected provider")
	}
}
