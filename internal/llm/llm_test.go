package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/TobiSchelling/zhongwen/internal/config"
)

func TestParseJSONResponsePlain(t *testing.T) {
	result := ParseJSONResponse(`{"key": "value", "num": 42}`)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
	if result["num"] != float64(42) {
		t.Errorf("expected num=42, got %v", result["num"])
	}
}

func TestParseJSONResponseWithCodeFence(t *testing.T) {
	text := "```json\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseWithPlainFence(t *testing.T) {
	text := "```\n{\"key\": \"value\"}\n```"
	result := ParseJSONResponse(text)
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestParseJSONResponseInvalid(t *testing.T) {
	result := ParseJSONResponse("not json at all")
	if result != nil {
		t.Error("expected nil for invalid JSON")
	}
}

func TestParseJSONResponseEmpty(t *testing.T) {
	result := ParseJSONResponse("")
	if result != nil {
		t.Error("expected nil for empty string")
	}
}

func TestParseJSONResponseWhitespace(t *testing.T) {
	result := ParseJSONResponse("  \n  {\"key\": \"value\"}  \n  ")
	if result == nil {
		t.Fatal("expected non-nil result")
	}
	if result["key"] != "value" {
		t.Errorf("expected key='value', got %v", result["key"])
	}
}

func TestExtractJSONFenceInsideProse(t *testing.T) {
	text := "Here is the exercise:\n```json\n{\"story\": {\"text\": \"我叫王明。\"}}\n```\nLet me know!"
	result, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	story, ok := result["story"].(map[string]any)
	if !ok || story["text"] != "我叫王明。" {
		t.Errorf("unexpected story: %v", result["story"])
	}
}

func TestExtractJSONBracesInProse(t *testing.T) {
	text := `Sure! {"title": "住宿", "nested": {"a": 1}} Hope this helps.`
	result, err := ExtractJSON(text)
	if err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if result["title"] != "住宿" {
		t.Errorf("expected title 住宿, got %v", result["title"])
	}
}

func TestExtractJSONFailure(t *testing.T) {
	_, err := ExtractJSON("not json at all")
	if err == nil {
		t.Fatal("expected error")
	}
	if err.Err != "json_parse_error" {
		t.Errorf("expected json_parse_error, got %q", err.Err)
	}
	if err.Raw != "not json at all" {
		t.Errorf("expected raw text preserved, got %q", err.Raw)
	}
	if err.Error() == "" {
		t.Error("expected non-empty error string")
	}
}

func TestExtractJSONRejectsNonObject(t *testing.T) {
	for _, text := range []string{"null", "[1, 2]", `"text"`} {
		if _, err := ExtractJSON(text); err == nil {
			t.Errorf("expected error for %q", text)
		}
	}
}

func TestExtractJSONTruncatesRawOnRuneBoundary(t *testing.T) {
	text := strings.Repeat("中", 400) // 1200 bytes
	_, err := ExtractJSON(text)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(err.Raw) > maxRawExcerpt {
		t.Errorf("raw excerpt too long: %d bytes", len(err.Raw))
	}
	if len(err.Raw)%3 != 0 {
		t.Errorf("raw excerpt split a rune: %d bytes", len(err.Raw))
	}
}

func TestModelMapResolve(t *testing.T) {
	cases := []struct {
		table ModelMap
		in    string
		want  string
	}{
		{DeepSeekModels, "gpt-4o-mini-2024-07-18", "deepseek-chat"},
		{DeepSeekModels, "o3-mini-2025-01-31", "deepseek-reasoner"},
		{DeepSeekModels, "claude-3", "claude-3"},
		{GeminiModels, "gpt-4o-mini-2024-07-18", "gemini-2.0-flash"},
		{GeminiModels, "o3-mini-2025-01-31", "gemini-2.5-pro"},
		{GeminiModels, "deepseek-reasoner", "gemini-2.5-pro"},
		{nil, "gpt-4o", "gpt-4o"},
	}
	for _, c := range cases {
		if got := c.table.Resolve(c.in); got != c.want {
			t.Errorf("Resolve(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestResponseHelpers(t *testing.T) {
	r := &Response{OK: false, Status: 401, Provider: "deepseek"}
	if r.ErrorMessage() != "deepseek API error" {
		t.Errorf("unexpected generic message %q", r.ErrorMessage())
	}
	r.Data.Error = &APIError{Message: "Authentication Fails"}
	if r.ErrorMessage() != "Authentication Fails" {
		t.Errorf("unexpected upstream message %q", r.ErrorMessage())
	}

	empty := &Response{OK: true, Data: ChatResponse{Choices: []Choice{{Message: Message{Content: "  "}}}}}
	if _, err := empty.Content(); err != ErrEmptyContent {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
}

func chatCompletionJSON(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "deepseek-chat",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return string(b)
}

func TestOpenAIProviderMapsDeepSeekModels(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON("你好")))
	}))
	defer srv.Close()

	t.Setenv("ZHONGWEN_TEST_DEEPSEEK", "sk-test")
	p := NewOpenAIProvider(config.Provider{
		Kind:      "openai",
		BaseURL:   srv.URL + "/deepseek/v1",
		APIKeyEnv: "ZHONGWEN_TEST_DEEPSEEK",
	}, srv.Client())

	if p.Name() != "deepseek" {
		t.Errorf("expected deepseek provider name, got %q", p.Name())
	}

	resp, err := p.FetchCompletion(context.Background(),
		[]Message{System("sys"), User("hi")},
		Options{Model: "o3-mini-2025-01-31", Temperature: Temp(0.8)})
	if err != nil {
		t.Fatalf("FetchCompletion: %v", err)
	}
	if !resp.OK || resp.Status != http.StatusOK {
		t.Fatalf("expected OK response, got %+v", resp)
	}
	content, err := resp.Content()
	if err != nil || content != "你好" {
		t.Errorf("expected 你好, got %q (%v)", content, err)
	}
	if gotBody["model"] != "deepseek-reasoner" {
		t.Errorf("expected mapped model deepseek-reasoner, got %v", gotBody["model"])
	}
	if gotBody["temperature"] != 0.8 {
		t.Errorf("expected temperature 0.8, got %v", gotBody["temperature"])
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}

func TestOpenAIProviderOmitsTemperatureForReasoningModels(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletionJSON("ok")))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.Provider{BaseURL: srv.URL + "/v1"}, srv.Client())
	if _, err := p.FetchCompletion(context.Background(), []Message{User("hi")}, Options{Model: "o3-mini-2025-01-31"}); err != nil {
		t.Fatalf("FetchCompletion: %v", err)
	}
	if gotBody["model"] != "o3-mini-2025-01-31" {
		t.Errorf("expected unmapped model, got %v", gotBody["model"])
	}
	if _, ok := gotBody["temperature"]; ok {
		t.Error("expected no temperature for reasoning model")
	}
}

func TestOpenAIProviderAPIErrorNoRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": {"message": "Server overloaded", "type": "server_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.Provider{BaseURL: srv.URL + "/v1", DefaultModel: "gpt-4o-mini"}, srv.Client())
	resp, err := p.FetchCompletion(context.Background(), []Message{User("hi")}, Options{})
	if err != nil {
		t.Fatalf("expected API error as response, got %v", err)
	}
	if resp.OK {
		t.Error("expected OK=false")
	}
	if resp.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", resp.Status)
	}
	if resp.ErrorMessage() == "" {
		t.Error("expected an error message")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected exactly 1 outbound call, got %d", n)
	}
}

func TestGeminiProviderNormalizesReply(t *testing.T) {
	var gotBody geminiRequest
	var gotPath, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": [{"text": "{\"a\": "}, {"text": "1}"}]}}]}`))
	}))
	defer srv.Close()

	t.Setenv("ZHONGWEN_TEST_GEMINI", "g-key")
	p := NewGeminiProvider(config.Provider{
		BaseURL:      srv.URL + "/v1beta/",
		APIKeyEnv:    "ZHONGWEN_TEST_GEMINI",
		DefaultModel: "gemini-2.0-flash",
	}, srv.Client())

	resp, err := p.FetchCompletion(context.Background(),
		[]Message{System("be helpful"), User("hi")},
		Options{Model: "o3-mini-2025-01-31", Temperature: Temp(0.3)})
	if err != nil {
		t.Fatalf("FetchCompletion: %v", err)
	}
	content, err := resp.Content()
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if content != `{"a": 1}` {
		t.Errorf("expected joined parts, got %q", content)
	}
	if gotPath != "/v1beta/models/gemini-2.5-pro:generateContent" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotKey != "g-key" {
		t.Errorf("expected api key header, got %q", gotKey)
	}
	if gotBody.SystemInstruction == nil || gotBody.SystemInstruction.Parts[0].Text != "be helpful" {
		t.Errorf("expected system instruction, got %+v", gotBody.SystemInstruction)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Role != "user" {
		t.Errorf("expected one user content, got %+v", gotBody.Contents)
	}
	if gotBody.GenerationConfig["temperature"] != 0.3 {
		t.Errorf("expected temperature 0.3, got %v", gotBody.GenerationConfig["temperature"])
	}
}

func TestGeminiProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"code": 400, "message": "API key not valid", "status": "INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	p := NewGeminiProvider(config.Provider{BaseURL: srv.URL, DefaultModel: "gemini-2.0-flash"}, srv.Client())
	resp, err := p.FetchCompletion(context.Background(), []Message{User("hi")}, Options{})
	if err != nil {
		t.Fatalf("FetchCompletion: %v", err)
	}
	if resp.OK || resp.Status != http.StatusBadRequest {
		t.Errorf("expected 400 failure, got %+v", resp)
	}
	if resp.ErrorMessage() != "API key not valid" {
		t.Errorf("unexpected message %q", resp.ErrorMessage())
	}
}

func TestCreateProviderFallsBackToAlternate(t *testing.T) {
	t.Setenv("ZHONGWEN_TEST_PRIMARY", "")
	t.Setenv("ZHONGWEN_TEST_ALT", "alt-key")
	cfg := config.Providers{
		Primary:   config.Provider{Kind: "openai", APIKeyEnv: "ZHONGWEN_TEST_PRIMARY"},
		Alternate: config.Provider{Kind: "gemini", APIKeyEnv: "ZHONGWEN_TEST_ALT"},
	}
	c, err := CreateProvider(cfg, nil)
	if err != nil {
		t.Fatalf("CreateProvider: %v", err)
	}
	if c.Name() != "gemini" {
		t.Errorf("expected gemini fallback, got %q", c.Name())
	}

	t.Setenv("ZHONGWEN_TEST_ALT", "")
	if _, err := CreateProvider(cfg, nil); err == nil {
		t.Error("expected error when no provider has a key")
	}
}
