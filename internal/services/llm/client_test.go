package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"stockpile/internal/queue"
	"stockpile/internal/services"
)

func completionServer(t *testing.T, content string, inspect func(*http.Request, chatCompletionRequest)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req chatCompletionRequest
		if err := json.Unmarshal(body, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, req)
		}
		payload := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			t.Errorf("encode response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientHealthCheck(t *testing.T) {
	server := completionServer(t, "```json\n{\"ok\":true}\n```", func(r *http.Request, req chatCompletionRequest) {
		if got := r.Header.Get("Authorization"); got != "Bearer test" {
			t.Errorf("unexpected auth header %q", got)
		}
		if req.ResponseFormat["type"] != jsonResponseType {
			t.Errorf("expected json response format, got %v", req.ResponseFormat)
		}
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo-model"})
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestExtractPhrasesNormalizes(t *testing.T) {
	server := completionServer(t, "Here you go:\n[\"Berlin Wall falling\", \"  berlin   wall falling \", \"\", \"CRT monitor close-up\"]", func(_ *http.Request, req chatCompletionRequest) {
		if req.ResponseFormat != nil {
			t.Errorf("phrase request must not force a json object: %v", req.ResponseFormat)
		}
		if !strings.Contains(req.Messages[1].Content, "the wall came down") {
			t.Errorf("transcript missing from prompt: %q", req.Messages[1].Content)
		}
	})
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	phrases, err := client.ExtractPhrases(context.Background(), "the wall came down")
	if err != nil {
		t.Fatalf("ExtractPhrases: %v", err)
	}
	if len(phrases) != 2 || phrases[0] != "Berlin Wall falling" || phrases[1] != "CRT monitor close-up" {
		t.Fatalf("unexpected phrases %#v", phrases)
	}
}

func TestExtractPhrasesAcceptsWrappedObject(t *testing.T) {
	server := completionServer(t, `{"phrases":["city skyline at night"]}`, nil)
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	phrases, err := client.ExtractPhrases(context.Background(), "night")
	if err != nil || len(phrases) != 1 {
		t.Fatalf("ExtractPhrases = %v, %v", phrases, err)
	}
}

func TestExtractPhrasesGarbageIsTransient(t *testing.T) {
	server := completionServer(t, "I cannot help with that.", nil)
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	if _, err := client.ExtractPhrases(context.Background(), "hello"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestScoreCandidateClamps(t *testing.T) {
	cases := []struct {
		content string
		want    int
	}{
		{`{"score": 8}`, 8},
		{`{"score": 7.6}`, 8},
		{`{"score": 14}`, 10},
		{`{"score": 0}`, 1},
	}
	candidate := queue.Candidate{Phrase: "city skyline", VideoID: "abc", Title: "4K skyline", Description: "drone"}
	for _, tc := range cases {
		server := completionServer(t, tc.content, func(_ *http.Request, req chatCompletionRequest) {
			if !strings.Contains(req.Messages[1].Content, "4K skyline") {
				t.Errorf("candidate missing from prompt")
			}
		})
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
		got, err := client.ScoreCandidate(context.Background(), candidate)
		if err != nil {
			t.Fatalf("ScoreCandidate(%s): %v", tc.content, err)
		}
		if got != tc.want {
			t.Fatalf("ScoreCandidate(%s) = %d, want %d", tc.content, got, tc.want)
		}
	}
}

func TestScoreCandidateMissingScore(t *testing.T) {
	server := completionServer(t, `{"rating": 9}`, nil)
	client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	_, err := client.ScoreCandidate(context.Background(), queue.Candidate{Phrase: "p", Title: "t"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, services.ErrRateLimited},
		{http.StatusInternalServerError, services.ErrTransient},
		{http.StatusServiceUnavailable, services.ErrTransient},
		{http.StatusUnauthorized, services.ErrAuthentication},
		{http.StatusForbidden, services.ErrAuthentication},
		{http.StatusPaymentRequired, services.ErrQuotaExceeded},
		{http.StatusBadRequest, services.ErrValidation},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		client := NewClient(Config{APIKey: "test", BaseURL: server.URL, Model: "demo"})
		_, err := client.ExtractPhrases(context.Background(), "hello")
		server.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestTransportErrorIsNetwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(Config{APIKey: "test", BaseURL: url, Model: "demo"})
	if _, err := client.CompleteJSON(context.Background(), "sys", "user"); !errors.Is(err, services.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", err)
	}
}

func TestMissingAPIKeyIsConfiguration(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1", Model: "demo"})
	if _, err := client.ExtractPhrases(context.Background(), "hello"); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestDecodeLLMJSONCodeFence(t *testing.T) {
	var out []string
	if err := DecodeLLMJSON("```json\n[\"a\",\"b\"]\n```", &out); err != nil || len(out) != 2 {
		t.Fatalf("DecodeLLMJSON = %v, %v", out, err)
	}
}
