package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mikey/mail-classifier/internal/core"
)

func completionServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("request is not JSON: %v", err)
		}
		if req["model"] != "gpt-test" {
			t.Errorf("model = %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"choices": []any{map[string]any{"index": 0, "message": map[string]any{"role": "assistant", "content": content}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAdvise(t *testing.T) {
	srv := completionServer(t, `{"category":"gambling spam","confidence":0.82,"explanation":"casino bonus"}`, http.StatusOK)
	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1", ModelName: "gpt-test", MaxBodySize: 100}, nil, nil)

	msg := &core.InboundMessage{Sender: "promo@luckyspin.xyz", Subject: "Bonus for you", Body: "Claim now"}
	advice, err := c.Advise(context.Background(), msg, core.ClassificationVerdict{Category: core.CategoryMarketingSpam, Confidence: 0.4})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.Category != core.CategoryGambling || advice.Confidence != 0.82 || advice.ModelUsed != "gpt-test" {
		t.Errorf("advice = %+v", advice)
	}
}

func TestAdviseServerError(t *testing.T) {
	srv := completionServer(t, "", http.StatusInternalServerError)
	c := NewOpenAIClient(Config{APIKey: "k", BaseURL: srv.URL + "/v1", ModelName: "gpt-test"}, nil, nil)

	_, err := c.Advise(context.Background(), &core.InboundMessage{Sender: "a@b.com"}, core.ClassificationVerdict{})
	if err == nil {
		t.Fatal("expected an error from a failing endpoint")
	}
}
