package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenAIChat_Generate(t *testing.T) {
	var got openAIChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("request %s auth=%q", r.URL.Path, r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Error(err)
		}
		content := `{"regional_strategy_citations": "The regional strategy prioritises green logistics.", "extra": 1}`
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"role": "assistant", "content": content}}},
		})
	}))
	defer srv.Close()

	g := NewOpenAIChat(srv.URL+"/v1/", "sk-test", "", time.Second)
	req := GenerateRequest{Step: StepProgramme, Input: Programme{Area: "Smart Growth"}, Fields: StepProgramme.DraftFields()}
	resp, err := g.Generate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fields["regional_strategy_citations"] == "" || len(resp.Fields) != 1 {
		t.Errorf("fields = %v", resp.Fields)
	}
	if got.Model != DefaultChatModel || got.ResponseFormat["type"] != "json_object" || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Errorf("request = %+v", got)
	}
}

func TestOpenAIChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewOpenAIChat(srv.URL, "k", "", time.Second).Generate(context.Background(), GenerateRequest{Step: StepAgenda})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestOllamaChat_WorkPackages(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		content := "```json\n" + `{"work_packages": [{"name": "WP1", "purpose": "p", "timeline": "Q1 2026", "budget_share": "20%"}]}` + "\n```"
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]string{"role": "assistant", "content": content}, "done": true})
	}))
	defer srv.Close()

	resp, err := NewOllamaChat(srv.URL, "llama3.1:8b", time.Second).Generate(context.Background(), GenerateRequest{Step: StepWorkPackages})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.WorkPackages) != 1 || resp.WorkPackages[0].BudgetShare != "20%" {
		t.Errorf("packages = %+v", resp.WorkPackages)
	}
	if got.Stream || got.Format != "json" || got.Model != "llama3.1:8b" {
		t.Errorf("request = %+v", got)
	}
}

func TestParseDraft(t *testing.T) {
	if _, err := parseDraft("Sure! Here you go.", []string{"a"}); !errors.Is(err, ErrIncompleteDraft) {
		t.Errorf("prose: %v", err)
	}
	resp, err := parseDraft(`{"a": ["x", "y"], "b": "text"}`, []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Fields["a"] != `["x", "y"]` || resp.Fields["b"] != "text" {
		t.Errorf("fields = %v", resp.Fields)
	}
	if _, ok := resp.Fields["c"]; ok {
		t.Error("absent field filled")
	}
}
