package wizard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const systemPrompt = "You are a helpful assistant writing structured ERDF application sections. " +
	"Use any provided context from classification documents to ensure your response aligns with the required format and standards. " +
	"Respond only with the requested JSON object."

// Sampling settings shared by the chat generators.
const (
	DefaultTemperature = 0.6
	DefaultMaxTokens   = 1000
	DefaultChatModel   = "gpt-4o-2024-08-06"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func messages(req GenerateRequest) []chatMessage {
	return []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: req.Prompt()},
	}
}

// OpenAIChat drafts sections through an OpenAI-compatible
// /chat/completions endpoint in JSON mode.
type OpenAIChat struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewOpenAIChat creates a chat generator. baseURL includes the API version.
func NewOpenAIChat(baseURL, apiKey, model string, timeout time.Duration) *OpenAIChat {
	if model == "" {
		model = DefaultChatModel
	}
	return &OpenAIChat{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type openAIChatReq struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens"`
	ResponseFormat map[string]string `json:"response_format"`
}

type openAIChatResp struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generate implements Generator.
func (c *OpenAIChat) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body := openAIChatReq{
		Model:          c.model,
		Messages:       messages(req),
		Temperature:    DefaultTemperature,
		MaxTokens:      DefaultMaxTokens,
		ResponseFormat: map[string]string{"type": "json_object"},
	}
	var out openAIChatResp
	if err := postJSON(ctx, c.client, c.baseURL+"/chat/completions", c.apiKey, body, &out); err != nil {
		return GenerateResponse{}, fmt.Errorf("openai chat: %w", err)
	}
	if len(out.Choices) == 0 {
		return GenerateResponse{}, fmt.Errorf("openai chat: no choices")
	}
	return parseDraft(out.Choices[0].Message.Content, req.Fields)
}

// OllamaChat drafts sections through Ollama's /api/chat in JSON format.
type OllamaChat struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaChat creates an Ollama chat generator.
func NewOllamaChat(baseURL, model string, timeout time.Duration) *OllamaChat {
	return &OllamaChat{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type ollamaChatReq struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format"`
	Options  map[string]any `json:"options"`
}

type ollamaChatResp struct {
	Message chatMessage `json:"message"`
}

// Generate implements Generator.
func (c *OllamaChat) Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error) {
	body := ollamaChatReq{
		Model:    c.model,
		Messages: messages(req),
		Format:   "json",
		Options:  map[string]any{"temperature": DefaultTemperature, "num_predict": DefaultMaxTokens},
	}
	var out ollamaChatResp
	if err := postJSON(ctx, c.client, c.baseURL+"/api/chat", "", body, &out); err != nil {
		return GenerateResponse{}, fmt.Errorf("ollama chat: %w", err)
	}
	return parseDraft(out.Message.Content, req.Fields)
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

// parseDraft reads the model's JSON object. Requested fields that are not
// strings are kept in their JSON form.
func parseDraft(content string, fields []string) (GenerateResponse, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return GenerateResponse{}, fmt.Errorf("%w: response is not a JSON object: %v", ErrIncompleteDraft, err)
	}

	var resp GenerateResponse
	if wp, ok := raw["work_packages"]; ok {
		if err := json.Unmarshal(wp, &resp.WorkPackages); err != nil {
			return GenerateResponse{}, fmt.Errorf("%w: work_packages: %v", ErrIncompleteDraft, err)
		}
	}
	if len(fields) > 0 {
		resp.Fields = make(map[string]string, len(fields))
	}
	for _, f := range fields {
		v, ok := raw[f]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(v, &s) != nil {
			s = string(v)
		}
		resp.Fields[f] = s
	}
	return resp, nil
}
