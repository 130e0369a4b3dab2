package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"resume-tailor/internal/llm"
	"resume-tailor/internal/shared/telemetry"
	"resume-tailor/resume/model"
)

var apiURL = "https://api.openai.com/v1/chat/completions"

// TailorClient implements llm.Tailorer using OpenAI Chat Completions.
type TailorClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	// noTemperature lists models that reject an explicit temperature.
	noTemperature map[string]bool
}

// Options tunes a TailorClient.
type Options struct {
	Timeout             time.Duration
	NoTemperatureModels []string
}

// NewTailorClient constructs a new OpenAI client.
func NewTailorClient(apiKey, modelName string, opts Options) (*TailorClient, error) {
	if strings.TrimSpace(modelName) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	deny := make(map[string]bool, len(opts.NoTemperatureModels))
	for _, m := range opts.NoTemperatureModels {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			deny[m] = true
		}
	}
	return &TailorClient{
		apiKey:        apiKey,
		model:         modelName,
		httpClient:    &http.Client{Timeout: timeout},
		noTemperature: deny,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    *float32       `json:"temperature,omitempty"`
	ResponseFormat responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type apiError struct {
	status  int
	message string
	kind    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("openai http status %d: %s (%s)", e.status, e.message, e.kind)
}

func (e *apiError) temperatureUnsupported() bool {
	msg := strings.ToLower(e.message)
	return strings.Contains(msg, "temperature") &&
		(strings.Contains(msg, "unsupported") || strings.Contains(msg, "does not support"))
}

// Tailor rewrites the requested sections. Token usage covers every call made,
// including a JSON repair pass.
func (c *TailorClient) Tailor(ctx context.Context, input llm.TailorInput) (llm.TailorOutput, error) {
	sections := llm.TargetSections(input)
	out := llm.TailorOutput{Model: c.model}
	if len(sections) == 0 {
		return out, nil
	}

	messages, err := BuildPrompt(input.JobDescription, sections, input.Content, c.model)
	if err != nil {
		return llm.TailorOutput{}, err
	}
	out.PromptHash = hashPromptString(promptStringFromMessages(messages))

	raw, usage, err := c.complete(ctx, messages)
	if err != nil {
		return llm.TailorOutput{}, err
	}
	out.Usage = usage
	logUsage(c.model, out.PromptHash, usage)

	doc, err := decodeSections(raw, sections)
	if err == nil {
		out.Content = doc
		return out, nil
	}

	raw, usage, err = c.complete(ctx, buildFixPrompt(sections, c.model, raw))
	if err != nil {
		return llm.TailorOutput{}, err
	}
	out.Usage = out.Usage.Add(usage)
	logUsage(c.model, out.PromptHash, usage)

	doc, err = decodeSections(raw, sections)
	if err != nil {
		return llm.TailorOutput{}, err
	}
	out.Content = doc
	return out, nil
}

func (c *TailorClient) complete(ctx context.Context, messages []Message) ([]byte, llm.Usage, error) {
	withTemperature := !c.skipTemperature()
	raw, usage, err := c.completeOnce(ctx, messages, withTemperature)
	var apiErr *apiError
	if err != nil && withTemperature && errors.As(err, &apiErr) && apiErr.temperatureUnsupported() {
		telemetry.Warn("llm.temperature_retry", map[string]any{"model": c.model})
		return c.completeOnce(ctx, messages, false)
	}
	return raw, usage, err
}

func (c *TailorClient) skipTemperature() bool {
	if isGPT5(c.model) {
		return true
	}
	return c.noTemperature[strings.ToLower(strings.TrimSpace(c.model))]
}

func (c *TailorClient) completeOnce(ctx context.Context, messages []Message, withTemperature bool) ([]byte, llm.Usage, error) {
	reqMessages := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		reqMessages = append(reqMessages, chatMessage{Role: m.Role, Content: m.Content})
	}
	reqBody := chatRequest{
		Model:    c.model,
		Messages: reqMessages,
		ResponseFormat: responseFormat{
			Type: "json_object",
		},
	}
	if withTemperature {
		temp := float32(0)
		reqBody.Temperature = &temp
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Usage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "Client.Timeout") {
			return nil, llm.Usage{}, fmt.Errorf("openai request timeout: %w", err)
		}
		return nil, llm.Usage{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, llm.Usage{}, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		if resp.StatusCode >= 400 {
			return nil, llm.Usage{}, fmt.Errorf("openai http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return nil, llm.Usage{}, fmt.Errorf("openai response parse: %w", err)
	}
	if parsed.Error != nil {
		return nil, llm.Usage{}, &apiError{status: resp.StatusCode, message: parsed.Error.Message, kind: parsed.Error.Type}
	}
	if resp.StatusCode >= 400 {
		return nil, llm.Usage{}, fmt.Errorf("openai http status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if len(parsed.Choices) == 0 {
		return nil, llm.Usage{}, fmt.Errorf("openai response missing choices")
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return nil, llm.Usage{}, fmt.Errorf("openai response empty content")
	}
	return []byte(content), toUsage(parsed.Usage), nil
}

// decodeSections keeps only the requested sections. Keys the model invents
// are ignored; a response with none of the requested keys is invalid.
func decodeSections(raw []byte, sections []model.Section) (model.Document, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", llm.ErrInvalidOutput, err)
	}
	var doc model.Document
	found := 0
	for _, s := range sections {
		payload, ok := obj[string(s)]
		if !ok {
			continue
		}
		content, err := model.DecodeSection(s, payload)
		if err != nil {
			return model.Document{}, fmt.Errorf("%w: %v", llm.ErrInvalidOutput, err)
		}
		if err := doc.Set(s, content); err != nil {
			return model.Document{}, err
		}
		found++
	}
	if found == 0 {
		return model.Document{}, fmt.Errorf("%w: no requested sections in response", llm.ErrInvalidOutput)
	}
	if err := doc.Validate(); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", llm.ErrInvalidOutput, err)
	}
	return doc, nil
}

func toUsage(raw *chatUsage) llm.Usage {
	if raw == nil {
		return llm.Usage{}
	}
	total := raw.TotalTokens
	if total == 0 {
		total = raw.PromptTokens + raw.CompletionTokens
	}
	return llm.Usage{
		PromptTokens:     raw.PromptTokens,
		CompletionTokens: raw.CompletionTokens,
		TotalTokens:      total,
	}
}

func logUsage(modelName, promptHash string, usage llm.Usage) {
	telemetry.Info("llm.response", map[string]any{
		"model":             modelName,
		"prompt_hash":       promptHash,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
	})
}

func isGPT5(modelName string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(modelName)), "gpt-5")
}

var _ llm.Tailorer = (*TailorClient)(nil)
