package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	generationModel = "gemini-2.5-flash"
	embeddingModel  = "text-embedding-004"
	baseURL         = "https://generativelanguage.googleapis.com/v1beta/models"
)

// ErrEmptyInput is returned when a caller asks for an embedding or a
// generation over empty text. Empty bodies are filtered upstream, so hitting
// this indicates a caller bug rather than a provider problem.
var ErrEmptyInput = errors.New("gemini: empty input")

type GeminiService struct {
	ApiKey string
	client *http.Client
}

func NewGeminiService(apiKey string) *GeminiService {
	return &GeminiService{
		ApiKey: apiKey,
		client: &http.Client{},
	}
}

// GenerateContent sends one prompt to the generation model and returns the
// first candidate's text.
func (g *GeminiService) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyInput
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", baseURL, generationModel, g.ApiKey)

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": prompt}}},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("Gemini API error: %s", string(respBody))
	}

	var result map[string]interface{}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", err
	}

	// Parse the first candidate text from the response
	if c, ok := result["candidates"].([]interface{}); ok && len(c) > 0 {
		if cand, ok := c[0].(map[string]interface{}); ok {
			if content, ok := cand["content"].(map[string]interface{}); ok {
				if parts, ok := content["parts"].([]interface{}); ok && len(parts) > 0 {
					if part, ok := parts[0].(map[string]interface{}); ok {
						if text, ok := part["text"].(string); ok {
							return strings.TrimSpace(text), nil
						}
					}
				}
			}
		}
	}
	return "", fmt.Errorf("no content returned")
}

// SummarizeEmail produces a one-sentence summary plus extracted action items
// for an email body.
func (g *GeminiService) SummarizeEmail(ctx context.Context, emailText string) (string, error) {
	if strings.TrimSpace(emailText) == "" {
		return "", ErrEmptyInput
	}

	prompt := fmt.Sprintf(`As a highly efficient personal assistant, analyze the following email content.
Provide a concise, one-sentence summary of the key takeaway.
Then, list any clear action items for the recipient, each on a new line starting with a dash.
If there are no action items, simply state "No action items."

Email Content:
---
%s
---`, emailText)

	return g.GenerateContent(ctx, prompt)
}

// EmbedContent returns the fixed-dimension embedding vector for text.
func (g *GeminiService) EmbedContent(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	url := fmt.Sprintf("%s/%s:embedContent?key=%s", baseURL, embeddingModel, g.ApiKey)

	payload := map[string]interface{}{
		"content": map[string]interface{}{
			"parts": []map[string]string{{"text": text}},
		},
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Gemini API error: %s", string(respBody))
	}

	var result struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}

	return result.Embedding.Values, nil
}
