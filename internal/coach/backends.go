package coach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ExternalAPI talks to an OpenAI-compatible chat completion endpoint.
type ExternalAPI struct {
	http     *http.Client
	endpoint string
	apiKey   string
	model    string
}

// NewExternalAPI builds the backend. The endpoint should be the full
// chat completions URL.
func NewExternalAPI(endpoint, apiKey, model string) *ExternalAPI {
	return &ExternalAPI{
		http:     &http.Client{Timeout: callTimeout},
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (e *ExternalAPI) Comment(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    e.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("coach api status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("coach api returned no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("coach api returned empty commentary")
	}
	return text, nil
}

// LocalLLM talks to an Ollama-style generate endpoint on localhost.
type LocalLLM struct {
	http     *http.Client
	endpoint string
	model    string
}

// NewLocalLLM builds the backend; endpoint is the server base URL.
func NewLocalLLM(endpoint, model string) *LocalLLM {
	return &LocalLLM{
		http:     &http.Client{Timeout: callTimeout},
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Options struct {
		NumPredict int `json:"num_predict"`
	} `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (l *LocalLLM) Comment(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{Model: l.model, Prompt: prompt}
	reqBody.Options.NumPredict = 120

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("local llm status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	text := strings.TrimSpace(out.Response)
	if text == "" {
		return "", fmt.Errorf("local llm returned empty commentary")
	}
	return text, nil
}
