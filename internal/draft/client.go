// Package draft adapts the external AI backend behind a uniform
// reply-drafting contract with stateless and session modes.
package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an OpenAI-compatible backend: chat completions for
// stateless drafting, threads for session mode, and audio
// transcription.
type Client struct {
	apiKey       string
	apiBase      string
	model        string
	assistantID  string
	pollInterval time.Duration
	httpClient   *http.Client
}

// NewClient creates a backend client. apiBase defaults to the OpenAI
// endpoint; assistantID is only needed for session mode.
func NewClient(apiKey, apiBase, model, assistantID string) *Client {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		apiKey:       apiKey,
		apiBase:      strings.TrimSuffix(apiBase, "/"),
		model:        model,
		assistantID:  assistantID,
		pollInterval: time.Second,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// SetRunPollInterval overrides how often session runs are polled for
// completion.
func (c *Client) SetRunPollInterval(d time.Duration) {
	if d > 0 {
		c.pollInterval = d
	}
}

// ChatCompletion sends one completion request and returns the reply
// text.
func (c *Client) ChatCompletion(ctx context.Context, messages []Message) (string, error) {
	body := map[string]any{
		"model":    c.model,
		"messages": messages,
	}
	respBody, err := c.doJSON(ctx, http.MethodPost, "/chat/completions", body, false)
	if err != nil {
		return "", err
	}

	var apiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return strings.TrimSpace(apiResp.Choices[0].Message.Content), nil
}

// CreateSession opens a new backend thread and returns its handle.
func (c *Client) CreateSession(ctx context.Context) (string, error) {
	respBody, err := c.doJSON(ctx, http.MethodPost, "/threads", map[string]any{}, true)
	if err != nil {
		return "", err
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &created); err != nil {
		return "", fmt.Errorf("parse thread: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("no thread id in response")
	}
	return created.ID, nil
}

// ContinueSession appends text to the thread, runs the assistant, polls
// the run to completion, and returns the newest assistant reply.
func (c *Client) ContinueSession(ctx context.Context, sessionID, text string) (string, error) {
	if c.assistantID == "" {
		return "", fmt.Errorf("session mode requires an assistant id")
	}

	if _, err := c.doJSON(ctx, http.MethodPost, "/threads/"+sessionID+"/messages", map[string]any{
		"role":    "user",
		"content": text,
	}, true); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}

	respBody, err := c.doJSON(ctx, http.MethodPost, "/threads/"+sessionID+"/runs", map[string]any{
		"assistant_id": c.assistantID,
	}, true)
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(respBody, &run); err != nil {
		return "", fmt.Errorf("parse run: %w", err)
	}

	for run.Status != "completed" {
		switch run.Status {
		case "failed", "cancelled", "expired", "incomplete":
			return "", fmt.Errorf("run %s ended %s", run.ID, run.Status)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
		respBody, err = c.doJSON(ctx, http.MethodGet, "/threads/"+sessionID+"/runs/"+run.ID, nil, true)
		if err != nil {
			return "", fmt.Errorf("poll run: %w", err)
		}
		if err := json.Unmarshal(respBody, &run); err != nil {
			return "", fmt.Errorf("parse run: %w", err)
		}
	}

	return c.latestAssistantMessage(ctx, sessionID)
}

func (c *Client) latestAssistantMessage(ctx context.Context, sessionID string) (string, error) {
	respBody, err := c.doJSON(ctx, http.MethodGet, "/threads/"+sessionID+"/messages?limit=1&order=desc", nil, true)
	if err != nil {
		return "", fmt.Errorf("read messages: %w", err)
	}
	var list struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := json.Unmarshal(respBody, &list); err != nil {
		return "", fmt.Errorf("parse messages: %w", err)
	}
	if len(list.Data) == 0 || list.Data[0].Role != "assistant" {
		return "", fmt.Errorf("no assistant reply in thread")
	}
	for _, part := range list.Data[0].Content {
		if part.Type == "text" {
			return strings.TrimSpace(part.Text.Value), nil
		}
	}
	return "", fmt.Errorf("assistant reply has no text content")
}

// Transcribe converts an audio file to text via the backend's Whisper
// endpoint.
func (c *Client) Transcribe(ctx context.Context, filePath string) (string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", fmt.Errorf("copy file to form: %w", err)
	}
	_ = writer.WriteField("model", "whisper-1")
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close form writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var audioResp struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &audioResp); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return audioResp.Text, nil
}

// doJSON performs one JSON request against the backend. The assistants
// flag adds the beta header the threads endpoints require.
func (c *Client) doJSON(ctx context.Context, method, path string, payload any, assistants bool) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if assistants {
		httpReq.Header.Set("OpenAI-Beta", "assistants=v2")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
