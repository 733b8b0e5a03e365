package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/docsense/docsense/internal/analyzer"
)

// Ensure Engine implements the analyzer capabilities.
var _ analyzer.Engine = (*Engine)(nil)

// Engine calls a docsense analyzer service over HTTP.
type Engine struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the remote analyzer engine.
type Config struct {
	BaseURL        string
	APIKey         string // optional
	RequestTimeout time.Duration
}

// New creates an Engine instance.
func New(cfg Config) (*Engine, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("analyzer: base url required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Engine{
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// ExtractDocument posts the document image to the analyzer's extraction
// endpoint and returns the parsed fields with the analyzed dimensions.
func (e *Engine) ExtractDocument(ctx context.Context, toolName string, image []byte) (*analyzer.ExtractResult, error) {
	if len(image) == 0 {
		return nil, errors.New("analyzer: empty image")
	}
	payload := map[string]interface{}{
		"tool":  toolName,
		"image": base64.StdEncoding.EncodeToString(image),
	}
	var result analyzer.ExtractResult
	if err := e.post(ctx, "/v1/extract", payload, &result); err != nil {
		return nil, err
	}
	if result.Width <= 0 || result.Height <= 0 {
		return nil, fmt.Errorf("analyzer: missing dimensions in extraction response (%dx%d)", result.Width, result.Height)
	}
	return &result, nil
}

// Answer posts the question to the analyzer's Q&A endpoint.
func (e *Engine) Answer(ctx context.Context, toolName, question string) (*analyzer.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("analyzer: empty question")
	}
	payload := map[string]interface{}{
		"tool":     toolName,
		"question": question,
	}
	var result analyzer.AnswerResult
	if err := e.post(ctx, "/v1/answer", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (e *Engine) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("analyzer: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("analyzer: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analyzer: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("analyzer: %s returned %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("analyzer: decode response: %w", err)
	}
	return nil
}
