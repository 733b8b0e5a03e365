package loopback

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"

	// register decoders for dimension probing
	_ "image/jpeg"
	_ "image/png"

	"github.com/docsense/docsense/internal/analyzer"
)

// Ensure Engine implements the analyzer capabilities.
var _ analyzer.Engine = (*Engine)(nil)

// Engine fabricates deterministic analyzer results. It is used when no real
// analysis backend is configured and by the test suite.
type Engine struct{}

// New creates an Engine instance.
func New() *Engine {
	return &Engine{}
}

// ExtractDocument probes the image header for its dimensions and echoes a
// deterministic field set.
func (e *Engine) ExtractDocument(ctx context.Context, toolName string, img []byte) (*analyzer.ExtractResult, error) {
	if len(img) == 0 {
		return nil, errors.New("empty image")
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &analyzer.ExtractResult{
		Width:  cfg.Width,
		Height: cfg.Height,
		Fields: map[string]string{
			"tool":   toolName,
			"format": format,
			"status": "extracted",
		},
	}, nil
}

// Answer echoes the question back as a deterministic answer.
func (e *Engine) Answer(ctx context.Context, toolName, question string) (*analyzer.AnswerResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("empty question")
	}
	return &analyzer.AnswerResult{
		Answer: "[loopback] " + question,
	}, nil
}
