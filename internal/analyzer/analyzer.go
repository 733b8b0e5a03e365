package analyzer

import "context"

// ExtractResult is the outcome of running a document image through an
// extraction tool. Width and Height describe the analyzed image and feed
// the pixel-based usage measure.
type ExtractResult struct {
	Width  int               `json:"width"`
	Height int               `json:"height"`
	Fields map[string]string `json:"fields"`
}

// AnswerResult is the outcome of a document Q&A request. The answer text
// feeds the word-based usage measure.
type AnswerResult struct {
	Answer string `json:"answer"`
}

// DocumentExtractor runs identity-document extraction tools.
type DocumentExtractor interface {
	ExtractDocument(ctx context.Context, toolName string, image []byte) (*ExtractResult, error)
}

// DocumentQA answers questions against an uploaded document.
type DocumentQA interface {
	Answer(ctx context.Context, toolName, question string) (*AnswerResult, error)
}

// Engine bundles the analyzer capabilities the daemon needs.
type Engine interface {
	DocumentExtractor
	DocumentQA
}
