package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/docsense/docsense/internal/billing"
	"github.com/docsense/docsense/internal/ledger"
	"github.com/docsense/docsense/internal/toolcatalog"
)

const maxImageBytes = 32 << 20

// handleInvokeTool runs a billable tool call: execute the tool, measure its
// usage, charge the caller, and only then release the output. Billing
// failures withhold the result.
func (s *Server) handleInvokeTool(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	toolName := chi.URLParam(r, "tool")
	tool, ok := s.catalog.Lookup(toolName)
	if !ok {
		s.respondError(w, http.StatusNotFound, fmt.Errorf("%w: %q", billing.ErrUnknownTool, toolName))
		return
	}

	source := ledger.CallSource(strings.TrimSpace(strings.ToLower(r.Header.Get("Call-Source"))))
	if source == "" {
		source = ledger.SourceAPI
	}
	if !ledger.ValidSource(source) {
		s.respondError(w, http.StatusBadRequest, fmt.Errorf("%w: %q", billing.ErrInvalidSource, source))
		return
	}

	var (
		result  any
		measure int64
	)
	switch tool.CostKind {
	case toolcatalog.CostPixel:
		img, err := readImage(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err)
			return
		}
		extracted, err := s.engine.ExtractDocument(r.Context(), tool.Name, img)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		result = extracted
		measure = billing.PixelArea(extracted.Width, extracted.Height)
	case toolcatalog.CostWord:
		var body struct {
			Question string `json:"question"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
			return
		}
		answer, err := s.engine.Answer(r.Context(), tool.Name, body.Question)
		if err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		result = answer
		measure = billing.CountWords(answer.Answer)
	case toolcatalog.CostFlat:
		result = map[string]any{"tool": tool.Name, "status": "accepted"}
	}

	receipt, err := s.meter.Charge(r.Context(), billing.ChargeRequest{
		UserID:   user.ID,
		ToolName: tool.Name,
		Source:   source,
		Measure:  measure,
	})
	if err != nil {
		s.respondChargeError(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"result":  result,
		"receipt": receipt,
	})
}

// readImage pulls the image payload from a multipart "image" field, or from
// the raw body for image/* content types.
func readImage(r *http.Request) ([]byte, error) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		if err := r.ParseMultipartForm(maxImageBytes); err != nil {
			return nil, fmt.Errorf("parse multipart form: %w", err)
		}
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, errors.New("image file required")
		}
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxImageBytes))
	}
	if strings.HasPrefix(ct, "image/") {
		return io.ReadAll(io.LimitReader(r.Body, maxImageBytes))
	}
	return nil, errors.New("image file required (multipart field \"image\" or an image/* body)")
}
