package toolcatalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultsCost(t *testing.T) {
	c := Defaults()

	cnic, ok := c.Lookup("cnic-extraction")
	if !ok {
		t.Fatalf("expected cnic-extraction in defaults")
	}
	// 1000x1000 image -> 1,000,000 pixels -> 1000 units -> 10 credits
	if got := cnic.Cost(1000 * 1000); got != 10 {
		t.Fatalf("expected 10 credits for a 1000x1000 image, got %d", got)
	}
	// sub-unit areas are free
	if got := cnic.Cost(99_999); got != 0 {
		t.Fatalf("expected 0 credits for a tiny image, got %d", got)
	}

	chat, ok := c.Lookup("chat-with-pdf")
	if !ok {
		t.Fatalf("expected chat-with-pdf in defaults")
	}
	if got := chat.Cost(250); got != 2 {
		t.Fatalf("expected 2 credits for a 250-word answer, got %d", got)
	}
	if got := chat.Cost(99); got != 0 {
		t.Fatalf("expected 0 credits for a 99-word answer, got %d", got)
	}
}

func TestFlatCost(t *testing.T) {
	tool := Tool{Name: "summarize", CostKind: CostFlat, FlatCredits: 5}
	if err := tool.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := tool.Cost(123456); got != 5 {
		t.Fatalf("flat tools ignore the measure, got %d", got)
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	content := `tools:
  - name: summarize
    title: Summarizer
    cost_kind: flat
    flat_credits: 3
  - name: cnic-extraction
    title: CNIC Data Extraction
    cost_kind: pixel
    measure_divisor: 1000
    scale_divisor: 50
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	sum, ok := c.Lookup("summarize")
	if !ok || sum.FlatCredits != 3 {
		t.Fatalf("expected file tool, got %+v ok=%v", sum, ok)
	}
	cnic, _ := c.Lookup("cnic-extraction")
	if cnic.ScaleDivisor != 50 {
		t.Fatalf("file entry should override the default, got %+v", cnic)
	}
	if _, ok := c.Lookup("chat-with-pdf"); !ok {
		t.Fatalf("untouched defaults must survive the merge")
	}
	if len(c.List()) != 4 {
		t.Fatalf("expected 4 tools, got %d", len(c.List()))
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tools.yaml")
	if err := os.WriteFile(path, []byte("tools:\n  - name: broken\n    cost_kind: mystery\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid cost kind")
	}
}
