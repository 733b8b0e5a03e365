package toolcatalog

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// CostKind selects how a tool's charge is derived from its usage measure.
type CostKind string

const (
	// CostPixel charges by image area: (width*height / measure_divisor) / scale_divisor.
	CostPixel CostKind = "pixel"
	// CostWord charges by answer word count: words / scale_divisor.
	CostWord CostKind = "word"
	// CostFlat charges a fixed number of credits per call.
	CostFlat CostKind = "flat"
)

// Tool describes one billable AI tool.
type Tool struct {
	Name           string   `yaml:"name"`
	Title          string   `yaml:"title"`
	CostKind       CostKind `yaml:"cost_kind"`
	MeasureDivisor int64    `yaml:"measure_divisor"` // raw measure units per billing unit
	ScaleDivisor   int64    `yaml:"scale_divisor"`   // billing units per credit
	FlatCredits    int64    `yaml:"flat_credits"`
}

// Cost converts a raw usage measure into whole credits. Integer division
// throughout; fractional remainders are free.
func (t Tool) Cost(measure int64) int64 {
	if measure < 0 {
		measure = 0
	}
	switch t.CostKind {
	case CostFlat:
		return t.FlatCredits
	case CostPixel, CostWord:
		units := measure
		if t.MeasureDivisor > 1 {
			units = measure / t.MeasureDivisor
		}
		if t.ScaleDivisor > 1 {
			units = units / t.ScaleDivisor
		}
		return units
	default:
		return 0
	}
}

// Validate reports whether the tool definition is usable.
func (t Tool) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("tool name required")
	}
	switch t.CostKind {
	case CostPixel, CostWord:
		if t.ScaleDivisor < 1 {
			return fmt.Errorf("tool %s: scale_divisor must be >= 1", t.Name)
		}
	case CostFlat:
		if t.FlatCredits < 0 {
			return fmt.Errorf("tool %s: flat_credits must not be negative", t.Name)
		}
	default:
		return fmt.Errorf("tool %s: invalid cost_kind %q", t.Name, t.CostKind)
	}
	return nil
}

// Catalog is the set of billable tools, keyed by name.
type Catalog struct {
	tools map[string]Tool
}

// Defaults returns the built-in tool catalog.
func Defaults() *Catalog {
	c := &Catalog{tools: map[string]Tool{}}
	for _, t := range []Tool{
		{Name: "cnic-extraction", Title: "CNIC Data Extraction", CostKind: CostPixel, MeasureDivisor: 1000, ScaleDivisor: 100},
		{Name: "emirates-id-processing", Title: "Emirates ID Processing", CostKind: CostPixel, MeasureDivisor: 1000, ScaleDivisor: 100},
		{Name: "chat-with-pdf", Title: "Document Q&A", CostKind: CostWord, MeasureDivisor: 1, ScaleDivisor: 100},
	} {
		c.tools[t.Name] = t
	}
	return c
}

type catalogFile struct {
	Tools []Tool `yaml:"tools"`
}

// Load reads a YAML catalog file and merges it over the built-in defaults.
// File entries replace defaults with the same name.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool catalog %s: %w", path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tool catalog %s: %w", path, err)
	}
	c := Defaults()
	for _, t := range file.Tools {
		if t.Name != "" && t.CostKind == "" {
			// name-only entries hide a default tool
			delete(c.tools, t.Name)
			continue
		}
		if err := t.Validate(); err != nil {
			return nil, err
		}
		c.tools[t.Name] = t
	}
	return c, nil
}

// Lookup returns the named tool and whether it exists.
func (c *Catalog) Lookup(name string) (Tool, bool) {
	t, ok := c.tools[strings.TrimSpace(name)]
	return t, ok
}

// List returns all tools sorted by name.
func (c *Catalog) List() []Tool {
	out := make([]Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
