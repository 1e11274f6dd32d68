// Package tools loads query/search tool definitions and executes them
// against the document store. Agents treat tools as pure functions:
// (name, params) → rows for query tools, (name, query) → hits for
// search tools.
package tools

import (
	"errors"
	"fmt"
)

// Sentinel errors for tool execution.
var (
	// ErrToolNotFound is returned when a referenced tool is not in
	// the catalog. Configuration error: workers crash at startup if
	// they reference an unknown tool.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidDefinition is returned for malformed tool
	// definitions (bad placeholders, missing fields).
	ErrInvalidDefinition = errors.New("invalid tool definition")

	// ErrMissingParam is returned when a required parameter is
	// absent from an execution request.
	ErrMissingParam = errors.New("missing required parameter")
)

// Search tool modes.
const (
	SearchKeyword = "keyword"
	SearchHybrid  = "hybrid"
	SearchKNN     = "knn"
)

// ParamDef describes one query-tool parameter.
type ParamDef struct {
	Name     string `yaml:"name" json:"name"`
	Type     string `yaml:"type" json:"type"` // string, number, bool
	Required bool   `yaml:"required" json:"required"`
}

// QueryToolDef is a parameterized analytics query. The query text
// references parameters as ?name placeholders; every placeholder must
// have a matching param definition.
type QueryToolDef struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Index       string     `yaml:"index" json:"index"`
	Params      []ParamDef `yaml:"params" json:"params"`
	Query       string     `yaml:"query" json:"query"`
}

// SearchToolDef is a keyword/hybrid/knn search over one index.
type SearchToolDef struct {
	Name         string   `yaml:"name" json:"name"`
	Mode         string   `yaml:"mode" json:"mode"`
	Index        string   `yaml:"index" json:"index"`
	TextField    string   `yaml:"text_field" json:"text_field"`
	VectorField  string   `yaml:"vector_field" json:"vector_field"`
	MinScore     float64  `yaml:"min_score" json:"min_score"`
	ResultFields []string `yaml:"result_fields" json:"result_fields"`
}

// validateDef checks structural rules that don't depend on runtime
// parameters.
func (d SearchToolDef) validate() error {
	switch d.Mode {
	case SearchKeyword:
		// optional filter only; nothing more required
	case SearchHybrid:
		if d.TextField == "" || d.VectorField == "" {
			return fmt.Errorf("search tool %q: hybrid requires text_field and vector_field: %w", d.Name, ErrInvalidDefinition)
		}
	case SearchKNN:
		if d.VectorField == "" {
			return fmt.Errorf("search tool %q: knn requires vector_field: %w", d.Name, ErrInvalidDefinition)
		}
	default:
		return fmt.Errorf("search tool %q: unknown mode %q: %w", d.Name, d.Mode, ErrInvalidDefinition)
	}
	if d.Index == "" {
		return fmt.Errorf("search tool %q: index is required: %w", d.Name, ErrInvalidDefinition)
	}
	return nil
}

// QueryResult is the columnar result of a query tool.
type QueryResult struct {
	Columns []string `json:"columns"`
	Values  [][]any  `json:"values"`
	TookMS  int64    `json:"took_ms"`
	// Query is the substituted query text, kept for audit.
	Query string `json:"query,omitempty"`
}

// Row returns the first row as a column → value map, or nil when the
// result is empty. Convenience for single-row analytics.
func (r *QueryResult) Row() map[string]any {
	if r == nil || len(r.Values) == 0 {
		return nil
	}
	row := make(map[string]any, len(r.Columns))
	for i, col := range r.Columns {
		if i < len(r.Values[0]) {
			row[col] = r.Values[0][i]
		}
	}
	return row
}

// SearchToolResult carries projected hits for a search tool.
type SearchToolResult struct {
	Results []map[string]any `json:"results"`
	Total   int              `json:"total"`
	TookMS  int64            `json:"took_ms"`
}
