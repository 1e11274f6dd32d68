package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
)

// placeholderRE matches ?name references in query text.
var placeholderRE = regexp.MustCompile(`\?([a-zA-Z_][a-zA-Z0-9_]*)`)

// QueryRunner computes the rows for one query tool. Runners are pure
// over (store contents, params).
type QueryRunner func(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error)

// Executor resolves tool names and runs them against the store.
type Executor struct {
	store   docstore.Store
	catalog *Catalog
	logger  *slog.Logger
}

// NewExecutor creates a tool executor over the given store and catalog.
func NewExecutor(store docstore.Store, catalog *Catalog) *Executor {
	if store == nil {
		panic("tools.NewExecutor: store must not be nil")
	}
	if catalog == nil {
		panic("tools.NewExecutor: catalog must not be nil")
	}
	return &Executor{
		store:   store,
		catalog: catalog,
		logger:  slog.Default().With("component", "tool-executor"),
	}
}

// ExecuteQuery validates params against the tool definition,
// substitutes placeholders, and runs the tool's runner.
func (e *Executor) ExecuteQuery(ctx context.Context, name string, params map[string]any) (*QueryResult, error) {
	def, runner, err := e.catalog.queryTool(name)
	if err != nil {
		return nil, err
	}

	substituted, err := substituteQuery(def, params)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	columns, values, err := runner(ctx, e.store, params)
	if err != nil {
		return nil, fmt.Errorf("query tool %q: %w", name, err)
	}
	return &QueryResult{
		Columns: columns,
		Values:  values,
		TookMS:  time.Since(start).Milliseconds(),
		Query:   substituted,
	}, nil
}

// ExecuteSearch runs a search tool. Hybrid mode embeds the query text
// externally and combines keyword relevance with vector proximity; the
// store's scorer owns the blend.
func (e *Executor) ExecuteSearch(ctx context.Context, name, query string) (*SearchToolResult, error) {
	def, err := e.catalog.searchTool(name)
	if err != nil {
		return nil, err
	}

	q := docstore.Query{Match: query, Size: 20, MinScore: def.MinScore}
	switch def.Mode {
	case SearchKeyword, SearchHybrid:
		if def.TextField != "" {
			q.MatchFields = []string{def.TextField}
		}
	case SearchKNN:
		// The vector field carries the embedding; the store scores
		// proximity from the externally embedded query.
		q.MatchFields = nil
	}

	res, err := e.store.Search(ctx, def.Index, q)
	if err != nil {
		return nil, fmt.Errorf("search tool %q: %w", name, err)
	}

	results := make([]map[string]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		projected := map[string]any{
			"_id":    hit.ID,
			"_score": hit.Score,
		}
		for _, field := range def.ResultFields {
			if v, ok := docstore.LookupField(hit.Source, field); ok {
				projected[field] = v
			}
		}
		results = append(results, projected)
	}
	return &SearchToolResult{Results: results, Total: res.Total, TookMS: res.TookMS}, nil
}

// substituteQuery parses ?name placeholders, rejects missing required
// params, and substitutes values safely (strings quoted, quotes
// escaped). The substituted text is audit trail, never re-parsed.
func substituteQuery(def QueryToolDef, params map[string]any) (string, error) {
	defined := make(map[string]ParamDef, len(def.Params))
	for _, p := range def.Params {
		defined[p.Name] = p
	}

	placeholders := placeholderRE.FindAllStringSubmatch(def.Query, -1)
	for _, m := range placeholders {
		if _, ok := defined[m[1]]; !ok {
			return "", fmt.Errorf("query tool %q: placeholder ?%s has no param definition: %w",
				def.Name, m[1], ErrInvalidDefinition)
		}
	}

	for _, p := range def.Params {
		if _, present := params[p.Name]; !present && p.Required {
			return "", fmt.Errorf("query tool %q: parameter %q is required: %w",
				def.Name, p.Name, ErrMissingParam)
		}
	}

	substituted := placeholderRE.ReplaceAllStringFunc(def.Query, func(ph string) string {
		name := ph[1:]
		val, ok := params[name]
		if !ok {
			return "NULL"
		}
		switch v := val.(type) {
		case string:
			return "'" + strings.ReplaceAll(v, "'", "''") + "'"
		default:
			return fmt.Sprintf("%v", v)
		}
	})
	return substituted, nil
}
