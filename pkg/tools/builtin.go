package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vigil-soc/vigil/pkg/docstore"
)

// Built-in tool names referenced by the agent handlers.
const (
	ToolAlertEnrichment    = "alert-enrichment"
	ToolHistoricalFPRate   = "historical-fp-rate"
	ToolAssetCriticality   = "asset-criticality"
	ToolAttackChainTracer  = "attack-chain-tracer"
	ToolBlastRadius        = "blast-radius"
	ToolMITRELookup        = "mitre-lookup"
	ToolThreatIntelMatch   = "threat-intel-match"
	ToolChangeCorrelation  = "change-correlation"
	ToolIoCSweep           = "ioc-sweep"
	ToolBehavioralAnomaly  = "behavioral-anomaly"
	ToolHealthComparison   = "health-comparison"
	ToolIncidentSimilarity = "incident-similarity"
	ToolRunbookSearch      = "runbook-search"
)

// Builtin returns the catalog of built-in tools. Registration errors
// here are programming errors, so they panic.
func Builtin() *Catalog {
	c := NewCatalog()
	mustQuery := func(def QueryToolDef, runner QueryRunner) {
		if err := c.RegisterQuery(def, runner); err != nil {
			panic(fmt.Sprintf("builtin tool catalog: %v", err))
		}
	}
	mustSearch := func(def SearchToolDef) {
		if err := c.RegisterSearch(def); err != nil {
			panic(fmt.Sprintf("builtin tool catalog: %v", err))
		}
	}

	mustQuery(QueryToolDef{
		Name:        ToolAlertEnrichment,
		Description: "Correlated alert counts and raw risk signal for a rule/source pair.",
		Index:       docstore.IndexAlertsPattern,
		Params: []ParamDef{
			{Name: "rule_id", Type: "string", Required: true},
			{Name: "source_ip", Type: "string"},
		},
		Query: `FROM vigil-alerts-* | WHERE rule_id == ?rule_id AND source_ip == ?source_ip | STATS correlated = COUNT(*)`,
	}, runAlertEnrichment)

	mustQuery(QueryToolDef{
		Name:        ToolHistoricalFPRate,
		Description: "Historical false-positive rate for a detection rule.",
		Index:       docstore.IndexBaselines,
		Params:      []ParamDef{{Name: "rule_id", Type: "string", Required: true}},
		Query:       `FROM vigil-baselines | WHERE rule_id == ?rule_id | KEEP fp_rate`,
	}, runHistoricalFPRate)

	mustQuery(QueryToolDef{
		Name:        ToolAssetCriticality,
		Description: "Criticality tier for an asset.",
		Index:       docstore.IndexAssets,
		Params:      []ParamDef{{Name: "asset_id", Type: "string", Required: true}},
		Query:       `FROM vigil-assets | WHERE asset_id == ?asset_id | KEEP tier, name, services`,
	}, runAssetCriticality)

	mustQuery(QueryToolDef{
		Name:        ToolAttackChainTracer,
		Description: "Chronological events from a source within a time window.",
		Index:       docstore.IndexLogsPattern,
		Params: []ParamDef{
			{Name: "source_ip", Type: "string", Required: true},
			{Name: "window_hours", Type: "number", Required: true},
		},
		Query: `FROM logs-*-* | WHERE source_ip == ?source_ip AND @timestamp >= NOW() - ?window_hours hours | SORT @timestamp ASC`,
	}, runAttackChainTracer)

	mustQuery(QueryToolDef{
		Name:        ToolBlastRadius,
		Description: "Assets reached from the affected asset, with confidence.",
		Index:       docstore.IndexLogsPattern,
		Params:      []ParamDef{{Name: "asset_id", Type: "string", Required: true}},
		Query:       `FROM logs-*-* | WHERE source_asset == ?asset_id | KEEP dest_asset, confidence`,
	}, runBlastRadius)

	mustQuery(QueryToolDef{
		Name:        ToolMITRELookup,
		Description: "MITRE technique for an observed event pattern.",
		Index:       docstore.IndexThreatIntel,
		Params:      []ParamDef{{Name: "event", Type: "string", Required: true}},
		Query:       `FROM vigil-threat-intel | WHERE kind == 'mitre' AND event_pattern : ?event | KEEP technique, name`,
	}, runMITRELookup)

	mustQuery(QueryToolDef{
		Name:        ToolThreatIntelMatch,
		Description: "Known-bad indicator lookup.",
		Index:       docstore.IndexThreatIntel,
		Params:      []ParamDef{{Name: "indicator", Type: "string", Required: true}},
		Query:       `FROM vigil-threat-intel | WHERE indicator == ?indicator | KEEP indicator, type, source, campaign`,
	}, runThreatIntelMatch)

	mustQuery(QueryToolDef{
		Name:        ToolChangeCorrelation,
		Description: "Recent deployment events near a point in time.",
		Index:       docstore.IndexGitHubEventsPat,
		Params: []ParamDef{
			{Name: "service", Type: "string"},
			{Name: "window_minutes", Type: "number", Required: true},
		},
		Query: `FROM github-events-* | WHERE service == ?service AND @timestamp >= NOW() - ?window_minutes minutes | SORT @timestamp DESC`,
	}, runChangeCorrelation)

	mustQuery(QueryToolDef{
		Name:        ToolIoCSweep,
		Description: "Seven-day indicator sweep across security indices.",
		Index:       docstore.IndexLogsPattern,
		Params:      []ParamDef{{Name: "indicator", Type: "string", Required: true}},
		Query:       `FROM logs-*-* | WHERE match == ?indicator AND @timestamp >= NOW() - 7 days | KEEP host, user, @timestamp`,
	}, runIoCSweep)

	mustQuery(QueryToolDef{
		Name:        ToolBehavioralAnomaly,
		Description: "Behavioral anomaly score for an entity.",
		Index:       docstore.IndexBaselines,
		Params:      []ParamDef{{Name: "entity", Type: "string", Required: true}},
		Query:       `FROM vigil-baselines | WHERE entity == ?entity AND kind == 'anomaly' | KEEP anomaly_score`,
	}, runBehavioralAnomaly)

	mustQuery(QueryToolDef{
		Name:        ToolHealthComparison,
		Description: "Most recent value of a service health metric.",
		Index:       docstore.IndexMetricsPattern,
		Params: []ParamDef{
			{Name: "metric", Type: "string", Required: true},
			{Name: "service_name", Type: "string", Required: true},
		},
		Query: `FROM vigil-metrics-* | WHERE service_name == ?service_name | SORT @timestamp DESC | LIMIT 1 | KEEP ?metric`,
	}, runHealthComparison)

	mustSearch(SearchToolDef{
		Name:         ToolIncidentSimilarity,
		Mode:         SearchHybrid,
		Index:        docstore.IndexIncidents,
		TextField:    "investigation_summary",
		VectorField:  "summary_vector",
		ResultFields: []string{"incident_id", "status", "investigation_summary"},
	})

	mustSearch(SearchToolDef{
		Name:         ToolRunbookSearch,
		Mode:         SearchKeyword,
		Index:        docstore.IndexRunbooks,
		MinScore:     0.2,
		ResultFields: []string{"runbook_id", "name"},
	})

	return c
}

func runAlertEnrichment(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	ruleID, _ := params["rule_id"].(string)
	sourceIP, _ := params["source_ip"].(string)

	terms := map[string]any{"rule_id": ruleID}
	if sourceIP != "" {
		terms["source_ip"] = sourceIP
	}
	correlated, err := store.Count(ctx, docstore.IndexAlertsPattern, docstore.Query{Terms: terms})
	if err != nil {
		return nil, nil, err
	}

	riskSignal := 0.0
	if row, err := baselineRow(ctx, store, "rule-"+ruleID); err == nil {
		if v, ok := row["risk_signal"].(float64); ok {
			riskSignal = v
		}
	}
	return []string{"correlated_alerts", "risk_signal"},
		[][]any{{correlated, riskSignal}}, nil
}

func runHistoricalFPRate(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	ruleID, _ := params["rule_id"].(string)
	fpRate := 0.0
	if row, err := baselineRow(ctx, store, "rule-"+ruleID); err == nil {
		if v, ok := row["fp_rate"].(float64); ok {
			fpRate = v
		}
	}
	return []string{"fp_rate"}, [][]any{{fpRate}}, nil
}

func runAssetCriticality(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	assetID, _ := params["asset_id"].(string)
	doc, err := store.Get(ctx, docstore.IndexAssets, assetID)
	if errors.Is(err, docstore.ErrNotFound) {
		return []string{"tier", "name"}, [][]any{{"tier-3", assetID}}, nil
	}
	if err != nil {
		return nil, nil, err
	}
	tier, _ := doc.Source["tier"].(string)
	name, _ := doc.Source["name"].(string)
	return []string{"tier", "name", "services"},
		[][]any{{tier, name, doc.Source["services"]}}, nil
}

func runAttackChainTracer(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	sourceIP, _ := params["source_ip"].(string)
	hours, _ := asNumber(params["window_hours"])

	res, err := store.Search(ctx, docstore.IndexLogsPattern, docstore.Query{
		Terms: map[string]any{"source_ip": sourceIP},
		Ranges: map[string]docstore.Range{
			"@timestamp": {GTE: time.Now().UTC().Add(-time.Duration(hours) * time.Hour).Format(time.RFC3339)},
		},
		Sort: []docstore.SortField{{Field: "@timestamp"}},
		Size: 100,
	})
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		values = append(values, []any{
			hit.Source["@timestamp"], hit.Source["event"], hit.Source["user"],
		})
	}
	return []string{"@timestamp", "event", "user"}, values, nil
}

func runBlastRadius(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	assetID, _ := params["asset_id"].(string)
	res, err := store.Search(ctx, docstore.IndexLogsPattern, docstore.Query{
		Terms: map[string]any{"source_asset": assetID},
		Size:  100,
	})
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		confidence := 0.5
		if v, ok := hit.Source["confidence"].(float64); ok {
			confidence = v
		}
		values = append(values, []any{hit.Source["dest_asset"], confidence})
	}
	return []string{"dest_asset", "confidence"}, values, nil
}

func runMITRELookup(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	event, _ := params["event"].(string)
	res, err := store.Search(ctx, docstore.IndexThreatIntel, docstore.Query{
		Terms:       map[string]any{"kind": "mitre"},
		Match:       event,
		MatchFields: []string{"event_pattern"},
		Size:        5,
	})
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		values = append(values, []any{hit.Source["technique"], hit.Source["name"]})
	}
	return []string{"technique", "name"}, values, nil
}

func runThreatIntelMatch(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	indicator, _ := params["indicator"].(string)
	res, err := store.Search(ctx, docstore.IndexThreatIntel, docstore.Query{
		Terms: map[string]any{"indicator": indicator},
		Size:  10,
	})
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		values = append(values, []any{
			hit.Source["indicator"], hit.Source["type"], hit.Source["source"], hit.Source["campaign"],
		})
	}
	return []string{"indicator", "type", "source", "campaign"}, values, nil
}

func runChangeCorrelation(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	minutes, _ := asNumber(params["window_minutes"])
	q := docstore.Query{
		Ranges: map[string]docstore.Range{
			"@timestamp": {GTE: time.Now().UTC().Add(-time.Duration(minutes) * time.Minute).Format(time.RFC3339)},
		},
		Sort: []docstore.SortField{{Field: "@timestamp", Desc: true}},
		Size: 10,
	}
	if service, _ := params["service"].(string); service != "" {
		q.Terms = map[string]any{"service": service}
	}
	res, err := store.Search(ctx, docstore.IndexGitHubEventsPat, q)
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		values = append(values, []any{
			hit.Source["commit"], hit.Source["author"], hit.Source["@timestamp"], hit.Source["service"],
		})
	}
	return []string{"commit", "author", "@timestamp", "service"}, values, nil
}

func runIoCSweep(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	indicator, _ := params["indicator"].(string)
	res, err := store.Search(ctx, docstore.IndexLogsPattern, docstore.Query{
		Match: indicator,
		Ranges: map[string]docstore.Range{
			"@timestamp": {GTE: time.Now().UTC().Add(-7 * 24 * time.Hour).Format(time.RFC3339)},
		},
		Size: 200,
	})
	if err != nil {
		return nil, nil, err
	}
	values := make([][]any, 0, len(res.Hits))
	for _, hit := range res.Hits {
		values = append(values, []any{
			hit.Source["host"], hit.Source["user"], hit.Source["@timestamp"], indicator,
		})
	}
	return []string{"host", "user", "@timestamp", "indicator"}, values, nil
}

func runBehavioralAnomaly(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	entity, _ := params["entity"].(string)
	score := 0.0
	if row, err := baselineRow(ctx, store, "anomaly-"+entity); err == nil {
		if v, ok := row["anomaly_score"].(float64); ok {
			score = v
		}
	}
	return []string{"entity", "anomaly_score"}, [][]any{{entity, score}}, nil
}

func runHealthComparison(ctx context.Context, store docstore.Store, params map[string]any) ([]string, [][]any, error) {
	metric, _ := params["metric"].(string)
	service, _ := params["service_name"].(string)

	res, err := store.Search(ctx, docstore.IndexMetricsPattern, docstore.Query{
		Terms: map[string]any{"service_name": service},
		Sort:  []docstore.SortField{{Field: "@timestamp", Desc: true}},
		Size:  1,
	})
	if err != nil {
		return nil, nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil, fmt.Errorf("no metrics for service %q", service)
	}
	value, ok := res.Hits[0].Source[metric].(float64)
	if !ok {
		return nil, nil, fmt.Errorf("metric %q absent from latest %q document", metric, service)
	}
	return []string{"metric", "value", "@timestamp"},
		[][]any{{metric, value, res.Hits[0].Source["@timestamp"]}}, nil
}

func baselineRow(ctx context.Context, store docstore.Store, id string) (map[string]any, error) {
	doc, err := store.Get(ctx, docstore.IndexBaselines, id)
	if err != nil {
		return nil, err
	}
	return doc.Source, nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
