package agents

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/docstore"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/scoring"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// Neutral enrichment defaults used when a tool call fails. Triage
// never blocks the pipeline on tool errors.
const (
	defaultRiskSignal = 0.0
	defaultFPRate     = 0.0
	defaultTier       = "tier-3"
)

// Triage enriches and scores one alert. The three enrichment tools run
// concurrently; failures degrade to neutral defaults.
type Triage struct {
	tools      *tools.Executor
	store      docstore.Store
	thresholds scoring.Thresholds
	logger     *slog.Logger
}

// NewTriage builds the triage agent.
func NewTriage(toolExec *tools.Executor, store docstore.Store, thresholds scoring.Thresholds) *Triage {
	if toolExec == nil {
		panic("triage agent requires a tool executor")
	}
	if store == nil {
		panic("triage agent requires a store")
	}
	return &Triage{
		tools:      toolExec,
		store:      store,
		thresholds: thresholds,
		logger:     slog.Default().With("component", "triage-agent"),
	}
}

func (t *Triage) ID() string { return AgentTriage }

func (t *Triage) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.TriageRequest](env)
	if err != nil {
		return nil, err
	}
	alert := req.Alert

	var (
		correlated int
		riskSignal = defaultRiskSignal
		fpRate     = defaultFPRate
		tier       = defaultTier
		assetName  string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := t.tools.ExecuteQuery(gctx, tools.ToolAlertEnrichment, map[string]any{
			"rule_id": alert.RuleID, "source_ip": alert.SourceIP,
		})
		if err != nil {
			t.logger.Warn("Enrichment tool failed, using defaults", "alert_id", alert.AlertID, "error", err)
			return nil
		}
		row := res.Row()
		if v, ok := row["correlated_alerts"].(int); ok {
			correlated = v
		}
		if v, ok := row["risk_signal"].(float64); ok {
			riskSignal = v
		}
		return nil
	})
	g.Go(func() error {
		res, err := t.tools.ExecuteQuery(gctx, tools.ToolHistoricalFPRate, map[string]any{
			"rule_id": alert.RuleID,
		})
		if err != nil {
			t.logger.Warn("FP-rate tool failed, using defaults", "alert_id", alert.AlertID, "error", err)
			return nil
		}
		if v, ok := res.Row()["fp_rate"].(float64); ok {
			fpRate = v
		}
		return nil
	})
	g.Go(func() error {
		if alert.AssetID == "" {
			return nil
		}
		res, err := t.tools.ExecuteQuery(gctx, tools.ToolAssetCriticality, map[string]any{
			"asset_id": alert.AssetID,
		})
		if err != nil {
			t.logger.Warn("Criticality tool failed, using defaults", "alert_id", alert.AlertID, "error", err)
			return nil
		}
		row := res.Row()
		if v, ok := row["tier"].(string); ok && v != "" {
			tier = v
		}
		assetName, _ = row["name"].(string)
		return nil
	})
	_ = g.Wait() // tool errors degrade, never propagate

	score := scoring.PriorityScore(scoring.Inputs{
		Severity:         alert.Severity,
		AssetTier:        tier,
		RiskSignal:       riskSignal,
		HistoricalFPRate: fpRate,
	})
	disposition := scoring.Disposition(score, t.thresholds)

	enrichment := map[string]any{
		"correlated_alerts": correlated,
		"risk_signal":       riskSignal,
		"fp_rate":           fpRate,
		"asset_tier":        tier,
	}
	if assetName != "" {
		enrichment["asset_name"] = assetName
	}

	t.writeBack(ctx, alert, score, disposition, enrichment)

	return contracts.TriageResponse{
		AlertID:       alert.AlertID,
		PriorityScore: score,
		Disposition:   disposition,
		Enrichment:    enrichment,
	}, nil
}

// writeBack persists the triage verdict onto the alert document.
// Best-effort: the response is already computed and must not be lost
// to a storage hiccup.
func (t *Triage) writeBack(ctx context.Context, alert models.Alert, score float64, disposition string, enrichment map[string]any) {
	index := docstore.DatedIndex(docstore.IndexAlertsPattern, alert.CreatedAt)
	alert.Enrichment = enrichment
	alert.PriorityScore = score
	alert.Disposition = disposition
	alert.Status = models.AlertStatusProcessed
	if _, err := t.store.Index(ctx, index, alert.AlertID, alert); err != nil {
		t.logger.Warn("Alert write-back failed", "alert_id", alert.AlertID, "error", err)
	}
}
