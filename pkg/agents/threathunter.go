package agents

import (
	"context"
	"log/slog"
	"sort"

	"github.com/vigil-soc/vigil/pkg/contracts"
	"github.com/vigil-soc/vigil/pkg/models"
	"github.com/vigil-soc/vigil/pkg/tools"
)

// anomalyThreshold marks an entity suspected when its behavioral
// anomaly score reaches this value.
const anomalyThreshold = 0.7

// ThreatHunter sweeps the environment for indicator hits and scores
// behavioral anomalies on the entities the sweep touches.
type ThreatHunter struct {
	tools  *tools.Executor
	logger *slog.Logger
}

// NewThreatHunter builds the threat-hunter agent.
func NewThreatHunter(toolExec *tools.Executor) *ThreatHunter {
	if toolExec == nil {
		panic("threat-hunter agent requires a tool executor")
	}
	return &ThreatHunter{
		tools:  toolExec,
		logger: slog.Default().With("component", "threat-hunter-agent"),
	}
}

func (h *ThreatHunter) ID() string { return AgentThreatHunter }

func (h *ThreatHunter) Handle(ctx context.Context, env contracts.Envelope) (any, error) {
	req, err := payloadAs[contracts.SweepRequest](env)
	if err != nil {
		return nil, err
	}

	// Sweep: hit counts per entity across all indicators.
	type sighting struct {
		kind      string
		hits      int
		indicator string
	}
	sightings := map[string]*sighting{}
	seen := func(entity, kind, indicator string) {
		if entity == "" {
			return
		}
		s, ok := sightings[entity]
		if !ok {
			s = &sighting{kind: kind, indicator: indicator}
			sightings[entity] = s
		}
		s.hits++
	}

	for _, indicator := range req.Indicators {
		res, err := h.tools.ExecuteQuery(ctx, tools.ToolIoCSweep, map[string]any{"indicator": indicator})
		if err != nil {
			h.logger.Warn("IoC sweep failed", "incident_id", req.IncidentID,
				"indicator", indicator, "error", err)
			continue
		}
		for _, row := range res.Values {
			host, _ := row[0].(string)
			user, _ := row[1].(string)
			seen(host, "host", indicator)
			seen(user, "user", indicator)
		}
	}

	scope := models.ThreatScope{
		ConfirmedCompromised: []models.CompromisedEntity{},
		SuspectedCompromised: []models.CompromisedEntity{},
	}

	// Entities with indicator hits are confirmed.
	for entity, s := range sightings {
		scope.ConfirmedCompromised = append(scope.ConfirmedCompromised, models.CompromisedEntity{
			Entity: entity, Kind: s.kind, HitCount: s.hits, Indicator: s.indicator,
		})
	}

	// Known-compromised users plus swept entities get an anomaly pass;
	// high scorers without indicator hits land in suspected.
	candidates := map[string]string{}
	for _, user := range req.KnownCompromisedUsers {
		candidates[user] = "user"
	}
	for entity, s := range sightings {
		candidates[entity] = s.kind
	}
	clean := 0
	for entity, kind := range candidates {
		if _, confirmed := sightings[entity]; confirmed {
			continue
		}
		score := h.anomalyScore(ctx, req.IncidentID, entity)
		if score >= anomalyThreshold {
			scope.SuspectedCompromised = append(scope.SuspectedCompromised, models.CompromisedEntity{
				Entity: entity, Kind: kind, AnomalyScore: score,
			})
		} else {
			clean++
		}
	}

	sort.Slice(scope.ConfirmedCompromised, func(i, j int) bool {
		a, b := scope.ConfirmedCompromised[i], scope.ConfirmedCompromised[j]
		if a.HitCount != b.HitCount {
			return a.HitCount > b.HitCount
		}
		return a.Entity < b.Entity
	})
	sort.Slice(scope.SuspectedCompromised, func(i, j int) bool {
		a, b := scope.SuspectedCompromised[i], scope.SuspectedCompromised[j]
		if a.AnomalyScore != b.AnomalyScore {
			return a.AnomalyScore > b.AnomalyScore
		}
		return a.Entity < b.Entity
	})

	union := map[string]struct{}{}
	for entity := range sightings {
		union[entity] = struct{}{}
	}
	for entity := range candidates {
		union[entity] = struct{}{}
	}
	scope.TotalAssetsScanned = len(union)
	scope.CleanAssets = clean
	return scope, nil
}

func (h *ThreatHunter) anomalyScore(ctx context.Context, incidentID, entity string) float64 {
	res, err := h.tools.ExecuteQuery(ctx, tools.ToolBehavioralAnomaly, map[string]any{"entity": entity})
	if err != nil {
		h.logger.Warn("Behavioral anomaly lookup failed",
			"incident_id", incidentID, "entity", entity, "error", err)
		return 0
	}
	if v, ok := res.Row()["anomaly_score"].(float64); ok {
		return v
	}
	return 0
}
