package server

import (
	"context"
	"time"

	"github.com/snarelabs/snare/internal/alerts"
	"github.com/snarelabs/snare/internal/attacker"
	"github.com/snarelabs/snare/internal/gate"
	"github.com/snarelabs/snare/internal/metrics"
	"github.com/snarelabs/snare/internal/realtime"
)

// gateEvents fans decision lifecycle notifications out to Prometheus, the
// realtime hub, and the escalation webhook. All paths are non-blocking: the
// hub drops on a full channel and the webhook delivers in a goroutine.
type gateEvents struct {
	hub     *realtime.Hub
	webhook *alerts.Webhook // nil when unconfigured
}

func (e *gateEvents) Decided(sourceID string, d gate.Decision) {
	metrics.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	metrics.RiskScore.Observe(float64(d.RiskScore))
	for _, f := range d.Flags {
		if f == gate.FlagEvaluationDegraded {
			metrics.EvaluationsDegradedTotal.Inc()
			break
		}
	}

	e.hub.BroadcastDecision(map[string]interface{}{
		"sourceId":  sourceID,
		"action":    string(d.Action),
		"riskScore": float64(d.RiskScore),
		"flags":     d.Flags,
	})
}

func (e *gateEvents) DecoyHit(sourceID, path string, trap attacker.TrapType) {
	metrics.DecoyHitsTotal.WithLabelValues(string(trap)).Inc()

	e.hub.BroadcastDecoyHit(map[string]interface{}{
		"sourceId": sourceID,
		"path":     path,
		"trap":     string(trap),
	})
}

func (e *gateEvents) Blacklisted(sourceID string, score uint8) {
	metrics.BlacklistedSources.Inc()

	e.hub.BroadcastBlacklisted(map[string]interface{}{
		"sourceId":  sourceID,
		"riskScore": float64(score),
	})

	if e.webhook != nil {
		e.webhook.Notify(context.Background(), alerts.Escalation{
			SourceID:  sourceID,
			RiskScore: score,
			Timestamp: time.Now(),
		})
	}
}
