// Package gate makes the per-request decision: allow the request through,
// serve a decoy, or block outright.
//
// Evaluation never fails a request. Any internal error or panic degrades to
// an allow decision carrying the EVALUATION_DEGRADED flag, so a broken
// detector can not take the protected surface down with it.
package gate

import (
	"context"
	"time"

	"github.com/snarelabs/snare/internal/allowlist"
	"github.com/snarelabs/snare/internal/attacker"
	"github.com/snarelabs/snare/internal/behavior"
	"github.com/snarelabs/snare/internal/blocklist"
	"github.com/snarelabs/snare/internal/decoy"
	"github.com/snarelabs/snare/internal/idgen"
	"github.com/snarelabs/snare/internal/logging"
	"github.com/snarelabs/snare/internal/metrics"
	"github.com/snarelabs/snare/internal/profiles"
	"github.com/snarelabs/snare/internal/telemetry"
	"github.com/snarelabs/snare/internal/toolkit"
	"github.com/snarelabs/snare/internal/ua"
)

// Action is the decision outcome.
type Action string

const (
	ActionAllow   Action = "allow"
	ActionDeceive Action = "deceive"
	ActionBlock   Action = "block"
)

// Decision flags.
const (
	FlagAllowlistOverride   = "ALLOWLIST_OVERRIDE"
	FlagBlacklistedAttacker = "BLACKLISTED_ATTACKER"
	FlagDecoyAccess         = "DECOY_ACCESS"
	FlagSuspicionExceeded   = "SUSPICION_THRESHOLD_EXCEEDED"
	FlagEvaluationDegraded  = "EVALUATION_DEGRADED"
)

// suspicionThreshold is the combined UA/behavior score above which the
// escalation policy is consulted.
const suspicionThreshold = 50

// Decision is the verdict for one request.
type Decision struct {
	Action    Action   `json:"action"`
	RiskScore uint8    `json:"riskScore"`
	Flags     []string `json:"flags"`
	DecoyKey  string   `json:"decoyKey,omitempty"`
	DelayMs   uint32   `json:"delayMs,omitempty"`
}

// Policy decides what a suspicion score above the threshold turns into.
// The default policy only flags: blocking on behavioral evidence alone is a
// deployment choice, not a built-in.
type Policy func(score uint8, flags []string) Action

// FlagOnlyPolicy surfaces the suspicion but lets the request through.
func FlagOnlyPolicy(score uint8, flags []string) Action { return ActionAllow }

// BlockPolicy turns threshold breaches into blocks.
func BlockPolicy(score uint8, flags []string) Action { return ActionBlock }

// Events receives decision lifecycle notifications (realtime feed, metrics).
// Implementations must not block.
type Events interface {
	Decided(sourceID string, d Decision)
	Blacklisted(sourceID string, score uint8)
	DecoyHit(sourceID, path string, trap attacker.TrapType)
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) Decided(string, Decision) {}

func (NopEvents) Blacklisted(string, uint8) {}

func (NopEvents) DecoyHit(string, string, attacker.TrapType) {}

// Gate wires the classifiers, stores, and decoy registry into the decision
// pipeline.
type Gate struct {
	uaClassifier *ua.Classifier
	behavior     *behavior.Classifier
	toolkits     *toolkit.Matcher
	attackers    attacker.Store
	clients      *profiles.Store
	registry     *decoy.Registry
	responder    *decoy.Responder
	allowed      *allowlist.List
	mirror       blocklist.Mirror
	policy       Policy
	events       Events

	now func() time.Time
}

// Config carries the gate's collaborators. Nil optional fields fall back to
// inert implementations.
type Config struct {
	UAClassifier *ua.Classifier
	Behavior     *behavior.Classifier
	Toolkits     *toolkit.Matcher
	Attackers    attacker.Store
	Clients      *profiles.Store
	Registry     *decoy.Registry
	Responder    *decoy.Responder
	Allowlist    *allowlist.List
	Mirror       blocklist.Mirror
	Policy       Policy
	Events       Events
}

// New creates a Gate.
func New(cfg Config) *Gate {
	if cfg.Mirror == nil {
		cfg.Mirror = blocklist.Noop{}
	}
	if cfg.Policy == nil {
		cfg.Policy = FlagOnlyPolicy
	}
	if cfg.Events == nil {
		cfg.Events = NopEvents{}
	}
	if cfg.Allowlist == nil {
		cfg.Allowlist, _ = allowlist.New(nil)
	}
	return &Gate{
		uaClassifier: cfg.UAClassifier,
		behavior:     cfg.Behavior,
		toolkits:     cfg.Toolkits,
		attackers:    cfg.Attackers,
		clients:      cfg.Clients,
		registry:     cfg.Registry,
		responder:    cfg.Responder,
		allowed:      cfg.Allowlist,
		mirror:       cfg.Mirror,
		policy:       cfg.Policy,
		events:       cfg.Events,
		now:          time.Now,
	}
}

// Evaluate runs the decision pipeline for one request.
func (g *Gate) Evaluate(ctx context.Context, tel telemetry.ClientTelemetry, req telemetry.RequestContext) (d Decision) {
	defer func() {
		if r := recover(); r != nil {
			logging.L(ctx).Error("evaluation degraded",
				"source_id", req.SourceID, "path", req.Path, "panic", r)
			d = Decision{Action: ActionAllow, Flags: []string{FlagEvaluationDegraded}}
		}
		g.events.Decided(req.SourceID, d)
	}()

	// Trusted sources bypass everything, but each exercise of the bypass is
	// recorded so the capability is auditable.
	if g.allowed.Contains(req.SourceID) {
		logging.L(ctx).Info("allowlist override",
			"source_id", req.SourceID, "path", req.Path)
		return Decision{Action: ActionAllow, Flags: []string{FlagAllowlistOverride}}
	}

	if blocked := g.isBlacklisted(ctx, req.SourceID); blocked {
		score := uint8(100)
		if p, err := g.attackers.Get(ctx, req.SourceID); err == nil {
			score = p.RiskScore
		}
		return Decision{
			Action:    ActionBlock,
			RiskScore: score,
			Flags:     []string{FlagBlacklistedAttacker},
		}
	}

	if res, ok := g.registry.Lookup(req.Path); ok {
		return g.deceive(ctx, tel, req, res)
	}

	return g.assess(ctx, tel, req)
}

func (g *Gate) isBlacklisted(ctx context.Context, sourceID string) bool {
	blocked, err := g.attackers.IsBlacklisted(ctx, sourceID)
	if err != nil {
		logging.L(ctx).Warn("blacklist check failed", "source_id", sourceID, "error", err)
	}
	if blocked {
		return true
	}
	shared, err := g.mirror.Check(ctx, sourceID)
	if err != nil {
		logging.L(ctx).Warn("shared blacklist check failed", "source_id", sourceID, "error", err)
		return false
	}
	return shared
}

// deceive records the trap access and returns the deceive decision. The
// store write happens only once the decision is certain; a cancelled request
// records nothing.
func (g *Gate) deceive(ctx context.Context, tel telemetry.ClientTelemetry, req telemetry.RequestContext, res decoy.Resource) Decision {
	if ctx.Err() != nil {
		return Decision{Action: ActionAllow, Flags: []string{FlagEvaluationDegraded}}
	}

	attempt := attacker.AccessAttempt{
		ID:              idgen.WithPrefix("att_"),
		Timestamp:       g.now(),
		Path:            req.Path,
		DeclaredClient:  tel.UserAgent,
		MatchedToolkits: g.toolkits.Match(req.Headers, tel.UserAgent),
		Trap:            res.TrapType(),
	}

	p, err := g.attackers.RecordAccess(ctx, req.SourceID, attempt)
	if err != nil {
		logging.L(ctx).Error("record decoy access failed",
			"source_id", req.SourceID, "path", req.Path, "error", err)
		return Decision{Action: ActionAllow, Flags: []string{FlagEvaluationDegraded}}
	}

	g.events.DecoyHit(req.SourceID, req.Path, attempt.Trap)
	logging.L(ctx).Info("decoy access recorded",
		"source_id", req.SourceID,
		"path", req.Path,
		"trap", string(attempt.Trap),
		"risk_score", p.RiskScore,
		"toolkits", attempt.MatchedToolkits)

	if p.Blacklisted {
		g.events.Blacklisted(req.SourceID, p.RiskScore)
		if err := g.mirror.Publish(ctx, req.SourceID); err != nil {
			logging.L(ctx).Warn("blacklist mirror publish failed",
				"source_id", req.SourceID, "error", err)
		}
	}

	delay := g.responder.Delay()
	return Decision{
		Action:    ActionDeceive,
		RiskScore: p.RiskScore,
		Flags:     []string{FlagDecoyAccess},
		DecoyKey:  req.Path,
		DelayMs:   uint32(delay.Milliseconds()),
	}
}

// assess scores the declared client and, when behavioral telemetry is
// available, the accumulated interaction profile.
func (g *Gate) assess(ctx context.Context, tel telemetry.ClientTelemetry, req telemetry.RequestContext) Decision {
	uaRes := g.uaClassifier.Classify(tel.UserAgent)
	flags := append([]string(nil), uaRes.Flags...)
	score := int(uaRes.Score)

	if tel.Behavior != nil && tel.Behavior.HasSamples() {
		if dropped := tel.Behavior.Sanitize(); dropped > 0 {
			metrics.TelemetrySamplesDropped.Add(float64(dropped))
			logging.L(ctx).Debug("telemetry samples dropped",
				"source_id", req.SourceID, "dropped", dropped)
		}

		sample := *tel.Behavior
		if g.clients != nil && tel.ClientID != "" {
			g.clients.Append(tel.ClientID, tel.Behavior)
			if snap, ok := g.clients.Snapshot(tel.ClientID); ok {
				sample = snap
			}
		}

		bRes := g.behavior.Classify(sample.Mouse, sample.Keyboard, sample.Clicks)
		flags = append(flags, bRes.Flags...)
		score = (int(uaRes.Score) + int(bRes.Overall)) / 2
	}

	d := Decision{Action: ActionAllow, RiskScore: uint8(score), Flags: flags}
	if score > suspicionThreshold {
		d.Flags = append(d.Flags, FlagSuspicionExceeded)
		d.Action = g.policy(uint8(score), d.Flags)
		logging.L(ctx).Info("suspicion threshold exceeded",
			"source_id", req.SourceID,
			"score", score,
			"action", string(d.Action),
			"flags", d.Flags)
	}
	return d
}
