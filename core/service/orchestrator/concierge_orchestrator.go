// Package orchestrator sequences pack discovery runs and applies the agent
// mode policy.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/core/domain"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/discovery"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

// tokenRetention is how long expired approval tokens stay queryable before
// cleanup removes them.
const tokenRetention = 30 * 24 * time.Hour

// ErrUnknownPack is returned when a run targets a pack id that is not
// configured.
var ErrUnknownPack = errors.New("unknown pack")

// PackResult is the outcome of one pack within a run.
type PackResult struct {
	PackID  string             `json:"pack_id"`
	Summary *discovery.Summary `json:"summary,omitempty"`
	Err     error              `json:"-"`
}

// RunResult aggregates one full discovery run across packs.
type RunResult struct {
	Mode      config.Mode  `json:"mode"`
	StartedAt time.Time    `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Packs     []PackResult `json:"packs"`
	Promoted  int          `json:"promoted"`
}

// Quiet reports whether no pack produced new or updated items.
func (r *RunResult) Quiet() bool {
	for _, p := range r.Packs {
		if p.Summary != nil && !p.Summary.Quiet() {
			return false
		}
	}
	return true
}

// Failed reports whether any pack aborted.
func (r *RunResult) Failed() bool {
	for _, p := range r.Packs {
		if p.Err != nil {
			return true
		}
	}
	return false
}

// Orchestrator is the only component that consults the agent mode. Everything
// below it behaves identically in copilot, autopilot, and dry-run; the
// orchestrator decides what gets promoted and what gets short-circuited.
type Orchestrator struct {
	engine *discovery.Engine
	items  domain.ItemRepository
	tokens domain.TokenRepository
	audit  domain.AuditRepository
	agent  *config.AgentConfig
	mode   config.Mode
	limits discovery.Limits
	log    *logger.Logger
	now    func() time.Time
}

// New creates an orchestrator.
func New(
	engine *discovery.Engine,
	items domain.ItemRepository,
	tokens domain.TokenRepository,
	audit domain.AuditRepository,
	agent *config.AgentConfig,
	mode config.Mode,
	limits discovery.Limits,
) *Orchestrator {
	return &Orchestrator{
		engine: engine,
		items:  items,
		tokens: tokens,
		audit:  audit,
		agent:  agent,
		mode:   mode,
		limits: limits,
		log:    logger.WithComponent("orchestrator"),
		now:    time.Now,
	}
}

// Run executes one discovery cycle over every enabled pack in priority
// order. A pack abort is recorded and the run continues with the next pack.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := o.now().UTC()
	result := &RunResult{Mode: o.mode, StartedAt: start}

	memberNames := o.agent.MemberNames()

	packs := o.agent.EnabledPacks()
	for i := range packs {
		pack := &packs[i]
		if err := ctx.Err(); err != nil {
			return result, err
		}

		log := o.log.WithPack(pack.ID)
		summary, err := o.engine.DiscoverPack(ctx, pack, memberNames, o.limits)
		result.Packs = append(result.Packs, PackResult{PackID: pack.ID, Summary: summary, Err: err})

		if err != nil {
			log.WithError(err).Error("pack run aborted")
			o.writeAudit(ctx, domain.AuditError, "pack_aborted", map[string]interface{}{
				"pack_id": pack.ID,
				"error":   err.Error(),
			})
			continue
		}
		log.Info("pack run finished: listed=%d", summary.Listed)
	}

	if o.mode == config.ModeAutopilot {
		promoted, err := o.promoteConfident(ctx)
		if err != nil {
			o.log.WithError(err).Error("autopilot promotion failed")
		}
		result.Promoted = promoted
	}

	if err := o.cleanupTokens(ctx); err != nil {
		o.log.WithError(err).Warn("token cleanup failed")
	}

	result.Duration = o.now().UTC().Sub(start)
	return result, nil
}

// RunPack executes one discovery cycle for a single pack id.
func (o *Orchestrator) RunPack(ctx context.Context, packID string) (*RunResult, error) {
	pack, ok := o.agent.Pack(packID)
	if !ok {
		return nil, ErrUnknownPack
	}

	start := o.now().UTC()
	summary, err := o.engine.DiscoverPack(ctx, pack, o.agent.MemberNames(), o.limits)
	result := &RunResult{
		Mode:      o.mode,
		StartedAt: start,
		Duration:  o.now().UTC().Sub(start),
		Packs:     []PackResult{{PackID: packID, Summary: summary, Err: err}},
	}
	return result, err
}

// backfillCap bounds how many items one backfill invocation may create or
// update across all packs.
const backfillCap = 100

// Backfill scans a fixed historical window across every enabled pack. The
// invocation-wide item budget is spent in pack priority order; once it is
// exhausted remaining packs are skipped. In dry-run nothing is written and
// the listing counts stand in for the spend.
func (o *Orchestrator) Backfill(ctx context.Context, from, to time.Time, dryRun bool) (*RunResult, error) {
	start := o.now().UTC()
	result := &RunResult{Mode: o.mode, StartedAt: start}
	memberNames := o.agent.MemberNames()
	budget := backfillCap

	packs := o.agent.EnabledPacks()
	for i := range packs {
		pack := &packs[i]
		if budget <= 0 {
			o.log.Warn("backfill budget exhausted, skipping pack %s", pack.ID)
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		limits := o.limits
		limits.After = from
		limits.Before = to
		limits.MaxEmailsPerRun = budget

		if dryRun {
			n, err := o.engine.CountMatches(ctx, pack, limits)
			result.Packs = append(result.Packs, PackResult{
				PackID:  pack.ID,
				Summary: &discovery.Summary{PackID: pack.ID, Listed: n, StartedAt: start},
				Err:     err,
			})
			if err == nil {
				budget -= n
			}
			continue
		}

		summary, err := o.engine.DiscoverPack(ctx, pack, memberNames, limits)
		result.Packs = append(result.Packs, PackResult{PackID: pack.ID, Summary: summary, Err: err})
		if summary != nil {
			// The budget buys items, not listings: messages that dedupe or
			// fall out of scope leave it intact for the remaining packs.
			budget -= summary.Counts[domain.StateCreated] + summary.Counts[domain.StateUpdated]
		}
		if err != nil {
			o.log.WithError(err).Error("backfill pack aborted: %s", pack.ID)
		}
	}

	o.writeAudit(ctx, domain.AuditInfo, "backfill_finished", map[string]interface{}{
		"from":    from.Format("2006-01-02"),
		"to":      to.Format("2006-01-02"),
		"dry_run": dryRun,
		"packs":   len(result.Packs),
	})

	result.Duration = o.now().UTC().Sub(start)
	return result, nil
}

// promoteConfident approves pending items whose classification confidence
// clears the auto-create threshold. Only autopilot calls this.
func (o *Orchestrator) promoteConfident(ctx context.Context) (int, error) {
	pending, err := o.items.ListPending(ctx, "")
	if err != nil {
		return 0, err
	}

	threshold := o.agent.Confidence.AutoCreate
	promoted := 0
	for _, item := range pending {
		if item.ClassificationConfidence == nil || *item.ClassificationConfidence < threshold {
			continue
		}

		now := o.now().UTC()
		item.Approved = true
		item.ApprovedAt = &now
		if err := o.items.Update(ctx, item); err != nil {
			o.log.WithError(err).Error("failed to promote item %s", item.ID)
			continue
		}
		promoted++

		o.writeAudit(ctx, domain.AuditInfo, "item_auto_approved", map[string]interface{}{
			"item_id":    item.ID,
			"pack_id":    item.PackID,
			"confidence": *item.ClassificationConfidence,
		})
	}
	return promoted, nil
}

func (o *Orchestrator) cleanupTokens(ctx context.Context) error {
	cutoff := o.now().UTC().Add(-tokenRetention)
	n, err := o.tokens.CleanupExpired(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		o.log.Info("cleaned up %d expired approval tokens", n)
	}
	return nil
}

func (o *Orchestrator) writeAudit(ctx context.Context, level domain.AuditLevel, action string, details map[string]interface{}) {
	if o.audit == nil {
		return
	}
	err := o.audit.Insert(ctx, &domain.AuditLog{
		Level:   level,
		Module:  "orchestrator",
		Action:  action,
		Details: details,
	})
	if err != nil {
		o.log.WithError(err).Error("failed to write audit row")
	}
}
