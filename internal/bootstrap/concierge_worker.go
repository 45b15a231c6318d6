package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/AliedRevenue/family-concierge-sub000/adapter/in/worker"
	"github.com/AliedRevenue/family-concierge-sub000/config"
	"github.com/AliedRevenue/family-concierge-sub000/core/service/digest"
	"github.com/AliedRevenue/family-concierge-sub000/pkg/logger"
)

// auditRetention is how far back audit rows are kept.
const auditRetention = 90 * 24 * time.Hour

// NewWorker wires the cron scheduler with the agent, digest, and cleanup
// jobs.
func NewWorker(cfg *config.Config, deps *Dependencies) (*worker.Scheduler, error) {
	s := worker.NewScheduler(deps.RunLock)

	err := s.AddJob(worker.JobAgentRun, cfg.AgentCron, time.Hour, func(ctx context.Context) error {
		result, err := deps.Orchestrator.Run(ctx)
		if err != nil {
			return err
		}
		if result.Failed() {
			logger.Warn("agent run finished with pack failures")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register agent job: %w", err)
	}

	err = s.AddJob(worker.JobDailyDigest, cfg.DigestDailyCron, 30*time.Minute, func(ctx context.Context) error {
		return SendDigest(ctx, cfg, deps, deps.Agent.Digests.DailyDays)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register daily digest job: %w", err)
	}

	err = s.AddJob(worker.JobWeeklyDigest, cfg.DigestWeeklyCron, 30*time.Minute, func(ctx context.Context) error {
		return SendDigest(ctx, cfg, deps, deps.Agent.Digests.WeeklyDays)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register weekly digest job: %w", err)
	}

	err = s.AddJob(worker.JobCleanup, cfg.CleanupCron, 30*time.Minute, func(ctx context.Context) error {
		return runCleanup(ctx, deps)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register cleanup job: %w", err)
	}

	return s, nil
}

// SendDigest builds and delivers the digest covering the last days. In
// dry-run the rendered digest is logged instead of sent. The CLI digest
// command shares this path with the cron jobs.
func SendDigest(ctx context.Context, cfg *config.Config, deps *Dependencies, days int) error {
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -days)

	d, err := deps.Digests.Build(ctx, from, to, cfg.Mode == config.ModeDryRun)
	if err != nil {
		return err
	}
	body := digest.Render(d)

	recipients := deps.Agent.Digests.Recipients
	if cfg.Mode == config.ModeDryRun || len(recipients) == 0 {
		logger.Info("digest built (not sent): quiet=%v recipients=%d", d.Quiet, len(recipients))
		logger.Debug("%s", body)
		return nil
	}

	subject := fmt.Sprintf("Family Concierge Digest: %s to %s", from.Format("Jan 2"), to.Format("Jan 2"))
	raw := buildDigestEmail(recipients, subject, body)
	if err := deps.Mail.SendEmail(ctx, raw); err != nil {
		return fmt.Errorf("failed to send digest: %w", err)
	}

	logger.Info("digest sent to %d recipients", len(recipients))
	return nil
}

func buildDigestEmail(to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return []byte(b.String())
}

func runCleanup(ctx context.Context, deps *Dependencies) error {
	cutoff := time.Now().UTC().Add(-auditRetention)
	trimmed, err := deps.Audit.TrimBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to trim audit log: %w", err)
	}

	removed, err := deps.Tokens.CleanupExpired(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	if err != nil {
		return fmt.Errorf("failed to clean approval tokens: %w", err)
	}

	logger.Info("cleanup finished: audit_rows=%d tokens=%d", trimmed, removed)
	return nil
}
