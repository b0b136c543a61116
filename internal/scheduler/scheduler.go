package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	"github.com/babcialabs/babcia/internal/auditcontext"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/authorization"
	"github.com/babcialabs/babcia/internal/clock"
	"github.com/babcialabs/babcia/internal/cloudmetrics"
	"github.com/babcialabs/babcia/internal/dashboard/rollup"
	obsmetrics "github.com/babcialabs/babcia/internal/observability/metrics"
	"github.com/babcialabs/babcia/internal/ratelimit"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	AuditSvc auditdomain.Service
	AuthzSvc authorization.Service
	Sessions authdomain.SessionRepository

	RollupSvc *rollup.Service
	Collector *cloudmetrics.Collector     `optional:"true"`
	Limiter   *ratelimit.ModelCallLimiter `optional:"true"`
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    Config `optional:"true"`
}

type Scheduler struct {
	db        *gorm.DB
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	auditSvc  auditdomain.Service
	authzSvc  authorization.Service
	sessions  authdomain.SessionRepository
	rollupSvc *rollup.Service
	collector *cloudmetrics.Collector
	limiter   *ratelimit.ModelCallLimiter
}

type auditEvent struct {
	UserID     *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	BowlID     string
	Metadata   map[string]any
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.AuditSvc == nil || p.AuthzSvc == nil || p.Sessions == nil || p.RollupSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	return &Scheduler{
		db:        p.DB,
		log:       p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:       cfg,
		genID:     p.GenID,
		clock:     p.Clock,
		auditSvc:  p.AuditSvc,
		authzSvc:  p.AuthzSvc,
		sessions:  p.Sessions,
		rollupSvc: p.RollupSvc,
		collector: p.Collector,
		limiter:   p.Limiter,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	schedMetrics := obsmetrics.Scheduler()

	// The redis lock keeps one runner per job when several replicas
	// share a database. A lock error must not stop the only runner a
	// self-hosted install has.
	token, acquired, lockErr := s.limiter.TryJobLock(ctx, name, timeout+s.cfg.RunInterval)
	if lockErr != nil {
		s.log.Warn("job lock unavailable, running unguarded",
			zap.String("job", name),
			zap.Error(lockErr),
		)
	} else if !acquired {
		schedMetrics.IncBatchDeferred(name, obsmetrics.SchedulerBatchDeferredReasonLockHeld)
		s.log.Debug("job lock held by another runner", zap.String("job", name))
		return nil
	}
	if token != "" {
		defer func() {
			releaseCtx, releaseCancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer releaseCancel()
			if err := s.limiter.ReleaseJobLock(releaseCtx, name, token); err != nil {
				s.log.Debug("job lock release failed", zap.String("job", name), zap.Error(err))
			}
		}()
	}

	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{"outbox_dispatch", s.isJobEnabled("outbox_dispatch"), func(ctx context.Context) error {
			return s.runJob(ctx, "outbox_dispatch", s.cfg.BatchSize, 30*time.Second, s.OutboxDispatchJob)
		}},
		{"daily_rollup", s.isJobEnabled("daily_rollup"), func(ctx context.Context) error {
			return s.runJob(ctx, "daily_rollup", s.cfg.MaxRebuildBatchSize, 30*time.Minute, s.DailyRollupJob)
		}},
		{"session_purge", s.isJobEnabled("session_purge"), func(ctx context.Context) error {
			return s.runJob(ctx, "session_purge", s.cfg.BatchSize, 30*time.Second, s.SessionPurgeJob)
		}},
		{"verification_sweep", s.isJobEnabled("verification_sweep"), func(ctx context.Context) error {
			return s.runJob(ctx, "verification_sweep", s.cfg.MaxSweepBatchSize, 30*time.Second, s.VerificationSweepJob)
		}},
		{"cloud_metrics_push", s.isJobEnabled("cloud_metrics_push") && s.collector.Enabled(), func(ctx context.Context) error {
			return s.runJob(ctx, "cloud_metrics_push", 1, 30*time.Second, s.CloudMetricsPushJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs means every job runs (single-binary install).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// OutboxDispatchJob drains unpublished outbox events into the
// dashboard snapshots and hands each one to the dispatcher.
func (s *Scheduler) OutboxDispatchJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "outbox_dispatch", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectOutbox, authorization.ActionOutboxDispatch); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "outbox_dispatch", err)
		return err
	}

	if err := s.rollupSvc.ProcessPending(ctx, s.cfg.BatchSize); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.outbox.dispatch.failed", "outbox_dispatch", err)
		return err
	}
	return nil
}

// DailyRollupJob drains pending dashboard rebuild requests so repaired
// day and area stats converge with the source tables.
func (s *Scheduler) DailyRollupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "daily_rollup", s.cfg.MaxRebuildBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectRollup, authorization.ActionRollupRun); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "daily_rollup", err)
		return err
	}

	if err := s.rollupSvc.ProcessRebuildRequests(ctx, s.cfg.MaxRebuildBatchSize); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.rollup.rebuild.failed", "daily_rollup", err)
		return err
	}
	return nil
}

// SessionPurgeJob deletes sessions whose expiry has passed.
func (s *Scheduler) SessionPurgeJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "session_purge", s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectSession, authorization.ActionSessionPurge); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "session_purge", err)
		return err
	}

	deleted, err := s.sessions.DeleteExpiredSessions(ctx, s.clock.Now())
	if err != nil {
		s.logSchedulerError(ctx, run, "scheduler.session.purge.failed", "session_purge", err)
		return err
	}
	if deleted > 0 {
		run.AddProcessed(int(deleted))
		obsmetrics.Scheduler().AddBatchProcessed("session_purge", "sessions", int(deleted))
		s.emitAuditEvent(ctx, auditEvent{
			Action:     "auth.sessions_purged",
			TargetType: "session",
			Metadata:   map[string]any{"deleted": deleted},
		})
	}
	return nil
}

// VerificationSweepJob returns bowls stuck in awaiting_verification_photo
// past the timeout to all_tasks_complete. The bowl loses nothing: no
// attempt was recorded, the owner can re-request verification or finish
// unverified.
func (s *Scheduler) VerificationSweepJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "verification_sweep", s.cfg.MaxSweepBatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	now := s.clock.Now()
	cutoff := now.Add(-s.cfg.VerificationTimeout)
	var jobErr error

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		bowls, err := s.fetchAwaitingBowlsForSweep(ctx, cutoff, s.cfg.MaxSweepBatchSize)
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.verification.sweep.failed", "verification_sweep", err)
			return errors.Join(jobErr, err)
		}
		if len(bowls) == 0 {
			break
		}

		processed := 0
		for _, bowl := range bowls {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logBowlClaimed(ctx, "verification_sweep", bowl)
			if err := s.authorizeSystem(ctx, authorization.ObjectVerification, authorization.ActionVerificationSweep); err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "verification_sweep", err,
					zap.String("bowl_id", idString(bowl.ID)),
				)
				continue
			}
			updated, err := s.expireAwaitingBowl(ctx, bowl.ID, now)
			if err != nil {
				jobErr = errors.Join(jobErr, err)
				s.logSchedulerError(ctx, run, "scheduler.verification.sweep.failed", "verification_sweep", err,
					zap.String("bowl_id", idString(bowl.ID)),
				)
				continue
			}
			if !updated {
				// The owner submitted or abandoned between fetch and
				// update. Nothing to record.
				continue
			}
			processed++
			run.AddProcessed(1)
			obsmetrics.Scheduler().AddBatchProcessed("verification_sweep", "bowls", 1)
			userID := bowl.UserID
			tier := ""
			if bowl.Tier != nil {
				tier = string(*bowl.Tier)
			}
			s.emitAuditEvent(ctx, auditEvent{
				UserID:     &userID,
				Action:     "bowl.verification_expired",
				TargetType: "bowl",
				TargetID:   bowl.ID.String(),
				BowlID:     bowl.ID.String(),
				Metadata: map[string]any{
					"tier":          tier,
					"requested_at":  bowl.UpdatedAt.Format(time.RFC3339),
					"timeout_hours": s.cfg.VerificationTimeout.Hours(),
				},
			})
		}
		if processed == 0 {
			break
		}
	}

	return jobErr
}

// CloudMetricsPushJob samples the install and pushes the anonymous
// fleet gauges home.
func (s *Scheduler) CloudMetricsPushJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "cloud_metrics_push", 1)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}

	if !s.collector.Enabled() {
		return nil
	}

	if err := s.authorizeSystem(ctx, authorization.ObjectCloudMetrics, authorization.ActionCloudMetricsPush); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", "cloud_metrics_push", err)
		return err
	}

	if err := s.collector.CollectAndPush(ctx); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.cloud_metrics.push.failed", "cloud_metrics_push", err)
		return err
	}
	run.AddProcessed(1)
	return nil
}

func (s *Scheduler) emitAuditEvent(ctx context.Context, event auditEvent) {
	if s.auditSvc == nil {
		return
	}
	ctx = auditcontext.WithActor(ctx, string(auditdomain.ActorTypeSystem), "scheduler")
	if event.BowlID != "" {
		ctx = auditcontext.WithBowlID(ctx, event.BowlID)
	}
	var targetID *string
	if event.TargetID != "" {
		targetID = &event.TargetID
	}
	_ = s.auditSvc.AuditLog(ctx, event.UserID, "", nil, event.Action, event.TargetType, targetID, event.Metadata)
}

func (s *Scheduler) authorizeSystem(ctx context.Context, object string, action string) error {
	if s.authzSvc == nil {
		return authorization.ErrForbidden
	}
	return s.authzSvc.Authorize(ctx, "system", object, action)
}
