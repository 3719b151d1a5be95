package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"github.com/vaultline/treasury-backend/internal/audit"
	"github.com/vaultline/treasury-backend/internal/gateway"
	"github.com/vaultline/treasury-backend/pkg/config"
	"github.com/vaultline/treasury-backend/pkg/db/models"
	"github.com/vaultline/treasury-backend/pkg/enums"
	pkgerrors "github.com/vaultline/treasury-backend/pkg/errors"
	"github.com/vaultline/treasury-backend/pkg/logger"
	"github.com/vaultline/treasury-backend/pkg/metrics"
	"github.com/vaultline/treasury-backend/pkg/outbox"
	"github.com/vaultline/treasury-backend/pkg/outbox/payloads"
)

const (
	defaultTickInterval = 30 * time.Second
	dueBatchSize        = 20
	initialBackoff      = time.Second
)

// cronParser accepts standard 5-field expressions (minute precision).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type auditRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, entry audit.Entry) (*models.AuditEvent, error)
}

// redisClient is the slice of pkg/redis used for locks and run claims.
type redisClient interface {
	redisStore
	LockKey(parts ...string) string
	RunClaimKey(runKey string) string
}

// RunnerParams wire the scheduler runner.
type RunnerParams struct {
	Logger    *logger.Logger
	Repo      Repository
	TxRunner  txRunner
	Wallet    walletService
	Trading   tradingService
	Gateway   gateway.Gateway
	Outbox    outboxPublisher
	Audits    auditRecorder
	Redis     redisClient
	Metrics   *metrics.JobMetrics
	Treasury  config.TreasuryConfig
	Scheduler config.SchedulerConfig
}

// RunNowInput triggers one job outside its schedule.
type RunNowInput struct {
	JobID            uuid.UUID
	ActorID          string
	ActorIsAuthority bool
}

// Runner claims due jobs and executes their actions with run-key
// idempotency, per-job locks, bounded retries and full run history.
type Runner struct {
	logg    *logger.Logger
	repo    Repository
	tx      txRunner
	actions *actionSet
	outbox  outboxPublisher
	audits  auditRecorder
	redis   redisClient
	metrics *metrics.JobMetrics
	cfg     config.SchedulerConfig
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewRunner builds the scheduler runner.
func NewRunner(params RunnerParams) (*Runner, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("scheduler repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Wallet == nil {
		return nil, fmt.Errorf("wallet service required")
	}
	if params.Trading == nil {
		return nil, fmt.Errorf("trading service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if params.Audits == nil {
		return nil, fmt.Errorf("audit recorder required")
	}
	if params.Redis == nil {
		return nil, fmt.Errorf("redis client required")
	}
	cfg := params.Scheduler
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	actions := &actionSet{
		wallet:   params.Wallet,
		trading:  params.Trading,
		gate:     params.Gateway,
		repo:     params.Repo,
		treasury: params.Treasury,
		sched:    cfg,
		logg:     params.Logger,
		now:      time.Now,
	}
	return &Runner{
		logg:    params.Logger,
		repo:    params.Repo,
		tx:      params.TxRunner,
		actions: actions,
		outbox:  params.Outbox,
		audits:  params.Audits,
		redis:   params.Redis,
		metrics: params.Metrics,
		cfg:     cfg,
		now:     time.Now,
		sleep:   sleepContext,
	}, nil
}

// Run starts the scheduler loop until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.runCycle(ctx); err != nil {
		r.logg.Error(ctx, "scheduler cycle failed", err)
	}
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "scheduler context canceled")
			return ctx.Err()
		case <-ticker.C:
			if err := r.runCycle(ctx); err != nil {
				r.logg.Error(ctx, "scheduler cycle failed", err)
			}
		}
	}
}

func (r *Runner) runCycle(ctx context.Context) error {
	now := r.now()
	if err := r.scheduleNewJobs(ctx, now); err != nil {
		r.logg.Error(ctx, "schedule new jobs", err)
	}
	due, err := r.repo.ListDue(ctx, now, dueBatchSize)
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}
	for i := range due {
		job := due[i]
		if job.NextRunAt == nil {
			continue
		}
		if _, err := r.executeSlot(ctx, &job, *job.NextRunAt, schedulerActor); err != nil {
			logCtx := r.logg.WithField(ctx, "job", job.Name)
			r.logg.Error(logCtx, "job execution failed", err)
		}
	}
	return nil
}

// scheduleNewJobs derives next_run_at for jobs that have never been
// scheduled. Jobs with an unparseable expression are flagged for review and
// left off the schedule until an operator clears them.
func (r *Runner) scheduleNewJobs(ctx context.Context, now time.Time) error {
	jobs, err := r.repo.ListUnscheduled(ctx, dueBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := jobs[i]
		sched, err := cronParser.Parse(job.CronExpr)
		if err != nil {
			logCtx := r.logg.WithField(ctx, "job", job.Name)
			r.logg.Error(logCtx, "invalid cron expression", err)
			if flagErr := r.repo.FlagReview(ctx, job.ID, "invalid cron expression: "+err.Error()); flagErr != nil {
				r.logg.Error(logCtx, "flag job for review", flagErr)
			}
			continue
		}
		if err := r.repo.AdvanceSchedule(ctx, job.ID, sched.Next(now), false); err != nil {
			return err
		}
	}
	return nil
}

// RunNow executes one job immediately. Only the authority may trigger it;
// the per-job lock and the run claim still apply, keyed to the current
// minute so hammering the endpoint cannot stack duplicate effects.
func (r *Runner) RunNow(ctx context.Context, input RunNowInput) (*models.JobRun, error) {
	if input.JobID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "job id is required")
	}
	job, err := r.repo.FindJob(ctx, input.JobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "scheduled job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup scheduled job")
	}
	if !input.ActorIsAuthority {
		jobID := job.ID
		if _, aErr := r.audits.Record(ctx, nil, audit.Entry{
			ActorID:      input.ActorID,
			Action:       "scheduler.run_now",
			ResourceType: "scheduled_job",
			ResourceID:   &jobID,
			Outcome:      enums.AuditOutcomeDenied,
			Reason:       "authority token required",
		}); aErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, aErr, "record audit event")
		}
		return nil, pkgerrors.New(pkgerrors.CodeAuthorityRequired, "only the authority can trigger job runs")
	}

	scheduledAt := r.now().Truncate(time.Minute)
	run, err := r.executeSlot(ctx, job, scheduledAt, input.ActorID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "job is already running or this slot was already claimed")
	}
	return run, nil
}

// executeSlot runs one (job, scheduledAt) slot: lock, claim, prior-outcome
// check, then the attempt loop. Returns nil without error when another
// runner holds the job.
func (r *Runner) executeSlot(ctx context.Context, job *models.ScheduledJob, scheduledAt time.Time, actorID string) (*models.JobRun, error) {
	runKey := runKeyFor(job.ID, scheduledAt)
	logCtx := r.logg.WithFields(ctx, map[string]any{"job": job.Name, "run_key": runKey})

	lock, err := NewRedisLock(r.redis, r.redis.LockKey("scheduler", job.ID.String()), r.cfg.LockTTL)
	if err != nil {
		return nil, err
	}
	locked, err := lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire job lock: %w", err)
	}
	if !locked {
		r.logg.Info(logCtx, "job locked by another runner; skipping")
		return nil, nil
	}
	defer func() {
		if relErr := lock.Release(ctx); relErr != nil {
			r.logg.Error(logCtx, "release job lock", relErr)
		}
	}()

	timeout := r.jobTimeout(job)
	claimed, err := r.redis.SetNX(ctx, r.redis.RunClaimKey(runKey), actorID, 2*timeout)
	if err != nil {
		return nil, fmt.Errorf("claim run slot: %w", err)
	}
	if !claimed {
		r.logg.Info(logCtx, "run slot already claimed; skipping")
		return nil, nil
	}

	prior, err := r.repo.LatestRunByKey(ctx, runKey)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("check prior runs: %w", err)
	}
	if prior != nil && prior.Status == enums.JobRunStatusSucceeded {
		r.logg.Info(r.logg.WithField(logCtx, "prior_run", prior.ID.String()), "slot already ran to completion; reporting prior outcome")
		r.advance(ctx, job, false)
		return prior, nil
	}

	priorAttempts, err := r.repo.CountRunsByKey(ctx, runKey)
	if err != nil {
		return nil, fmt.Errorf("count prior attempts: %w", err)
	}

	maxAttempts := 1
	if job.RetryImmediately && job.MaxRetries > 0 {
		maxAttempts = 1 + job.MaxRetries
	}

	backoff := initialBackoff
	var lastRun *models.JobRun
	for i := 0; i < maxAttempts; i++ {
		attempt := int(priorAttempts) + i + 1
		lastRun = r.executeAttempt(logCtx, job, runKey, scheduledAt, attempt, actorID, timeout)
		if lastRun.Status != enums.JobRunStatusFailed {
			break
		}
		if i+1 >= maxAttempts {
			break
		}
		r.metrics.IncRetry(job.Name)
		if err := r.sleep(ctx, backoff); err != nil {
			break
		}
		backoff *= 2
		if r.cfg.MaxBackoff > 0 && backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	r.advance(ctx, job, lastRun != nil && lastRun.Status == enums.JobRunStatusTimedOut)
	return lastRun, nil
}

func (r *Runner) executeAttempt(ctx context.Context, job *models.ScheduledJob, runKey string, scheduledAt time.Time, attempt int, actorID string, timeout time.Duration) *models.JobRun {
	startedAt := r.now()
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	result, runErr := r.actions.run(runCtx, job, runKey)
	timedOut := runErr != nil && errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()
	finishedAt := r.now()
	r.metrics.ObserveDuration(job.Name, finishedAt.Sub(startedAt))

	status := enums.JobRunStatusSucceeded
	var errMsg *string
	switch {
	case timedOut:
		status = enums.JobRunStatusTimedOut
		msg := "run exceeded its timeout; result unreliable"
		if runErr != nil {
			msg = runErr.Error()
		}
		errMsg = &msg
	case runErr != nil && pkgerrors.HasCode(runErr, pkgerrors.CodeIdempotency):
		status = enums.JobRunStatusSkipped
		msg := runErr.Error()
		errMsg = &msg
	case runErr != nil:
		status = enums.JobRunStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}

	run := &models.JobRun{
		ID:          uuid.New(),
		JobID:       job.ID,
		RunKey:      runKey,
		Attempt:     attempt,
		Status:      status,
		ScheduledAt: scheduledAt,
		StartedAt:   startedAt,
		FinishedAt:  &finishedAt,
		Error:       errMsg,
	}
	detail := ""
	if result != nil {
		run.TransactionID = result.TransactionID
		detail = result.Detail
	}

	if err := r.persistAttempt(ctx, job, run, detail, actorID); err != nil {
		r.logg.Error(ctx, "persist job run", err)
	}
	r.metrics.IncRun(job.Name, string(status))

	logCtx := r.logg.WithFields(ctx, map[string]any{
		"attempt": attempt,
		"status":  string(status),
	})
	if status == enums.JobRunStatusSucceeded || status == enums.JobRunStatusSkipped {
		r.logg.Info(logCtx, "job run finished")
	} else {
		r.logg.Error(logCtx, "job run finished", runErr)
	}
	return run
}

// persistAttempt writes the run row, the job's last-run state, the audit
// event and the job_run_completed event in one transaction.
func (r *Runner) persistAttempt(ctx context.Context, job *models.ScheduledJob, run *models.JobRun, detail, actorID string) error {
	return r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)
		if err := repo.CreateRun(ctx, run); err != nil {
			return err
		}
		if err := repo.RecordRunState(ctx, job.ID, run.StartedAt, run.Status, run.Error); err != nil {
			return err
		}

		outcome := enums.AuditOutcomeSuccess
		if run.Status == enums.JobRunStatusFailed || run.Status == enums.JobRunStatusTimedOut {
			outcome = enums.AuditOutcomeFailure
		}
		metadata := map[string]any{
			"job":     job.Name,
			"action":  string(job.Action),
			"run_key": run.RunKey,
			"attempt": run.Attempt,
			"status":  string(run.Status),
		}
		if detail != "" {
			metadata["detail"] = detail
		}
		if run.TransactionID != nil {
			metadata["transaction_id"] = run.TransactionID.String()
		}
		reason := ""
		if run.Error != nil {
			reason = *run.Error
		}
		jobID := job.ID
		if _, err := r.audits.Record(ctx, tx, audit.Entry{
			ActorID:      actorID,
			Action:       "scheduler.run",
			ResourceType: "scheduled_job",
			ResourceID:   &jobID,
			Outcome:      outcome,
			Reason:       reason,
			Metadata:     metadata,
		}); err != nil {
			return err
		}

		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventJobRunCompleted,
			AggregateType: enums.AggregateScheduledJob,
			AggregateID:   job.ID,
			Data: payloads.JobRunCompletedEvent{
				JobID:      job.ID,
				JobName:    job.Name,
				RunKey:     run.RunKey,
				Status:     run.Status,
				Attempt:    run.Attempt,
				Error:      reason,
				FinishedAt: *run.FinishedAt,
			},
			OccurredAt: *run.FinishedAt,
		})
	})
}

// advance moves the job to its next cron slot. Timed-out runs also flag
// the job for operator review since the action's effects are unverified.
func (r *Runner) advance(ctx context.Context, job *models.ScheduledJob, markReview bool) {
	logCtx := r.logg.WithField(ctx, "job", job.Name)
	sched, err := cronParser.Parse(job.CronExpr)
	if err != nil {
		r.logg.Error(logCtx, "parse cron for reschedule", err)
		if flagErr := r.repo.FlagReview(ctx, job.ID, "invalid cron expression: "+err.Error()); flagErr != nil {
			r.logg.Error(logCtx, "flag job for review", flagErr)
		}
		return
	}
	if err := r.repo.AdvanceSchedule(ctx, job.ID, sched.Next(r.now()), markReview); err != nil {
		r.logg.Error(logCtx, "advance schedule", err)
	}
}

func (r *Runner) jobTimeout(job *models.ScheduledJob) time.Duration {
	if job.TimeoutSeconds > 0 {
		return time.Duration(job.TimeoutSeconds) * time.Second
	}
	if r.cfg.DefaultTimeout > 0 {
		return r.cfg.DefaultTimeout
	}
	return 10 * time.Minute
}

func runKeyFor(jobID uuid.UUID, scheduledAt time.Time) string {
	return fmt.Sprintf("%s:%d", jobID, scheduledAt.Unix())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
