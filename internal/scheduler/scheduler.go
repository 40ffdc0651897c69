package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/edvin/backupd/internal/archive"
	"github.com/edvin/backupd/internal/config"
	"github.com/edvin/backupd/internal/metrics"
	"github.com/edvin/backupd/internal/model"
	"github.com/edvin/backupd/internal/retention"
	"github.com/edvin/backupd/internal/store"
)

const (
	historyCap = 1000
	// completed running-markers stay visible for this long before eviction
	markerGrace = time.Hour
)

// ArchiveBuilder is the builder surface the scheduler drives.
type ArchiveBuilder interface {
	Build(ctx context.Context, src model.Source) (string, *model.Metadata, error)
}

// RetentionEnforcer applies a source's retention policy after a successful
// upload.
type RetentionEnforcer interface {
	Enforce(ctx context.Context, src model.Source) (retention.Result, error)
}

// Scheduler fires each source's backup on its cron schedule, guarantees at
// most one concurrent run per source, and records bounded job history.
//
// The running-marker map and the history list are guarded by one mutex held
// only for the short bookkeeping sections; the pipeline body executes
// outside the lock so a slow source never blocks another source's trigger.
type Scheduler struct {
	logger    zerolog.Logger
	builder   ArchiveBuilder
	store     store.ObjectStore
	retention RetentionEnforcer
	sources   []model.Source
	cron      *cron.Cron

	mu      sync.Mutex
	running map[string]*model.RunningJob
	history []model.JobRecord

	wg    sync.WaitGroup
	grace time.Duration
	cap   int
}

func New(
	logger zerolog.Logger,
	builder ArchiveBuilder,
	st store.ObjectStore,
	enforcer RetentionEnforcer,
	sources []model.Source,
) *Scheduler {
	return &Scheduler{
		logger:    logger.With().Str("component", "scheduler").Logger(),
		builder:   builder,
		store:     st,
		retention: enforcer,
		sources:   sources,
		cron: cron.New(
			cron.WithParser(config.CronParser()),
			cron.WithLocation(time.UTC),
		),
		running: make(map[string]*model.RunningJob),
		grace:   markerGrace,
		cap:     historyCap,
	}
}

// Start registers every source with the cron runner and begins firing
// triggers. Schedules were validated at config load, so registration errors
// are programming errors.
func (s *Scheduler) Start() error {
	for _, src := range s.sources {
		src := src
		if _, err := s.cron.AddFunc(src.Schedule, func() { s.RunJob(src) }); err != nil {
			return err
		}
		s.logger.Info().
			Str("source", src.ID).
			Str("schedule", src.Schedule).
			Msg("registered backup schedule")
	}
	s.cron.Start()
	return nil
}

// Stop stops firing new triggers and waits for in-flight jobs to finish.
// There is no mid-job cancellation: a stalled hook or transfer holds the
// drain until the context expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cron.Stop()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunJob executes one backup attempt for the source, unless one is already
// in flight, in which case the trigger is dropped entirely: no queueing, no
// catch-up, no JobRecord.
func (s *Scheduler) RunJob(src model.Source) {
	s.wg.Add(1)
	defer s.wg.Done()

	startedAt := time.Now().UTC()
	jobID := model.NewJobID(src.ID, startedAt)

	s.mu.Lock()
	if rj, ok := s.running[src.ID]; ok && rj.Status == model.JobStatusRunning {
		s.mu.Unlock()
		s.logger.Warn().
			Str("source", src.ID).
			Str("running_job", rj.JobID).
			Msg("skipping trigger, job already in flight")
		metrics.JobsSkipped.WithLabelValues(src.ID).Inc()
		return
	}
	s.running[src.ID] = &model.RunningJob{
		JobID:     jobID,
		SourceID:  src.ID,
		StartedAt: startedAt,
		Status:    model.JobStatusRunning,
	}
	s.mu.Unlock()

	logger := s.logger.With().Str("source", src.ID).Str("job_id", jobID).Logger()
	logger.Info().Msg("backup job started")

	rec := s.runPipeline(logger, src, jobID, startedAt)

	s.mu.Lock()
	s.history = append(s.history, rec)
	if len(s.history) > s.cap {
		s.history = s.history[len(s.history)-s.cap:]
	}
	if rj, ok := s.running[src.ID]; ok && rj.JobID == jobID {
		rj.Status = rec.Status
		completed := rec.CompletedAt
		rj.CompletedAt = &completed
	}
	s.mu.Unlock()

	metrics.JobsTotal.WithLabelValues(src.ID, rec.Status).Inc()
	metrics.JobDuration.WithLabelValues(src.ID).Observe(rec.CompletedAt.Sub(rec.StartedAt).Seconds())

	time.AfterFunc(s.grace, func() { s.evictMarker(src.ID, jobID) })

	if rec.Status == model.JobStatusSuccess {
		logger.Info().
			Int("retention_deleted", rec.RetentionDeleted).
			Dur("duration", rec.CompletedAt.Sub(rec.StartedAt)).
			Msg("backup job succeeded")
	} else {
		logger.Error().Str("error", rec.Error).Msg("backup job failed")
	}
}

// runPipeline executes build, upload, local cleanup, and retention for one
// job, outside the scheduler lock.
func (s *Scheduler) runPipeline(logger zerolog.Logger, src model.Source, jobID string, startedAt time.Time) model.JobRecord {
	rec := model.JobRecord{
		ID:        jobID,
		SourceID:  src.ID,
		StartedAt: startedAt,
	}
	ctx := context.Background()

	encPath, meta, err := s.builder.Build(ctx, src)
	if err == nil {
		_, err = s.store.Upload(ctx, encPath, meta)
		// The local artifact is removed on every outcome: after a confirmed
		// upload it is no longer needed, after a failed one it must not
		// linger.
		archive.RemoveArtifact(logger, encPath)
	}

	if err != nil {
		logger.Debug().Err(err).Msg("pipeline error detail")
		rec.Status = model.JobStatusFailed
		rec.Error = sanitizeError(err)
		rec.CompletedAt = time.Now().UTC()
		return rec
	}

	res, retErr := s.retention.Enforce(ctx, src)
	if retErr != nil {
		// Retention is best effort; a failed pass never fails the job.
		logger.Warn().Err(retErr).Msg("retention pass failed")
	}
	if res.DeletedCount > 0 {
		metrics.RetentionDeleted.WithLabelValues(src.ID).Add(float64(res.DeletedCount))
	}

	rec.Status = model.JobStatusSuccess
	rec.Metadata = meta
	rec.RetentionDeleted = res.DeletedCount
	rec.CompletedAt = time.Now().UTC()
	metrics.UploadedBytes.WithLabelValues(src.ID).Add(float64(meta.SizeBytes))
	return rec
}

// evictMarker removes a completed running-marker after the grace period,
// unless a newer job has replaced it.
func (s *Scheduler) evictMarker(sourceID, jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rj, ok := s.running[sourceID]; ok && rj.JobID == jobID && rj.Status != model.JobStatusRunning {
		delete(s.running, sourceID)
	}
}

// RunningJobs returns a snapshot copy of the per-source running markers.
func (s *Scheduler) RunningJobs() []model.RunningJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]model.RunningJob, 0, len(s.running))
	for _, rj := range s.running {
		jobs = append(jobs, *rj)
	}
	return jobs
}

// History returns a snapshot of job records, newest first, optionally
// filtered by source. limit <= 0 means no limit.
func (s *Scheduler) History(sourceID string, limit int) []model.JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]model.JobRecord, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		if sourceID != "" && s.history[i].SourceID != sourceID {
			continue
		}
		records = append(records, s.history[i])
		if limit > 0 && len(records) == limit {
			break
		}
	}
	return records
}

// Sources returns the configured sources.
func (s *Scheduler) Sources() []model.Source {
	return s.sources
}
