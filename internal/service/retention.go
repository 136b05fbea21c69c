package service

import (
	"context"
	"fmt"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/pkg/file"
	"github.com/MimeLyc/faceless-video/pkg/icron"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

type RetentionOptions struct {
	CronExpr string
	MaxAge   time.Duration
	// WorkDir holds per-job scratch files; stale leftovers are removed too.
	WorkDir string
}

// RetentionSweeper deletes the files of finished jobs once they are older
// than MaxAge. Job rows are kept so their history stays visible.
type RetentionSweeper struct {
	store    jobs.Store
	cron     *cron.Cron
	cronExpr string
	maxAge   time.Duration
	workDir  string
	now      func() time.Time
	group    singleflight.Group
}

// SweepResult counts what one sweep removed.
type SweepResult struct {
	Jobs  int
	Files int
}

func NewRetentionSweeper(store jobs.Store, c *cron.Cron, opts RetentionOptions) *RetentionSweeper {
	return &RetentionSweeper{
		store:    store,
		cron:     c,
		cronExpr: opts.CronExpr,
		maxAge:   opts.MaxAge,
		workDir:  opts.WorkDir,
		now:      time.Now,
	}
}

// Schedule registers the sweep with the cron runner. Overlapping triggers
// share one sweep.
func (s *RetentionSweeper) Schedule(ctx context.Context) error {
	if s.maxAge <= 0 {
		log.Info("Retention disabled")
		return nil
	}

	info, err := icron.GetTriggerInfo(s.cronExpr, s.now())
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.cronExpr, func() {
		err := SafeExecute(func() error {
			_, err := s.Sweep(ctx)
			return err
		})
		if err != nil {
			log.Error("Retention sweep failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule retention: %w", err)
	}
	log.Info("Retention sweep scheduled (%s), next run at %s", s.cronExpr, info.Next.Format(time.RFC3339))
	return nil
}

func (s *RetentionSweeper) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := s.group.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	if err != nil {
		return SweepResult{}, err
	}
	return v.(SweepResult), nil
}

func (s *RetentionSweeper) sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().Add(-s.maxAge)

	expired, err := s.store.ListTerminalBefore(ctx, cutoff)
	if err != nil {
		return res, WrapError(err, ErrStorage, "could not list expired jobs")
	}

	for _, job := range expired {
		removed, failed := 0, false
		for _, path := range []string{job.OutputPath, job.SubtitlePath, job.AudioPath} {
			ok, err := file.RemoveIfExists(path)
			if err != nil {
				log.Warn("Retention: remove %s: %v", path, err)
				failed = true
				continue
			}
			if ok {
				removed++
			}
		}
		// Keep the job listed so the next sweep retries what could not be removed.
		if !failed {
			if err := s.store.MarkPurged(ctx, job.ID); err != nil {
				log.Warn("Retention: mark job %s purged: %v", job.ID, err)
			}
		}
		if removed == 0 {
			continue
		}
		res.Jobs++
		res.Files += removed
		if err := s.store.AppendLog(ctx, job.ID, fmt.Sprintf("Retention: removed %d file(s) older than %s", removed, s.maxAge)); err != nil {
			log.Warn("Retention: append log for job %s: %v", job.ID, err)
		}
	}

	if s.workDir != "" {
		stale, err := file.FindModifiedBefore(s.workDir, cutoff)
		if err != nil {
			log.Warn("Retention: scan %s: %v", s.workDir, err)
		}
		for _, path := range stale {
			if ok, _ := file.RemoveIfExists(path); ok {
				res.Files++
			}
		}
		if err := file.RemoveEmptyDirs(s.workDir); err != nil {
			log.Warn("Retention: prune %s: %v", s.workDir, err)
		}
	}

	log.Info("Retention sweep removed %d file(s) from %d job(s)", res.Files, res.Jobs)
	return res, nil
}
