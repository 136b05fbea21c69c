package persistence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behaviour every jobs.Store backend must share.
func runStoreContract(t *testing.T, open func(t *testing.T) jobs.Store) {
	t.Run("create starts queued at zero", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{AudioPath: "/data/uploads/a.mp3", OriginalName: "a.mp3"})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, jobs.StatusQueued, job.Status)
		assert.Equal(t, 0, job.Progress)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, got.Status)
		assert.Equal(t, "/data/uploads/a.mp3", got.AudioPath)
		assert.Equal(t, "a.mp3", got.OriginalName)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Empty(t, got.OutputPath)
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		_, err := store.Create(ctx, jobs.NewJob{ID: "fixed"})
		require.NoError(t, err)
		_, err = store.Create(ctx, jobs.NewJob{ID: "fixed"})
		assert.ErrorIs(t, err, jobs.ErrAlreadyExists)
	})

	t.Run("claim takes oldest queued first", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		first, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		second, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)

		claimed, err := store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, first.ID, claimed.ID)
		assert.Equal(t, jobs.StatusProcessing, claimed.Status)

		claimed, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed)
		assert.Equal(t, second.ID, claimed.ID)

		claimed, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		assert.Nil(t, claimed)
	})

	t.Run("concurrent claimers never share a job", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		const total = 40
		for range total {
			_, err := store.Create(ctx, jobs.NewJob{})
			require.NoError(t, err)
		}

		var mu sync.Mutex
		seen := make(map[string]int)
		var wg sync.WaitGroup
		for range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					job, err := store.ClaimNextQueued(ctx)
					if !assert.NoError(t, err) || job == nil {
						return
					}
					mu.Lock()
					seen[job.ID]++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Len(t, seen, total)
		for id, n := range seen {
			assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
		}
	})

	t.Run("progress never decreases", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)

		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(50)))
		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(30)))
		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 50, got.Progress)

		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(250)))
		got, err = store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 100, got.Progress)
	})

	t.Run("partial update leaves other fields", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)

		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(90).WithSubtitle("/out/a.srt")))
		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusDone, jobs.Progress(100).WithOutput("/out/a.mp4")))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusDone, got.Status)
		assert.Equal(t, "/out/a.srt", got.SubtitlePath)
		assert.Equal(t, "/out/a.mp4", got.OutputPath)
		assert.Equal(t, 100, got.Progress)
		assert.Empty(t, got.Error)
	})

	t.Run("terminal jobs are frozen but accept logs", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusFailed, jobs.Fields{}.WithError("ffmpeg not found")))

		err = store.UpdateStatus(ctx, job.ID, jobs.StatusDone, jobs.Progress(100).WithOutput("/out/x.mp4"))
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
		err = store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(60))
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

		require.NoError(t, store.AppendLog(ctx, job.ID, "trailing diagnostic"))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
		assert.Equal(t, 0, got.Progress)
		assert.Empty(t, got.OutputPath)
		assert.Equal(t, "ffmpeg not found", got.Error)
		assert.Equal(t, []string{"trailing diagnostic"}, got.LogLines())
	})

	t.Run("illegal transitions and unknown ids", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)

		assert.ErrorIs(t, store.UpdateStatus(ctx, job.ID, jobs.StatusDone, jobs.Fields{}), jobs.ErrInvalidTransition)
		assert.ErrorIs(t, store.UpdateStatus(ctx, job.ID, jobs.StatusQueued, jobs.Fields{}), jobs.ErrInvalidTransition)
		assert.ErrorIs(t, store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Fields{}.WithError("boom")), jobs.ErrInvalidTransition)
		assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", jobs.StatusProcessing, jobs.Fields{}), jobs.ErrNotFound)
		assert.ErrorIs(t, store.AppendLog(ctx, "missing", "x"), jobs.ErrNotFound)
		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, jobs.ErrNotFound)
	})

	t.Run("error message only on failed", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)

		err = store.UpdateStatus(ctx, job.ID, jobs.StatusProcessing, jobs.Progress(40).WithError("boom"))
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)
		err = store.UpdateStatus(ctx, job.ID, jobs.StatusDone, jobs.Progress(100).WithError("boom"))
		assert.ErrorIs(t, err, jobs.ErrInvalidTransition)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusProcessing, got.Status)
		assert.Empty(t, got.Error)
		assert.Equal(t, 0, got.Progress, "a rejected update writes nothing")

		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusDone, jobs.Progress(100)))
		got, err = store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusDone, got.Status)
		assert.Empty(t, got.Error)
	})

	t.Run("multi-line log message stays one entry", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		require.NoError(t, store.AppendLog(ctx, job.ID, "WARN: Transcription failed: whisper exited with code 1: line one\r\nline two\n"))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"WARN: Transcription failed: whisper exited with code 1: line one | line two"}, got.LogLines())
	})

	t.Run("logs append in order", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		require.NoError(t, store.AppendLog(ctx, job.ID, "INFO: one"))
		require.NoError(t, store.AppendLog(ctx, job.ID, "INFO: two\n"))

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, "INFO: one\nINFO: two\n", got.Logs)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("list is newest first and limited", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		ids := make([]string, 0, 3)
		for range 3 {
			job, err := store.Create(ctx, jobs.NewJob{})
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}

		all, err := store.List(ctx, 0)
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, ids[2], all[0].ID)
		assert.Equal(t, ids[0], all[2].ID)

		limited, err := store.List(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("interrupted processing jobs are failed", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		running, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		queued, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)

		n, err := store.FailInterrupted(ctx, "interrupted")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		got, err := store.Get(ctx, running.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
		assert.Equal(t, "interrupted", got.Error)

		got, err = store.Get(ctx, queued.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusQueued, got.Status)
	})

	t.Run("terminal jobs listed by age", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		done, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, done.ID, jobs.StatusDone, jobs.Progress(100)))

		old, err := store.ListTerminalBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, old, 1)
		assert.Equal(t, done.ID, old[0].ID)

		old, err = store.ListTerminalBefore(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, old)
	})

	t.Run("purged jobs leave the retention listing", func(t *testing.T) {
		store := open(t)
		ctx := context.Background()

		job, err := store.Create(ctx, jobs.NewJob{})
		require.NoError(t, err)
		assert.ErrorIs(t, store.MarkPurged(ctx, job.ID), jobs.ErrInvalidTransition, "queued jobs keep their files")

		_, err = store.ClaimNextQueued(ctx)
		require.NoError(t, err)
		require.NoError(t, store.UpdateStatus(ctx, job.ID, jobs.StatusFailed, jobs.Fields{}.WithError("boom")))
		require.NoError(t, store.MarkPurged(ctx, job.ID))
		require.NoError(t, store.MarkPurged(ctx, job.ID))
		assert.ErrorIs(t, store.MarkPurged(ctx, "missing"), jobs.ErrNotFound)

		old, err := store.ListTerminalBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, old)

		got, err := store.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusFailed, got.Status)
	})
}
