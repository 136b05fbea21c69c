package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/internal/media"
	"github.com/MimeLyc/faceless-video/internal/persistence"
	"github.com/MimeLyc/faceless-video/internal/scene"
	"github.com/MimeLyc/faceless-video/internal/subtitle"
	"github.com/MimeLyc/faceless-video/internal/transcribe"
	"github.com/MimeLyc/faceless-video/internal/visual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEncoder struct {
	unavailable bool
	duration    time.Duration
	probeErr    error
	probePanic  bool
	failKinds   map[media.VisualKind]bool

	mu       sync.Mutex
	requests []media.ComposeRequest
}

func (f *fakeEncoder) IsAvailable() bool { return !f.unavailable }

func (f *fakeEncoder) ProbeDuration(context.Context, string) (time.Duration, error) {
	if f.probePanic {
		panic("probe exploded")
	}
	return f.duration, f.probeErr
}

func (f *fakeEncoder) Compose(_ context.Context, req media.ComposeRequest) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if f.failKinds[req.Visual.Kind] {
		return "", fmt.Errorf("ffmpeg (%s): exit status 1", req.Visual.Kind)
	}
	if err := os.WriteFile(req.OutputPath, []byte("mp4"), 0o644); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

func (f *fakeEncoder) composed() []media.ComposeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]media.ComposeRequest(nil), f.requests...)
}

type fakeTranscriber struct {
	result transcribe.Result
	err    error
}

func (f fakeTranscriber) Transcribe(context.Context, string, string) (transcribe.Result, error) {
	return f.result, f.err
}

type brokenCascade struct{}

func (brokenCascade) Acquire(context.Context, int, scene.Scene, string) (visual.SceneAsset, error) {
	return visual.SceneAsset{}, errors.New("disk full")
}

// recordingStore remembers every progress value written.
type recordingStore struct {
	jobs.Store
	mu       sync.Mutex
	progress []int
}

func (s *recordingStore) UpdateStatus(ctx context.Context, id string, status jobs.Status, fields jobs.Fields) error {
	if fields.Progress != nil {
		s.mu.Lock()
		s.progress = append(s.progress, *fields.Progress)
		s.mu.Unlock()
	}
	return s.Store.UpdateStatus(ctx, id, status, fields)
}

func (s *recordingStore) recorded() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.progress...)
}

type harness struct {
	dir   string
	store *recordingStore
	job   *jobs.Job
	cfg   Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store, err := persistence.NewSQLiteStore(filepath.Join(dir, "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	audio := filepath.Join(dir, "uploads", "clip.mp3")
	require.NoError(t, os.MkdirAll(filepath.Dir(audio), 0o755))
	require.NoError(t, os.WriteFile(audio, []byte("ID3"), 0o644))

	ctx := context.Background()
	_, err = store.Create(ctx, jobs.NewJob{AudioPath: audio, OriginalName: "clip.mp3"})
	require.NoError(t, err)
	job, err := store.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	return &harness{
		dir:   dir,
		store: &recordingStore{Store: store},
		job:   job,
		cfg: Config{
			OutputDir:        filepath.Join(dir, "outputs"),
			WorkDir:          filepath.Join(dir, "work"),
			MaxAudioDuration: 120 * time.Second,
			SceneDuration:    5 * time.Second,
			Model:            "base",
		},
	}
}

func (h *harness) execute(t *testing.T, ctx context.Context, tr Transcriber, enc Encoder, casc Cascade) *jobs.Job {
	t.Helper()
	c := NewController(h.store, tr, enc, casc, h.cfg)
	require.NoError(t, c.Execute(ctx, h.job))

	got, err := h.store.Get(context.Background(), h.job.ID)
	require.NoError(t, err)
	return got
}

func sixSegments() transcribe.Result {
	segs := make([]transcribe.Segment, 0, 6)
	for i := 0; i < 6; i++ {
		segs = append(segs, transcribe.Segment{
			Start: time.Duration(i) * 5 * time.Second,
			End:   time.Duration(i+1) * 5 * time.Second,
			Text:  fmt.Sprintf("This is sentence number %d of the story.", i+1),
		})
	}
	return transcribe.Result{Segments: segs}
}

func offlineCascade() *visual.Cascade {
	return visual.NewCascade(visual.Options{Width: 32, Height: 18})
}

func assertMonotonic(t *testing.T, values []int) {
	t.Helper()
	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress went backwards at %d: %v", i, values)
	}
}

func TestExecute_ThirtySecondClipEndToEnd(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 30 * time.Second}

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, enc, offlineCascade())

	assert.Equal(t, jobs.StatusDone, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Equal(t, filepath.Join(h.cfg.OutputDir, h.job.ID+".mp4"), got.OutputPath)
	assert.FileExists(t, got.OutputPath)
	assert.Empty(t, got.Error)

	require.Len(t, enc.composed(), 1)
	req := enc.composed()[0]
	assert.Equal(t, media.VisualSlideshow, req.Visual.Kind)
	require.Len(t, req.Visual.Frames, 6)
	var total time.Duration
	for _, f := range req.Visual.Frames {
		assert.Equal(t, 5*time.Second, f.Duration)
		total += f.Duration
	}
	assert.Equal(t, 30*time.Second, total)
	assert.Equal(t, got.SubtitlePath, req.SubtitlePath)

	srt, err := subtitle.ReadFile(got.SubtitlePath)
	require.NoError(t, err)
	assert.Len(t, srt.Lines, 6)

	assert.Equal(t, []int{5, 10, 15, 50, 54, 58, 62, 66, 70, 75, 75, 90, 100}, h.store.recorded())
	assertMonotonic(t, h.store.recorded())
	assert.Contains(t, got.Logs, "6 scenes created")
	assert.Contains(t, got.Logs, "Image 6/6 ready [gradient]")

	// scene images are cleaned up
	assert.NoDirExists(t, filepath.Join(h.cfg.WorkDir, h.job.ID))
}

func TestExecute_TranscriptionFailureStillCompletes(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 12 * time.Second}

	got := h.execute(t, context.Background(), fakeTranscriber{err: errors.New("model missing")}, enc, offlineCascade())

	assert.Equal(t, jobs.StatusDone, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Empty(t, got.SubtitlePath)
	assert.Contains(t, got.Logs, "WARN: Transcription failed: model missing")

	require.Len(t, enc.composed(), 1)
	req := enc.composed()[0]
	assert.Equal(t, media.StaticText(fallbackCaption), req.Visual)
	assert.Empty(t, req.SubtitlePath)
	assert.Equal(t, 12*time.Second, req.Duration)
	assert.Equal(t, []int{5, 10, 15, 50, 90, 100}, h.store.recorded())
}

func TestExecute_EmptyTranscriptIsDegraded(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 3 * time.Second}

	got := h.execute(t, context.Background(), fakeTranscriber{}, enc, offlineCascade())

	assert.Equal(t, jobs.StatusDone, got.Status)
	assert.Contains(t, got.Logs, "No speech segments found")
	assert.Equal(t, media.VisualStaticText, enc.composed()[0].Visual.Kind)
}

func TestExecute_PreflightFailureLeavesProgress(t *testing.T) {
	h := newHarness(t)

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, &fakeEncoder{unavailable: true}, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Contains(t, got.Error, "ffmpeg not found")
	assert.Contains(t, got.Logs, "Pipeline error: ffmpeg not found")
	assert.Empty(t, h.store.recorded())
}

func TestExecute_AudioTooLong(t *testing.T) {
	h := newHarness(t)

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, &fakeEncoder{duration: 200 * time.Second}, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, 5, got.Progress)
	assert.Equal(t, "audio too long (200s), max allowed is 120s", got.Error)
}

func TestExecute_ProbeFailureIsFatal(t *testing.T) {
	h := newHarness(t)

	got := h.execute(t, context.Background(), fakeTranscriber{}, &fakeEncoder{probeErr: errors.New("invalid data")}, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "could not read audio duration: invalid data", got.Error)
}

func TestExecute_SlideshowFailureFallsBackToWaveform(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 30 * time.Second, failKinds: map[media.VisualKind]bool{media.VisualSlideshow: true}}

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, enc, offlineCascade())

	assert.Equal(t, jobs.StatusDone, got.Status)
	requests := enc.composed()
	require.Len(t, requests, 2)
	assert.Equal(t, media.VisualSlideshow, requests[0].Visual.Kind)
	assert.Equal(t, media.VisualWaveform, requests[1].Visual.Kind)
	assert.NotEmpty(t, requests[1].SubtitlePath)
	assert.Contains(t, got.Logs, "Slideshow failed")
}

func TestExecute_CascadeErrorUsesWaveform(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 30 * time.Second}

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, enc, brokenCascade{})

	assert.Equal(t, jobs.StatusDone, got.Status)
	require.Len(t, enc.composed(), 1)
	assert.Equal(t, media.VisualWaveform, enc.composed()[0].Visual.Kind)
	assertMonotonic(t, h.store.recorded())
}

func TestExecute_AssemblyFailureIsFatal(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 30 * time.Second, failKinds: map[media.VisualKind]bool{
		media.VisualSlideshow: true,
		media.VisualWaveform:  true,
	}}

	got := h.execute(t, context.Background(), fakeTranscriber{result: sixSegments()}, enc, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, 75, got.Progress)
	assert.Contains(t, got.Error, "video assembly failed")
	assert.Empty(t, got.OutputPath)
}

func TestExecute_InterruptedByShutdown(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := h.execute(t, ctx, fakeTranscriber{result: sixSegments()}, &fakeEncoder{duration: 30 * time.Second}, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, ErrInterrupted.Error(), got.Error)
	assert.Equal(t, 0, got.Progress)
}

func TestExecute_PanicIsUnexpectedFailure(t *testing.T) {
	h := newHarness(t)

	got := h.execute(t, context.Background(), fakeTranscriber{}, &fakeEncoder{probePanic: true}, offlineCascade())

	assert.Equal(t, jobs.StatusFailed, got.Status)
	assert.Equal(t, "unexpected error: probe exploded", got.Error)
	assert.Contains(t, got.Logs, "Unexpected error: unexpected error: probe exploded")
}

func TestExecute_WithDispatcher(t *testing.T) {
	h := newHarness(t)
	enc := &fakeEncoder{duration: 30 * time.Second}
	c := NewController(h.store, fakeTranscriber{result: sixSegments()}, enc, offlineCascade(), h.cfg)

	// the harness job was claimed directly; queue a second one for the dispatcher
	queued, err := h.store.Create(context.Background(), jobs.NewJob{AudioPath: h.job.AudioPath})
	require.NoError(t, err)

	d := jobs.NewDispatcher(h.store, jobs.WithPollInterval(10*time.Millisecond))
	d.Start(c.Execute)
	t.Cleanup(func() { d.Stop() })

	require.Eventually(t, func() bool {
		got, err := h.store.Get(context.Background(), queued.ID)
		return err == nil && got.Status == jobs.StatusDone
	}, 5*time.Second, 20*time.Millisecond)
}

func TestFramesFor(t *testing.T) {
	assets := []visual.SceneAsset{
		{Path: "a.png", Start: 400 * time.Millisecond, End: 5 * time.Second},
		{Path: "b.png", Start: 5 * time.Second, End: 10 * time.Second},
		{Path: "c.png", Start: 10 * time.Second, End: 14 * time.Second},
	}
	frames := framesFor(assets, 15*time.Second)

	require.Len(t, frames, 3)
	assert.Equal(t, media.Frame{Path: "a.png", Duration: 5 * time.Second}, frames[0])
	assert.Equal(t, media.Frame{Path: "b.png", Duration: 5 * time.Second}, frames[1])
	assert.Equal(t, media.Frame{Path: "c.png", Duration: 5 * time.Second}, frames[2])

	short := framesFor([]visual.SceneAsset{{Path: "x.png", Start: 0, End: 0}}, 0)
	assert.Equal(t, minFrame, short[0].Duration)
}
