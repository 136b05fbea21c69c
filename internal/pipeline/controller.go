// Package pipeline turns one claimed job into a finished video.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/internal/media"
	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/internal/scene"
	"github.com/MimeLyc/faceless-video/internal/subtitle"
	"github.com/MimeLyc/faceless-video/internal/transcribe"
	"github.com/MimeLyc/faceless-video/internal/visual"
	"github.com/MimeLyc/faceless-video/pkg/log"
)

// Progress checkpoints.
const (
	progressPreflight  = 5
	progressProbed     = 10
	progressTranscribe = 15
	progressTranscript = 50
	progressVisuals    = 75
	progressAssembled  = 90
	progressDone       = 100
)

const (
	fallbackCaption = "Faceless Video Generator"
	minFrame        = 100 * time.Millisecond
)

type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, model string) (transcribe.Result, error)
}

type Encoder interface {
	IsAvailable() bool
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
	Compose(ctx context.Context, req media.ComposeRequest) (string, error)
}

type Cascade interface {
	Acquire(ctx context.Context, index int, sc scene.Scene, outBase string) (visual.SceneAsset, error)
}

type Config struct {
	OutputDir        string
	WorkDir          string
	MaxAudioDuration time.Duration
	SceneDuration    time.Duration
	Model            string
	WordsPerCue      int
}

type Controller struct {
	store       jobs.Store
	transcriber Transcriber
	encoder     Encoder
	cascade     Cascade
	cfg         Config
}

func NewController(store jobs.Store, transcriber Transcriber, encoder Encoder, cascade Cascade, cfg Config) *Controller {
	if cfg.SceneDuration <= 0 {
		cfg.SceneDuration = scene.DefaultDuration
	}
	if cfg.WordsPerCue <= 0 {
		cfg.WordsPerCue = subtitle.DefaultWordsPerCue
	}
	if cfg.MaxAudioDuration <= 0 {
		cfg.MaxAudioDuration = 120 * time.Second
	}
	return &Controller{
		store:       store,
		transcriber: transcriber,
		encoder:     encoder,
		cascade:     cascade,
		cfg:         cfg,
	}
}

// Execute runs every stage for job and records the outcome in the store.
// It returns an error only when the final status could not be written.
// ctx cancellation is observed between stages and scenes.
func (c *Controller) Execute(ctx context.Context, job *jobs.Job) (err error) {
	r := &run{
		c:        c,
		ctx:      ctx,
		storeCtx: context.WithoutCancel(ctx),
		job:      job,
		logger:   log.Job(job.ID),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in pipeline: %v\n%s", p, debug.Stack())
			err = r.fail(fmt.Errorf("unexpected error: %v", p))
		}
	}()

	stages := []stage{
		{name: "preflight", run: r.preflight},
		{name: "probe", run: r.probe},
		{name: "transcribe", run: r.transcribe},
		{name: "segment", run: r.segment},
		{name: "visuals", run: r.visuals},
		{name: "assemble", run: r.assemble},
		{name: "finalize", run: r.finalize},
	}
	for _, st := range stages {
		if ctx.Err() != nil {
			return r.fail(ErrInterrupted)
		}

		started := time.Now()
		res := st.run()
		metrics.ObserveStage(st.name, res.outcome.String(), time.Since(started))

		switch res.outcome {
		case outcomeDegraded:
			r.logger.Warn("stage %s degraded: %v", st.name, res.err)
		case outcomeFatal:
			return r.fail(res.err)
		}
	}
	return nil
}

type run struct {
	c        *Controller
	ctx      context.Context
	storeCtx context.Context
	job      *jobs.Job
	logger   *log.Logger

	duration        time.Duration
	transcript      transcribe.Result
	transcriptionOK bool
	subtitlePath    string
	scenes          []scene.Scene
	visual          media.VisualSource
	outputPath      string
}

func (r *run) preflight() stageResult {
	r.logf("Checking ffmpeg availability")
	if !r.c.encoder.IsAvailable() {
		return fatal(fatalf("preflight", nil, "ffmpeg not found on PATH, install ffmpeg and try again"))
	}
	if err := os.MkdirAll(r.c.cfg.OutputDir, 0o755); err != nil {
		return fatal(fatalf("preflight", err, "output directory is not writable"))
	}
	if err := r.checkpoint(progressPreflight, jobs.Fields{}); err != nil {
		return fatal(err)
	}
	r.logf("ffmpeg is available")
	return ok()
}

func (r *run) probe() stageResult {
	r.logf("Analysing audio file")
	d, err := r.c.encoder.ProbeDuration(r.ctx, r.job.AudioPath)
	if err != nil {
		return fatal(fatalf("probe", err, "could not read audio duration"))
	}
	r.duration = d
	r.logf("Duration: %.1fs", d.Seconds())

	if d > r.c.cfg.MaxAudioDuration {
		return fatal(fatalf("probe", nil, "audio too long (%.0fs), max allowed is %.0fs",
			d.Seconds(), r.c.cfg.MaxAudioDuration.Seconds()))
	}
	if err := r.checkpoint(progressProbed, jobs.Fields{}); err != nil {
		return fatal(err)
	}
	return ok()
}

func (r *run) transcribe() stageResult {
	if err := r.checkpoint(progressTranscribe, jobs.Fields{}); err != nil {
		return fatal(err)
	}
	r.logf("Transcribing audio with whisper")

	res := r.transcribeAudio()
	if err := r.checkpoint(progressTranscript, jobs.Fields{}); err != nil {
		return fatal(err)
	}
	return res
}

func (r *run) transcribeAudio() stageResult {
	result, err := r.c.transcriber.Transcribe(r.ctx, r.job.AudioPath, r.c.cfg.Model)
	if err != nil {
		r.warnf("Transcription failed: %v. Using fallback video", err)
		return degraded(err)
	}
	if len(result.Segments) == 0 {
		r.warnf("No speech segments found. Using fallback video")
		return degraded(errors.New("empty transcript"))
	}
	r.transcript = result
	r.transcriptionOK = true
	r.logf("Transcription complete, %d segments (%s)", len(result.Segments), result.Language)

	srtPath := filepath.Join(r.c.cfg.OutputDir, r.job.ID+".srt")
	cues := subtitle.FromSegments(result.Segments, r.c.cfg.WordsPerCue)
	if err := subtitle.NewWriter().Write(srtPath, cues); err != nil {
		r.warnf("Could not write subtitles: %v. Continuing without them", err)
		return degraded(err)
	}
	r.subtitlePath = srtPath
	return ok()
}

func (r *run) segment() stageResult {
	if !r.transcriptionOK {
		return ok()
	}
	r.logf("Splitting transcript into scenes")
	r.scenes = scene.Split(r.transcript.Segments, r.c.cfg.SceneDuration)
	r.logf("%d scenes created", len(r.scenes))
	return ok()
}

func (r *run) visuals() stageResult {
	if !r.transcriptionOK {
		r.visual = media.StaticText(fallbackCaption)
		return ok()
	}

	r.logf("Acquiring scene images")
	dir := r.workDir()
	assets := make([]visual.SceneAsset, 0, len(r.scenes))
	for i, sc := range r.scenes {
		if r.ctx.Err() != nil {
			return fatal(ErrInterrupted)
		}
		asset, err := r.c.cascade.Acquire(r.ctx, i, sc, filepath.Join(dir, fmt.Sprintf("scene_%03d", i)))
		if err != nil {
			r.warnf("Scene images failed: %v. Falling back to waveform", err)
			r.visual = media.Waveform()
			if err := r.checkpoint(progressVisuals, jobs.Fields{}); err != nil {
				return fatal(err)
			}
			return degraded(err)
		}
		assets = append(assets, asset)
		r.logf("Image %d/%d ready [%s]", i+1, len(r.scenes), asset.Source)
		if err := r.checkpoint(progressTranscript+25*(i+1)/len(r.scenes), jobs.Fields{}); err != nil {
			return fatal(err)
		}
	}

	r.visual = media.Slideshow(framesFor(assets, r.duration))
	if err := r.checkpoint(progressVisuals, jobs.Fields{}); err != nil {
		return fatal(err)
	}
	return ok()
}

func (r *run) assemble() stageResult {
	r.outputPath = filepath.Join(r.c.cfg.OutputDir, r.job.ID+".mp4")
	req := media.ComposeRequest{
		Visual:       r.visual,
		AudioPath:    r.job.AudioPath,
		SubtitlePath: r.subtitlePath,
		OutputPath:   r.outputPath,
		Duration:     r.duration,
	}

	var result stageResult
	switch r.visual.Kind {
	case media.VisualStaticText:
		r.logf("Generating simple video with fallback caption")
	case media.VisualSlideshow:
		r.logf("Building slideshow video and burning subtitles")
	default:
		r.logf("Generating waveform video and burning subtitles")
	}

	_, err := r.c.encoder.Compose(r.ctx, req)
	if err != nil && r.visual.Kind == media.VisualSlideshow {
		r.warnf("Slideshow failed: %v. Falling back to waveform", err)
		result = degraded(err)
		req.Visual = media.Waveform()
		_, err = r.c.encoder.Compose(r.ctx, req)
	}
	if err != nil {
		return fatal(fatalf("assemble", err, "video assembly failed"))
	}

	fields := jobs.Fields{}
	if r.subtitlePath != "" {
		fields = fields.WithSubtitle(r.subtitlePath)
	}
	if err := r.checkpoint(progressAssembled, fields); err != nil {
		return fatal(err)
	}
	if result.outcome == outcomeDegraded {
		return result
	}
	return ok()
}

func (r *run) finalize() stageResult {
	if err := r.c.store.UpdateStatus(r.storeCtx, r.job.ID, jobs.StatusDone,
		jobs.Progress(progressDone).WithOutput(r.outputPath)); err != nil {
		return fatal(err)
	}
	r.logf("Video generation complete")
	metrics.IncJobProcessed(string(jobs.StatusDone))

	if err := os.RemoveAll(r.workDir()); err != nil {
		r.logger.Debug("cleanup %s: %v", r.workDir(), err)
	}
	return ok()
}

// fail marks the job failed. Jobs already finished elsewhere are left as is.
func (r *run) fail(cause error) error {
	msg := cause.Error()
	if IsFatal(cause) || errors.Is(cause, ErrInterrupted) {
		r.logf("Pipeline error: %s", msg)
		r.logger.Error("job failed: %s", msg)
	} else {
		r.logf("Unexpected error: %s", msg)
		r.logger.Error("job failed unexpectedly: %v", cause)
	}

	err := r.c.store.UpdateStatus(r.storeCtx, r.job.ID, jobs.StatusFailed, jobs.Fields{}.WithError(msg))
	if errors.Is(err, jobs.ErrInvalidTransition) {
		r.logger.Warn("job is no longer processing, leaving its status alone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.IncJobProcessed(string(jobs.StatusFailed))
	return nil
}

func (r *run) checkpoint(progress int, fields jobs.Fields) error {
	return r.c.store.UpdateStatus(r.storeCtx, r.job.ID, jobs.StatusProcessing, fields.WithProgress(progress))
}

func (r *run) logf(format string, args ...interface{}) {
	r.appendLog(fmt.Sprintf(format, args...))
}

func (r *run) warnf(format string, args ...interface{}) {
	r.appendLog("WARN: " + fmt.Sprintf(format, args...))
}

func (r *run) appendLog(line string) {
	r.logger.Info("%s", line)
	if err := r.c.store.AppendLog(r.storeCtx, r.job.ID, line); err != nil {
		r.logger.Warn("append job log: %v", err)
	}
}

func (r *run) workDir() string {
	return filepath.Join(r.c.cfg.WorkDir, r.job.ID)
}

// framesFor holds each image from its scene start until the next scene
// starts, stretching the first to 0 and the last to the end of the audio.
func framesFor(assets []visual.SceneAsset, total time.Duration) []media.Frame {
	frames := make([]media.Frame, 0, len(assets))
	for i, a := range assets {
		start := a.Start
		if i == 0 {
			start = 0
		}
		end := a.End
		if i+1 < len(assets) {
			end = assets[i+1].Start
		} else if total > end {
			end = total
		}
		d := end - start
		if d < minFrame {
			d = minFrame
		}
		frames = append(frames, media.Frame{Path: a.Path, Duration: d})
	}
	return frames
}
