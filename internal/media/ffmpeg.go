package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/pkg/command"
	"github.com/MimeLyc/faceless-video/pkg/file"
	"github.com/MimeLyc/faceless-video/pkg/log"
)

const (
	defaultTimeout      = 5 * time.Minute
	defaultProbeTimeout = 30 * time.Second
)

type Options struct {
	FFmpegPath  string
	FFprobePath string
	Width       int
	Height      int
	FPS         int
	// Timeout bounds every single ffmpeg invocation.
	Timeout time.Duration
	Runner  command.Runner
}

type FFmpeg struct {
	ffmpegCmd  string
	ffprobeCmd string
	geometry   geometry
	timeout    time.Duration
	runner     command.Runner
	lookPath   func(string) (string, error)
}

func NewFFmpeg(opts Options) *FFmpeg {
	ff := &FFmpeg{
		ffmpegCmd:  opts.FFmpegPath,
		ffprobeCmd: opts.FFprobePath,
		geometry:   geometry{width: opts.Width, height: opts.Height, fps: opts.FPS},
		timeout:    opts.Timeout,
		runner:     opts.Runner,
		lookPath:   exec.LookPath,
	}
	if ff.ffmpegCmd == "" {
		ff.ffmpegCmd = "ffmpeg"
	}
	if ff.ffprobeCmd == "" {
		ff.ffprobeCmd = "ffprobe"
	}
	if ff.geometry.width <= 0 {
		ff.geometry.width = 1280
	}
	if ff.geometry.height <= 0 {
		ff.geometry.height = 720
	}
	if ff.geometry.fps <= 0 {
		ff.geometry.fps = 30
	}
	if ff.timeout <= 0 {
		ff.timeout = defaultTimeout
	}
	if ff.runner == nil {
		ff.runner = command.ExecRunner{}
	}
	return ff
}

// IsAvailable reports whether both ffmpeg and ffprobe can be executed.
func (ff *FFmpeg) IsAvailable() bool {
	for _, name := range []string{ff.ffmpegCmd, ff.ffprobeCmd} {
		if _, err := ff.lookPath(name); err != nil {
			log.Warn("%s not found: %v", name, err)
			return false
		}
	}
	return true
}

func (ff *FFmpeg) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultProbeTimeout)
	defer cancel()

	res, err := ff.runner.Run(callCtx, ff.ffprobeCmd, probeArgs(path)...)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	var probeResult struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal([]byte(res.Stdout), &probeResult); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(probeResult.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported no duration for %s", path)
	}
	if secs < 0 {
		return 0, fmt.Errorf("ffprobe reported negative duration %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Compose renders req.Visual, muxes it with the audio and returns the
// output path. Intermediate files next to the output are removed.
func (ff *FFmpeg) Compose(ctx context.Context, req ComposeRequest) (string, error) {
	if req.OutputPath == "" {
		return "", errors.New("output path is required")
	}
	if req.AudioPath == "" {
		return "", errors.New("audio path is required")
	}

	switch req.Visual.Kind {
	case VisualSlideshow:
		if len(req.Visual.Frames) == 0 {
			return "", errors.New("slideshow needs at least one frame")
		}
		listPath := file.ReplaceExt(req.OutputPath, ".ffconcat")
		if err := os.WriteFile(listPath, []byte(concatList(req.Visual.Frames)), 0o644); err != nil {
			return "", fmt.Errorf("write concat list: %w", err)
		}
		defer removeQuietly(listPath)

		track := file.ReplaceExt(req.OutputPath, ".slideshow.mp4")
		defer removeQuietly(track)
		if err := ff.run(ctx, "build slideshow", slideshowArgs(listPath, track, ff.geometry)); err != nil {
			return "", err
		}
		return ff.finish(ctx, track, req)

	case VisualWaveform:
		if req.Duration <= 0 {
			return "", errors.New("waveform needs the audio duration")
		}
		track := file.ReplaceExt(req.OutputPath, ".waveform.mp4")
		defer removeQuietly(track)
		if err := ff.run(ctx, "generate waveform", waveformArgs(req.AudioPath, track, req.Duration, ff.geometry)); err != nil {
			return "", err
		}
		return ff.finish(ctx, track, req)

	case VisualStaticText:
		if req.Duration <= 0 {
			return "", errors.New("static text video needs the audio duration")
		}
		args := staticTextArgs(req.Visual.Text, req.AudioPath, req.SubtitlePath, req.OutputPath, req.Duration, ff.geometry)
		if err := ff.run(ctx, "build static video", args); err != nil {
			return "", err
		}
		return req.OutputPath, nil

	default:
		return "", fmt.Errorf("unknown visual kind %q", req.Visual.Kind)
	}
}

func (ff *FFmpeg) finish(ctx context.Context, track string, req ComposeRequest) (string, error) {
	if err := ff.run(ctx, "build final video", finalArgs(track, req.AudioPath, req.SubtitlePath, req.OutputPath)); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

// run is detached from ctx cancellation so a shutdown lets the current
// encode finish within its own timeout.
func (ff *FFmpeg) run(ctx context.Context, what string, args []string) error {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ff.timeout)
	defer cancel()

	started := time.Now()
	log.Debug("ffmpeg [%s]: %s", what, strings.Join(args, " "))
	if _, err := ff.runner.Run(callCtx, ff.ffmpegCmd, args...); err != nil {
		log.Error("ffmpeg [%s] failed: %v", what, err)
		return fmt.Errorf("ffmpeg (%s): %w", what, err)
	}
	log.Info("ffmpeg [%s] completed in %s", what, time.Since(started).Round(time.Millisecond))
	return nil
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Debug("remove %s: %v", path, err)
	}
}
