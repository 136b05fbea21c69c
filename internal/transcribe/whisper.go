package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/pkg/command"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"golang.org/x/text/language"
)

const defaultWhisperTimeout = 10 * time.Minute

// WhisperOptions configures the whisper.cpp command line engine.
type WhisperOptions struct {
	WhisperPath string
	FFmpegPath  string
	ModelDir    string
	Language    language.Tag
	Timeout     time.Duration
	Runner      command.Runner
}

// Whisper runs whisper.cpp after resampling the input with ffmpeg.
type Whisper struct {
	whisperPath string
	ffmpegPath  string
	modelDir    string
	language    language.Tag
	timeout     time.Duration
	runner      command.Runner
	mkdirTemp   func(dir, pattern string) (string, error)
	stat        func(name string) (os.FileInfo, error)
	readFile    func(name string) ([]byte, error)
}

func NewWhisper(opts WhisperOptions) *Whisper {
	w := &Whisper{
		whisperPath: opts.WhisperPath,
		ffmpegPath:  opts.FFmpegPath,
		modelDir:    opts.ModelDir,
		language:    opts.Language,
		timeout:     opts.Timeout,
		runner:      opts.Runner,
		mkdirTemp:   os.MkdirTemp,
		stat:        os.Stat,
		readFile:    os.ReadFile,
	}
	if w.whisperPath == "" {
		w.whisperPath = "whisper-cli"
	}
	if w.ffmpegPath == "" {
		w.ffmpegPath = "ffmpeg"
	}
	if w.timeout <= 0 {
		w.timeout = defaultWhisperTimeout
	}
	if w.runner == nil {
		w.runner = command.ExecRunner{}
	}
	return w
}

func (w *Whisper) Transcribe(ctx context.Context, audioPath string, model string) (Result, error) {
	modelPath, err := w.resolveModel(model)
	if err != nil {
		return Result{}, err
	}

	tempDir, err := w.mkdirTemp("", "faceless-whisper-*")
	if err != nil {
		return Result{}, fmt.Errorf("create temp workspace: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warn("Failed to remove whisper workspace %s: %v", tempDir, err)
		}
	}()

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.timeout)
	defer cancel()

	wavPath := filepath.Join(tempDir, "audio-16k.wav")
	if _, err := w.runner.Run(callCtx, w.ffmpegPath, buildResampleArgs(audioPath, wavPath)...); err != nil {
		return Result{}, fmt.Errorf("resample audio: %w", err)
	}

	outBase := filepath.Join(tempDir, "transcript")
	if _, err := w.runner.Run(callCtx, w.whisperPath, buildWhisperArgs(modelPath, wavPath, outBase, cliLanguage(w.language))...); err != nil {
		return Result{}, fmt.Errorf("whisper.cpp: %w", err)
	}

	raw, err := w.readFile(outBase + ".json")
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}
	result, err := parseWhisperJSON(raw)
	if err != nil {
		return Result{}, err
	}
	if result.Language == language.Und {
		texts := make([]string, 0, len(result.Segments))
		for _, s := range result.Segments {
			texts = append(texts, s.Text)
		}
		result.Language = DetectLanguage(texts)
	}
	return result, nil
}

// resolveModel accepts a model file path or a name such as "base" that maps
// to ggml-<name>.bin inside the model directory.
func (w *Whisper) resolveModel(model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", fmt.Errorf("whisper model is required")
	}
	if info, err := w.stat(model); err == nil && !info.IsDir() {
		return model, nil
	}

	candidate := filepath.Join(w.modelDir, "ggml-"+model+".bin")
	if _, err := w.stat(candidate); err != nil {
		return "", fmt.Errorf("whisper model %q not found at %s", model, candidate)
	}
	return candidate, nil
}

// buildResampleArgs converts any input to the mono 16 kHz PCM whisper.cpp reads.
func buildResampleArgs(inputPath, outPath string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		outPath,
	}
}

// buildWhisperArgs requests full JSON output, which carries per-token offsets.
func buildWhisperArgs(modelPath, audioPath, outBase, lang string) []string {
	args := []string{
		"-m", modelPath,
		"-f", audioPath,
		"-of", outBase,
		"-ojf",
		"-np",
	}
	if lang != "" {
		args = append(args, "-l", lang)
	} else {
		args = append(args, "-l", "auto")
	}
	return args
}

type whisperOffsets struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

type whisperOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets whisperOffsets `json:"offsets"`
		Text    string         `json:"text"`
		Tokens  []struct {
			Text    string         `json:"text"`
			Offsets whisperOffsets `json:"offsets"`
		} `json:"tokens"`
	} `json:"transcription"`
}

func parseWhisperJSON(raw []byte) (Result, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper output: %w", err)
	}

	ret := Result{Language: language.Und}
	if tag, err := ParseLanguage(out.Result.Language); err == nil {
		ret.Language = tag
	}

	for _, item := range out.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		seg := Segment{
			Start: time.Duration(item.Offsets.From) * time.Millisecond,
			End:   time.Duration(item.Offsets.To) * time.Millisecond,
			Text:  text,
		}

		for _, tok := range item.Tokens {
			if isSpecialToken(tok.Text) {
				continue
			}
			start := time.Duration(tok.Offsets.From) * time.Millisecond
			end := time.Duration(tok.Offsets.To) * time.Millisecond
			// A leading space starts a new word; other tokens continue the previous one.
			if len(seg.Words) == 0 || strings.HasPrefix(tok.Text, " ") {
				if strings.TrimSpace(tok.Text) == "" {
					continue
				}
				seg.Words = append(seg.Words, Word{Start: start, End: end, Text: strings.TrimSpace(tok.Text)})
				continue
			}
			last := &seg.Words[len(seg.Words)-1]
			last.Text += tok.Text
			if end > last.End {
				last.End = end
			}
		}
		ret.Segments = append(ret.Segments, seg)
	}
	return ret, nil
}

func isSpecialToken(text string) bool {
	t := strings.TrimSpace(text)
	return strings.HasPrefix(t, "[_") || strings.HasPrefix(t, "<|")
}
