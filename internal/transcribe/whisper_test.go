package transcribe

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/faceless-video/pkg/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const sampleWhisperJSON = `{
  "result": {"language": "%s"},
  "transcription": [
    {
      "offsets": {"from": 0, "to": 2000},
      "text": " Hello wonderful world.",
      "tokens": [
        {"text": "[_BEG_]", "offsets": {"from": 0, "to": 0}},
        {"text": " Hello", "offsets": {"from": 0, "to": 600}},
        {"text": " wonder", "offsets": {"from": 600, "to": 1000}},
        {"text": "ful", "offsets": {"from": 1000, "to": 1300}},
        {"text": " world.", "offsets": {"from": 1300, "to": 2000}},
        {"text": "[_TT_100]", "offsets": {"from": 2000, "to": 2000}}
      ]
    },
    {
      "offsets": {"from": 2000, "to": 2500},
      "text": "   ",
      "tokens": []
    },
    {
      "offsets": {"from": 2500, "to": 4000},
      "text": " This is the second sentence of the story.",
      "tokens": []
    }
  ]
}`

type fakeRunner struct {
	calls     [][]string
	whisperJS string
	failOn    string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) (command.Result, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if name == f.failOn {
		return command.Result{ExitCode: 1}, errors.New("exit status 1")
	}
	for i, a := range args {
		if a == "-of" && i+1 < len(args) {
			if err := os.WriteFile(args[i+1]+".json", []byte(f.whisperJS), 0o644); err != nil {
				return command.Result{}, err
			}
		}
	}
	return command.Result{}, nil
}

func newTestWhisper(t *testing.T, runner command.Runner) *Whisper {
	t.Helper()
	modelDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, "ggml-base.bin"), []byte("model"), 0o644))
	return NewWhisper(WhisperOptions{
		WhisperPath: "whisper-cli",
		FFmpegPath:  "ffmpeg",
		ModelDir:    modelDir,
		Runner:      runner,
	})
}

func TestWhisper_Transcribe_ParsesSegmentsAndWords(t *testing.T) {
	runner := &fakeRunner{whisperJS: fmt.Sprintf(sampleWhisperJSON, "en")}
	w := newTestWhisper(t, runner)

	res, err := w.Transcribe(context.Background(), "/data/uploads/a.mp3", "base")
	require.NoError(t, err)

	require.Len(t, runner.calls, 2)
	assert.Equal(t, "ffmpeg", runner.calls[0][0])
	assert.Contains(t, runner.calls[0], "16000")
	assert.Equal(t, "whisper-cli", runner.calls[1][0])
	assert.Contains(t, runner.calls[1], "-ojf")
	assert.Contains(t, runner.calls[1], filepath.Join(w.modelDir, "ggml-base.bin"))

	assert.Equal(t, language.English, res.Language)
	require.Len(t, res.Segments, 2)
	first := res.Segments[0]
	assert.Equal(t, "Hello wonderful world.", first.Text)
	assert.Equal(t, 2*time.Second, first.End)
	require.Len(t, first.Words, 3)
	assert.Equal(t, "wonderful", first.Words[1].Text)
	assert.Equal(t, 600*time.Millisecond, first.Words[1].Start)
	assert.Equal(t, 1300*time.Millisecond, first.Words[1].End)
	assert.Empty(t, res.Segments[1].Words)
	assert.Equal(t, "Hello wonderful world. This is the second sentence of the story.", res.Text())
}

func TestWhisper_Transcribe_DetectsLanguageWhenMissing(t *testing.T) {
	runner := &fakeRunner{whisperJS: fmt.Sprintf(sampleWhisperJSON, "")}
	w := newTestWhisper(t, runner)

	res, err := w.Transcribe(context.Background(), "a.mp3", "base")
	require.NoError(t, err)
	assert.Equal(t, language.English, res.Language)
}

func TestWhisper_Transcribe_PropagatesEngineFailure(t *testing.T) {
	runner := &fakeRunner{failOn: "whisper-cli"}
	w := newTestWhisper(t, runner)

	_, err := w.Transcribe(context.Background(), "a.mp3", "base")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper.cpp")
}

func TestWhisper_ResolveModel(t *testing.T) {
	w := newTestWhisper(t, &fakeRunner{})

	_, err := w.resolveModel("large-v3")
	assert.Error(t, err)
	_, err = w.resolveModel(" ")
	assert.Error(t, err)

	explicit := filepath.Join(w.modelDir, "ggml-base.bin")
	got, err := w.resolveModel(explicit)
	require.NoError(t, err)
	assert.Equal(t, explicit, got)
}

func TestBuildWhisperArgs_Language(t *testing.T) {
	args := buildWhisperArgs("m.bin", "a.wav", "out", "de")
	assert.Equal(t, []string{"-m", "m.bin", "-f", "a.wav", "-of", "out", "-ojf", "-np", "-l", "de"}, args)

	args = buildWhisperArgs("m.bin", "a.wav", "out", "")
	assert.Equal(t, "auto", args[len(args)-1])
}

func TestParseLanguage(t *testing.T) {
	tag, err := ParseLanguage("auto")
	require.NoError(t, err)
	assert.Equal(t, language.Und, tag)

	tag, err = ParseLanguage("pt-BR")
	require.NoError(t, err)
	assert.Equal(t, "pt", cliLanguage(tag))

	_, err = ParseLanguage("not a language!")
	assert.Error(t, err)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, language.Und, DetectLanguage(nil))
	assert.Equal(t, language.German, DetectLanguage([]string{"Das ist ein ganz normaler deutscher Satz über das Wetter."}))
}
