package media

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/faceless-video/internal/subtitle"
)

const (
	backgroundColor = "#1a1a2e"
	waveBackground  = "#0f0f23"
	waveColors      = "#e94560|#533483"
	fontSize        = 28
	defaultCaption  = "Faceless Video Generator"
)

// subtitleStyle is the ASS override used when burning subtitles in.
var subtitleStyle = strings.Join([]string{
	"FontSize=" + strconv.Itoa(fontSize),
	"PrimaryColour=&H00FFFFFF",
	"OutlineColour=&H00000000",
	"Outline=2",
	"Shadow=1",
	"BackColour=&H80000000",
	"Alignment=2",
	"MarginV=50",
	"FontName=Arial",
}, ",")

type geometry struct {
	width  int
	height int
	fps    int
}

func (g geometry) size() string {
	return fmt.Sprintf("%dx%d", g.width, g.height)
}

func preamble() []string {
	return []string{"-hide_banner", "-nostdin", "-y"}
}

func h264Output() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "192k",
		"-movflags", "+faststart",
		"-pix_fmt", "yuv420p",
		"-shortest",
	}
}

func seconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func probeArgs(path string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "json",
		path,
	}
}

// slideshowArgs renders a concat list of stills into a silent video track,
// letterboxing every image to the output size.
func slideshowArgs(listPath, outPath string, g geometry) []string {
	vf := fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d,format=yuv420p",
		g.width, g.height, g.width, g.height, g.fps,
	)
	args := preamble()
	return append(args,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-vf", vf,
		"-an",
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		outPath,
	)
}

func waveformArgs(audioPath, outPath string, duration time.Duration, g geometry) []string {
	graph := fmt.Sprintf(
		"color=c=%s:s=%s:d=%s:r=%d[bg];"+
			"[0:a]showwaves=s=%dx%d:mode=cline:rate=%d:colors=%s:scale=sqrt[wave];"+
			"[bg][wave]overlay=0:(H-h)/2:format=auto[v]",
		waveBackground, g.size(), seconds(duration), g.fps,
		g.width, g.height/4, g.fps, waveColors,
	)
	args := preamble()
	return append(args,
		"-i", audioPath,
		"-filter_complex", graph,
		"-map", "[v]",
		"-t", seconds(duration),
		"-c:v", "libx264",
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(g.fps),
		outPath,
	)
}

func subtitlesFilter(srtPath string) string {
	return "subtitles=filename=" + subtitle.EscapeFilterValue(srtPath) +
		":force_style=" + subtitle.EscapeFilterValue(subtitleStyle)
}

func drawTextFilter(text string) string {
	if strings.TrimSpace(text) == "" {
		text = defaultCaption
	}
	return "drawtext=expansion=none:text=" + subtitle.EscapeFilterValue(text) +
		fmt.Sprintf(":fontsize=%d:fontcolor=white:x=(w-tw)/2:y=(h-th)/2:borderw=2:bordercolor=black", fontSize)
}

// finalArgs muxes a rendered video track with the source audio.
func finalArgs(videoPath, audioPath, srtPath, outPath string) []string {
	args := preamble()
	args = append(args, "-i", videoPath, "-i", audioPath)
	if srtPath != "" {
		args = append(args, "-vf", subtitlesFilter(srtPath))
	}
	args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	args = append(args, h264Output()...)
	return append(args, outPath)
}

// staticTextArgs builds the whole video in one pass from a flat color source.
func staticTextArgs(text, audioPath, srtPath, outPath string, duration time.Duration, g geometry) []string {
	filters := []string{drawTextFilter(text)}
	if srtPath != "" {
		filters = append(filters, subtitlesFilter(srtPath))
	}
	args := preamble()
	args = append(args,
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%s:d=%s:r=%d", backgroundColor, g.size(), seconds(duration), g.fps),
		"-i", audioPath,
		"-vf", strings.Join(filters, ","),
		"-map", "0:v",
		"-map", "1:a",
	)
	args = append(args, h264Output()...)
	return append(args, outPath)
}

// concatList renders an ffconcat script. The last file is listed twice so
// its duration is honoured by the demuxer.
func concatList(frames []Frame) string {
	var b strings.Builder
	b.WriteString("ffconcat version 1.0\n")
	for _, f := range frames {
		fmt.Fprintf(&b, "file %s\nduration %s\n", quoteConcatPath(f.Path), seconds(f.Duration))
	}
	if len(frames) > 0 {
		fmt.Fprintf(&b, "file %s\n", quoteConcatPath(frames[len(frames)-1].Path))
	}
	return b.String()
}

func quoteConcatPath(p string) string {
	return "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
}
