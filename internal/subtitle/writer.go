package subtitle

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

// SRTWriter writes SubRip files
type SRTWriter struct{}

func NewWriter() Writer {
	return SRTWriter{}
}

func (w SRTWriter) Write(path string, subtitle *File) error {
	if subtitle == nil || len(subtitle.Lines) == 0 {
		return fmt.Errorf("subtitle data is empty")
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := Encode(file, subtitle); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// Encode renders cues as SRT, renumbering them from 1.
func Encode(out io.Writer, subtitle *File) error {
	writer := bufio.NewWriter(out)
	for i, line := range subtitle.Lines {
		if _, err := fmt.Fprintf(writer, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatDuration(line.StartTime),
			formatDuration(line.EndTime),
			line.Text,
		); err != nil {
			return fmt.Errorf("write cue %d: %w", i+1, err)
		}
	}
	return writer.Flush()
}

// formatDuration formats time.Duration to SRT time format
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	milliseconds := int(d.Milliseconds()) % 1000

	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, milliseconds)
}
