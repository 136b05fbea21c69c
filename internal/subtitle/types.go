package subtitle

import (
	"io"
	"time"

	"golang.org/x/text/language"
)

// Reader parses a subtitle stream
type Reader interface {
	Read(r io.Reader) (*File, error)
}

// Writer is the interface for writing subtitle files
type Writer interface {
	Write(path string, subtitle *File) error
}

// Line is a single subtitle cue
type Line struct {
	Index     int           `json:"index"`
	StartTime time.Duration `json:"start"`
	EndTime   time.Duration `json:"end"`
	Text      string        `json:"text"`
}

// File represents subtitle file
type File struct {
	Lines    []Line
	Language language.Tag
	Format   string // SRT only for now
}
