package service

import (
	"os"
	"time"

	"github.com/MimeLyc/faceless-video/internal/jobs"
)

// JobView is the public shape of one job.
type JobView struct {
	ID                 string      `json:"id"`
	Status             jobs.Status `json:"status"`
	Progress           int         `json:"progress"`
	OriginalName       string      `json:"original_name,omitempty"`
	Logs               []string    `json:"logs"`
	Error              string      `json:"error,omitempty"`
	DownloadAvailable  bool        `json:"download_available"`
	SubtitlesAvailable bool        `json:"subtitles_available"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// JobSummary is a JobView without logs, used for listings.
type JobSummary struct {
	ID                string      `json:"id"`
	Status            jobs.Status `json:"status"`
	Progress          int         `json:"progress"`
	OriginalName      string      `json:"original_name,omitempty"`
	Error             string      `json:"error,omitempty"`
	DownloadAvailable bool        `json:"download_available"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Artifact is a finished video on disk.
type Artifact struct {
	Path string
	Name string
	Size int64
}

func (a *Artifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}
