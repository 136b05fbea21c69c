package jobs

import (
	"errors"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// transitions lists, per target status, the statuses a job may leave for it.
// Processing -> processing is a progress update.
var transitions = map[Status][]Status{
	StatusProcessing: {StatusQueued, StatusProcessing},
	StatusDone:       {StatusProcessing},
	StatusFailed:     {StatusProcessing},
}

// AllowedFrom lists the statuses a job may be in before moving to status.
func AllowedFrom(status Status) []Status {
	return transitions[status]
}

var (
	ErrNotFound          = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrAlreadyExists     = errors.New("job already exists")
)

type NewJob struct {
	// ID is optional; the store generates one when empty.
	ID           string
	AudioPath    string
	OriginalName string
}

// Fields is a partial update; nil members are left untouched.
type Fields struct {
	Progress     *int
	OutputPath   *string
	SubtitlePath *string
	Error        *string
}

func Progress(p int) Fields {
	return Fields{Progress: &p}
}

func (f Fields) WithOutput(path string) Fields {
	f.OutputPath = &path
	return f
}

func (f Fields) WithSubtitle(path string) Fields {
	f.SubtitlePath = &path
	return f
}

func (f Fields) WithError(msg string) Fields {
	f.Error = &msg
	return f
}

func (f Fields) WithProgress(p int) Fields {
	f.Progress = &p
	return f
}

type Job struct {
	ID           string    `json:"id"`
	Status       Status    `json:"status"`
	AudioPath    string    `json:"audio_path"`
	OriginalName string    `json:"original_name,omitempty"`
	OutputPath   string    `json:"output_path,omitempty"`
	SubtitlePath string    `json:"subtitle_path,omitempty"`
	Progress     int       `json:"progress"`
	Logs         string    `json:"logs"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (j *Job) LogLines() []string {
	trimmed := strings.TrimRight(j.Logs, "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func ClampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
