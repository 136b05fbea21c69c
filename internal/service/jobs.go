package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MimeLyc/faceless-video/internal/jobs"
	"github.com/MimeLyc/faceless-video/internal/metrics"
	"github.com/MimeLyc/faceless-video/internal/subtitle"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/google/uuid"
)

const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

var DefaultAllowedExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".flac", ".aac"}

type Options struct {
	UploadDir         string
	AllowedExtensions []string
	MaxUploadBytes    int64
}

// JobService is the job resource surface used by the HTTP layer.
type JobService struct {
	store      jobs.Store
	uploadDir  string
	extensions []string
	maxBytes   int64
	newID      func() string
}

func NewJobService(store jobs.Store, opts Options) *JobService {
	s := &JobService{
		store:     store,
		uploadDir: opts.UploadDir,
		maxBytes:  opts.MaxUploadBytes,
		newID:     uuid.NewString,
	}
	for _, ext := range opts.AllowedExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extensions = append(s.extensions, ext)
	}
	if len(s.extensions) == 0 {
		s.extensions = slices.Clone(DefaultAllowedExtensions)
	}
	if s.maxBytes <= 0 {
		s.maxBytes = 50 << 20
	}
	return s
}

// CreateJob validates and stores the upload, then queues a job for it.
// Rejected uploads leave no job and no file behind.
func (s *JobService) CreateJob(ctx context.Context, filename string, r io.Reader) (*jobs.Job, error) {
	name := filepath.Base(strings.TrimSpace(filename))
	ext := strings.ToLower(filepath.Ext(name))
	if name == "." || name == string(filepath.Separator) || ext == "" || !slices.Contains(s.extensions, ext) {
		return nil, NewError(ErrValidation, fmt.Sprintf("unsupported file type %q, allowed: %s", ext, strings.Join(s.extensions, ", "))).
			WithContext("filename", filename)
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, WrapError(err, ErrStorage, "could not prepare upload directory")
	}

	id := s.newID()
	audioPath := filepath.Join(s.uploadDir, id+ext)
	size, err := s.saveUpload(audioPath, r)
	if err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, jobs.NewJob{ID: id, AudioPath: audioPath, OriginalName: name})
	if err != nil {
		_ = os.Remove(audioPath)
		return nil, WrapError(err, ErrStorage, "could not create job")
	}

	if err := s.store.AppendLog(ctx, job.ID, fmt.Sprintf("Audio uploaded: %s (%.1f KB)", name, float64(size)/1024)); err != nil {
		log.Warn("append upload log for job %s: %v", job.ID, err)
	}
	metrics.IncJobCreated()
	log.Job(job.ID).Info("Job queued for %s (%d bytes)", name, size)
	return job, nil
}

// saveUpload streams r to path, stopping one byte past the size limit.
func (s *JobService) saveUpload(path string, r io.Reader) (int64, error) {
	partial := path + ".part"
	f, err := os.Create(partial)
	if err != nil {
		return 0, WrapError(err, ErrStorage, "could not store upload")
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxBytes+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(partial)
		return 0, WrapError(copyErr, ErrValidation, "could not read upload")
	case closeErr != nil:
		_ = os.Remove(partial)
		return 0, WrapError(closeErr, ErrStorage, "could not store upload")
	case n > s.maxBytes:
		_ = os.Remove(partial)
		return 0, NewError(ErrValidation, fmt.Sprintf("file too large, max %d MB", s.maxBytes>>20)).
			WithContext("limit_bytes", s.maxBytes)
	case n == 0:
		_ = os.Remove(partial)
		return 0, NewError(ErrValidation, "uploaded file is empty")
	}

	if err := os.Rename(partial, path); err != nil {
		_ = os.Remove(partial)
		return 0, WrapError(err, ErrStorage, "could not store upload")
	}
	return n, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*JobView, error) {
	job, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	logs := job.LogLines()
	if logs == nil {
		logs = []string{}
	}
	return &JobView{
		ID:                 job.ID,
		Status:             job.Status,
		Progress:           job.Progress,
		OriginalName:       job.OriginalName,
		Logs:               logs,
		Error:              job.Error,
		DownloadAvailable:  downloadable(job),
		SubtitlesAvailable: job.SubtitlePath != "" && fileExists(job.SubtitlePath),
		CreatedAt:          job.CreatedAt,
		UpdatedAt:          job.UpdatedAt,
	}, nil
}

// ListJobs returns the newest jobs first. limit is clamped to [1, MaxListLimit];
// zero or less means DefaultListLimit.
func (s *JobService) ListJobs(ctx context.Context, limit int) ([]JobSummary, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}

	items, err := s.store.List(ctx, limit)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "could not list jobs")
	}
	ret := make([]JobSummary, 0, len(items))
	for _, job := range items {
		ret = append(ret, JobSummary{
			ID:                job.ID,
			Status:            job.Status,
			Progress:          job.Progress,
			OriginalName:      job.OriginalName,
			Error:             job.Error,
			DownloadAvailable: downloadable(job),
			CreatedAt:         job.CreatedAt,
			UpdatedAt:         job.UpdatedAt,
		})
	}
	return ret, nil
}

// DownloadArtifact succeeds only for done jobs whose video is still on disk.
func (s *JobService) DownloadArtifact(ctx context.Context, id string) (*Artifact, error) {
	job, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != jobs.StatusDone {
		return nil, NewError(ErrNotReady, fmt.Sprintf("video not ready yet (status: %s)", job.Status)).
			WithContext("job_id", id)
	}
	info, err := os.Stat(job.OutputPath)
	if err != nil || info.IsDir() || job.OutputPath == "" {
		return nil, NewError(ErrNotFound, "output file not found").WithContext("job_id", id)
	}
	return &Artifact{
		Path: job.OutputPath,
		Name: fmt.Sprintf("faceless-video-%s.mp4", job.ID),
		Size: info.Size(),
	}, nil
}

// ReadArtifact returns the finished video bytes.
func (s *JobService) ReadArtifact(ctx context.Context, id string) ([]byte, error) {
	artifact, err := s.DownloadArtifact(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		return nil, WrapError(err, ErrStorage, "could not read output file")
	}
	return data, nil
}

// GetSubtitles returns the generated subtitle track of a job.
func (s *JobService) GetSubtitles(ctx context.Context, id string) (*subtitle.File, error) {
	job, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.SubtitlePath == "" {
		if job.Status.Terminal() {
			return nil, NewError(ErrNotFound, "job has no subtitles").WithContext("job_id", id)
		}
		return nil, NewError(ErrNotReady, "subtitles not ready yet").WithContext("job_id", id)
	}
	file, err := subtitle.ReadFile(job.SubtitlePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, NewError(ErrNotFound, "subtitle file not found").WithContext("job_id", id)
	}
	if err != nil {
		return nil, WrapError(err, ErrStorage, "could not read subtitles")
	}
	return file, nil
}

func (s *JobService) get(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.store.Get(ctx, id)
	if errors.Is(err, jobs.ErrNotFound) {
		return nil, NewError(ErrNotFound, "job not found").WithContext("job_id", id)
	}
	if err != nil {
		return nil, WrapError(err, ErrStorage, "could not load job")
	}
	return job, nil
}

func downloadable(job *jobs.Job) bool {
	return job.Status == jobs.StatusDone && job.OutputPath != "" && fileExists(job.OutputPath)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
