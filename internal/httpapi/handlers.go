package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/MimeLyc/faceless-video/internal/service"
	"github.com/MimeLyc/faceless-video/internal/subtitle"
	"github.com/MimeLyc/faceless-video/pkg/log"
	"github.com/go-chi/chi/v5"
)

const uploadAccepted = "Job created successfully. Processing will begin shortly."

type uploadResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type jobResponse struct {
	*service.JobView
	DownloadURL string `json:"download_url,omitempty"`
}

type jobSummaryResponse struct {
	service.JobSummary
	DownloadURL string `json:"download_url,omitempty"`
}

type subtitlesResponse struct {
	Language string          `json:"language,omitempty"`
	Lines    []subtitle.Line `json:"lines"`
}

func downloadURL(id string, available bool) string {
	if !available {
		return ""
	}
	return "/api/jobs/" + id + "/download"
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+uploadOverhead)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusBadRequest, "file too large, max "+strconv.FormatInt(s.maxUpload>>20, 10)+" MB")
		case errors.Is(err, http.ErrMissingFile):
			writeError(w, http.StatusBadRequest, "no file provided")
		default:
			writeError(w, http.StatusBadRequest, "invalid multipart upload")
		}
		return
	}
	defer file.Close()

	job, err := s.jobs.CreateJob(r.Context(), header.Filename, file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, uploadResponse{
		JobID:   job.ID,
		Status:  string(job.Status),
		Message: uploadAccepted,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	items, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponses(items))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	view, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{JobView: view, DownloadURL: downloadURL(view.ID, view.DownloadAvailable)})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.jobs.DownloadArtifact(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	f, err := artifact.Open()
	if err != nil {
		writeError(w, http.StatusNotFound, "output file not found")
		return
	}
	defer f.Close()

	modTime := time.Time{}
	if info, err := f.Stat(); err == nil {
		modTime = info.ModTime()
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": artifact.Name}))
	http.ServeContent(w, r, artifact.Name, modTime, f)
}

// handleSubtitles returns the cues as JSON, or the raw track with ?format=srt.
func (s *Server) handleSubtitles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	file, err := s.jobs.GetSubtitles(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "srt" {
		w.Header().Set("Content-Type", "application/x-subrip; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "faceless-video-" + id + ".srt"}))
		if err := subtitle.Encode(w, file); err != nil {
			log.Warn("write subtitles for job %s: %v", id, err)
		}
		return
	}

	resp := subtitlesResponse{Lines: file.Lines}
	if file.Language.String() != "und" {
		resp.Language = file.Language.String()
	}
	if resp.Lines == nil {
		resp.Lines = []subtitle.Line{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	resp := map[string]any{"status": status}
	if len(checks) > 0 {
		resp["checks"] = checks
	}
	writeJSON(w, http.StatusOK, resp)
}

func summaryResponses(items []service.JobSummary) []jobSummaryResponse {
	ret := make([]jobSummaryResponse, 0, len(items))
	for _, item := range items {
		ret = append(ret, jobSummaryResponse{JobSummary: item, DownloadURL: downloadURL(item.ID, item.DownloadAvailable)})
	}
	return ret
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case service.IsErrorType(err, service.ErrValidation), service.IsErrorType(err, service.ErrNotReady):
		writeError(w, http.StatusBadRequest, service.Message(err))
	case service.IsErrorType(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, service.Message(err))
	default:
		log.Error("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, service.Message(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
