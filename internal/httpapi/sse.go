package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/MimeLyc/faceless-video/internal/service"
)

// handleJobStream pushes the job list as server-sent events. With ?job=<id>
// it follows one job instead and ends after its terminal state was sent.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	jobID := r.URL.Query().Get("job")
	if jobID != "" {
		if _, err := s.jobs.GetJob(r.Context(), jobID); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send reports whether the stream should continue.
	send := func() bool {
		var (
			data any
			done bool
		)
		if jobID != "" {
			view, err := s.jobs.GetJob(r.Context(), jobID)
			if err != nil {
				return false
			}
			data = jobResponse{JobView: view, DownloadURL: downloadURL(view.ID, view.DownloadAvailable)}
			done = view.Status.Terminal()
		} else {
			items, err := s.jobs.ListJobs(r.Context(), service.DefaultListLimit)
			if err != nil {
				return false
			}
			data = summaryResponses(items)
		}

		payload, err := json.Marshal(data)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return !done
	}

	if !send() {
		return
	}

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if !send() {
				return
			}
		}
	}
}
