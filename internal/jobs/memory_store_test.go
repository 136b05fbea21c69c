package jobs

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	order    []string
	claimErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{jobs: make(map[string]*Job)}
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	return &tmp
}

func (m *memoryStore) Create(_ context.Context, req NewJob) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := req.ID
	if id == "" {
		id = fmt.Sprintf("job-%d", len(m.order)+1)
	}
	now := time.Now()
	job := &Job{ID: id, Status: StatusQueued, AudioPath: req.AudioPath, CreatedAt: now, UpdatedAt: now}
	m.jobs[id] = job
	m.order = append(m.order, id)
	return cloneJob(job), nil
}

func (m *memoryStore) ClaimNextQueued(_ context.Context) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.claimErr != nil {
		return nil, m.claimErr
	}
	for _, id := range m.order {
		job := m.jobs[id]
		if job.Status == StatusQueued {
			job.Status = StatusProcessing
			job.UpdatedAt = time.Now()
			return cloneJob(job), nil
		}
	}
	return nil, nil
}

func (m *memoryStore) UpdateStatus(_ context.Context, id string, status Status, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(AllowedFrom(status), job.Status) {
		return ErrInvalidTransition
	}
	if fields.Error != nil && status != StatusFailed {
		return ErrInvalidTransition
	}
	job.Status = status
	if fields.Progress != nil && *fields.Progress > job.Progress {
		job.Progress = *fields.Progress
	}
	if fields.OutputPath != nil {
		job.OutputPath = *fields.OutputPath
	}
	if fields.SubtitlePath != nil {
		job.SubtitlePath = *fields.SubtitlePath
	}
	if fields.Error != nil {
		job.Error = *fields.Error
	}
	job.UpdatedAt = time.Now()
	return nil
}

func (m *memoryStore) AppendLog(_ context.Context, id string, line string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	job.Logs += line + "\n"
	return nil
}

func (m *memoryStore) Get(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (m *memoryStore) List(_ context.Context, limit int) ([]*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := make([]*Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		ret = append(ret, cloneJob(j))
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].CreatedAt.After(ret[j].CreatedAt) })
	if limit > 0 && len(ret) > limit {
		ret = ret[:limit]
	}
	return ret, nil
}

func (m *memoryStore) FailInterrupted(_ context.Context, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, j := range m.jobs {
		if j.Status == StatusProcessing {
			j.Status = StatusFailed
			j.Error = reason
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) ListTerminalBefore(_ context.Context, before time.Time) ([]*Job, error) {
	return nil, nil
}

func (m *memoryStore) MarkPurged(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	return nil
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) status(id string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		return job.Status
	}
	return ""
}
