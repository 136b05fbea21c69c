package jobs

import (
	"context"
	"time"
)

// Store is the durable job table. Every method is a single atomic write or read.
type Store interface {
	Create(ctx context.Context, req NewJob) (*Job, error)
	// ClaimNextQueued moves the oldest queued job to processing and returns it,
	// or nil when nothing is queued.
	ClaimNextQueued(ctx context.Context) (*Job, error)
	UpdateStatus(ctx context.Context, id string, status Status, fields Fields) error
	// AppendLog is accepted in every status, including terminal ones.
	AppendLog(ctx context.Context, id string, line string) error
	Get(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, limit int) ([]*Job, error)
	// FailInterrupted marks every processing job failed with reason.
	FailInterrupted(ctx context.Context, reason string) (int64, error)
	// ListTerminalBefore returns finished jobs last touched before the cutoff
	// whose files have not been purged yet.
	ListTerminalBefore(ctx context.Context, before time.Time) ([]*Job, error)
	// MarkPurged records that a finished job's files are gone.
	MarkPurged(ctx context.Context, id string) error
	Close() error
}
