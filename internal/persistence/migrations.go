package persistence

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/MimeLyc/faceless-video/internal/jobs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

type migration struct {
	name    string
	version int
	sql     string
}

func loadMigrations(dialect string) ([]migration, error) {
	dir := path.Join("migrations", dialect)
	entries, err := migrationFiles.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	ret := make([]migration, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		ret = append(ret, migration{name: entry.Name(), version: version, sql: string(content)})
	}
	return ret, nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// updateClause builds the SET list and arguments for a status update.
// placeholder renders the n-th (1-based) bind parameter for the dialect.
func updateClause(status jobs.Status, fields jobs.Fields, now any, greatest string, placeholder func(int) string) (string, []any) {
	args := make([]any, 0, 6)
	next := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	sets := []string{
		"status = " + next(string(status)),
		"updated_at = " + next(now),
	}
	if fields.Progress != nil {
		sets = append(sets, fmt.Sprintf("progress = %s(progress, %s)", greatest, next(jobs.ClampProgress(*fields.Progress))))
	}
	if fields.OutputPath != nil {
		sets = append(sets, "output_path = "+next(*fields.OutputPath))
	}
	if fields.SubtitlePath != nil {
		sets = append(sets, "subtitle_path = "+next(*fields.SubtitlePath))
	}
	if fields.Error != nil {
		sets = append(sets, "error = "+next(*fields.Error))
	}
	return strings.Join(sets, ", "), args
}

var lineBreaks = strings.NewReplacer("\r\n", " | ", "\n", " | ", "\r", " | ")

// logLine flattens line into exactly one log entry.
func logLine(line string) string {
	return lineBreaks.Replace(strings.TrimRight(line, "\r\n")) + "\n"
}

// checkUpdate returns the statuses a job may hold before the update, or
// ErrInvalidTransition when the update can never apply.
func checkUpdate(status jobs.Status, fields jobs.Fields) ([]jobs.Status, error) {
	from := jobs.AllowedFrom(status)
	if len(from) == 0 {
		return nil, fmt.Errorf("%w: cannot move to %s", jobs.ErrInvalidTransition, status)
	}
	if fields.Error != nil && status != jobs.StatusFailed {
		return nil, fmt.Errorf("%w: error message requires status %s, got %s", jobs.ErrInvalidTransition, jobs.StatusFailed, status)
	}
	return from, nil
}

func statusStrings(statuses []jobs.Status) []string {
	ret := make([]string, 0, len(statuses))
	for _, s := range statuses {
		ret = append(ret, string(s))
	}
	return ret
}
