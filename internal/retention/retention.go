// Package retention implements disk reclamation over the run store:
// registry stats, age/size analytics across run output directories, and
// safe deletion of terminal runs. Active runs (queued, running, paused) are
// never cleanup candidates regardless of age.
package retention

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/draftforge/draftforge/internal/logging"
	"github.com/draftforge/draftforge/internal/run"
	"github.com/draftforge/draftforge/internal/store"
)

// Stats summarizes the registry by lifecycle.
type Stats struct {
	TotalRuns    int `json:"total_runs" yaml:"total_runs"`
	TerminalRuns int `json:"terminal_runs" yaml:"terminal_runs"`
	ActiveRuns   int `json:"active_runs" yaml:"active_runs"`
}

// RunSize pairs a run with the total bytes under its output directory.
type RunSize struct {
	RunID     string    `json:"run_id" yaml:"run_id"`
	Status    string    `json:"status" yaml:"status"`
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	Bytes     int64     `json:"bytes" yaml:"bytes"`
}

// AgeBuckets counts runs by age at analysis time.
type AgeBuckets struct {
	Lt24h        int `json:"lt_24h" yaml:"lt_24h"`
	Between1d7d  int `json:"between_1d_7d" yaml:"between_1d_7d"`
	Between7d30d int `json:"between_7d_30d" yaml:"between_7d_30d"`
	Gte30d       int `json:"gte_30d" yaml:"gte_30d"`
}

// Analytics is the full disk/age report over every run.
type Analytics struct {
	TotalBytes int64      `json:"total_bytes" yaml:"total_bytes"`
	Buckets    AgeBuckets `json:"buckets" yaml:"buckets"`
	// Runs is every run with its on-disk size, sorted largest-first.
	Runs []RunSize `json:"runs" yaml:"runs"`
}

// CleanupResult is the partition produced by CleanupTerminalRuns. In dry
// runs the partition is reported without anything being deleted.
type CleanupResult struct {
	DryRun         bool      `json:"dry_run" yaml:"dry_run"`
	DeletedRunIDs  []string  `json:"deleted_run_ids" yaml:"deleted_run_ids"`
	DeletedRuns    []RunSize `json:"deleted_runs" yaml:"deleted_runs"`
	KeptRunIDs     []string  `json:"kept_run_ids" yaml:"kept_run_ids"`
	ReclaimedBytes int64     `json:"reclaimed_bytes" yaml:"reclaimed_bytes"`
}

// Engine computes retention reports and performs cleanup over one store.
type Engine struct {
	store *store.Store
	log   *logging.Logger
}

// NewEngine creates a retention engine over the given store.
func NewEngine(st *store.Store, log *logging.Logger) *Engine {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Engine{store: st, log: log}
}

// Stats computes lifecycle counts over the current registry snapshot.
func (e *Engine) Stats() Stats {
	var s Stats
	for _, r := range e.store.ListRuns() {
		s.TotalRuns++
		if r.Status.IsTerminal() {
			s.TerminalRuns++
		} else {
			s.ActiveRuns++
		}
	}
	return s
}

// Analytics walks every run's output directory, summing file sizes and
// bucketing runs by age relative to now (zero means time.Now()). The
// per-run list is sorted largest-first.
func (e *Engine) Analytics(now time.Time) *Analytics {
	if now.IsZero() {
		now = time.Now()
	}

	a := &Analytics{Runs: []RunSize{}}
	for _, r := range e.store.ListRuns() {
		size := dirSize(store.RunDir(e.store.Root(), r.ID))
		a.TotalBytes += size
		a.Runs = append(a.Runs, RunSize{
			RunID:     r.ID,
			Status:    string(r.Status),
			StartedAt: r.StartedAt,
			Bytes:     size,
		})

		switch age := now.Sub(r.StartedAt); {
		case age < 24*time.Hour:
			a.Buckets.Lt24h++
		case age < 7*24*time.Hour:
			a.Buckets.Between1d7d++
		case age < 30*24*time.Hour:
			a.Buckets.Between7d30d++
		default:
			a.Buckets.Gte30d++
		}
	}

	sort.Slice(a.Runs, func(i, j int) bool {
		return a.Runs[i].Bytes > a.Runs[j].Bytes
	})
	return a
}

// CleanupTerminalRuns partitions terminal runs oldest-first by start time
// into a delete set (all but the most recent keepLast) and a keep set.
// With dryRun the partition is returned untouched; otherwise each selected
// run's directory is recursively deleted and the run deregistered.
func (e *Engine) CleanupTerminalRuns(keepLast int, dryRun bool) (*CleanupResult, error) {
	if keepLast < 0 {
		keepLast = 0
	}

	var terminal []*run.Run
	for _, r := range e.store.ListRuns() {
		if r.Status.IsTerminal() {
			terminal = append(terminal, r)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].StartedAt.Before(terminal[j].StartedAt)
	})

	result := &CleanupResult{
		DryRun:        dryRun,
		DeletedRunIDs: []string{},
		DeletedRuns:   []RunSize{},
		KeptRunIDs:    []string{},
	}

	cut := len(terminal) - keepLast
	if cut < 0 {
		cut = 0
	}
	doomed, kept := terminal[:cut], terminal[cut:]

	for _, r := range kept {
		result.KeptRunIDs = append(result.KeptRunIDs, r.ID)
	}

	for _, r := range doomed {
		dir := store.RunDir(e.store.Root(), r.ID)
		size := dirSize(dir)
		result.DeletedRunIDs = append(result.DeletedRunIDs, r.ID)
		result.DeletedRuns = append(result.DeletedRuns, RunSize{
			RunID:     r.ID,
			Status:    string(r.Status),
			StartedAt: r.StartedAt,
			Bytes:     size,
		})
		result.ReclaimedBytes += size

		if dryRun {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return result, err
		}
		e.store.Remove(r.ID)
		e.log.WithRun(r.ID).Info("run directory reclaimed", "bytes", size)
	}

	return result, nil
}

// dirSize sums the sizes of all regular files under dir. Missing or
// unreadable entries count as zero.
func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
