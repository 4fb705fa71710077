// Package reconcile drops records whose backing file is gone and rebuilds the index from the survivors.
//
// This is the only path that removes records: the index has no in-place delete.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hyperjump/utsushi/internal/collection"
	"github.com/hyperjump/utsushi/internal/models"
	"github.com/hyperjump/utsushi/internal/store"
	"github.com/hyperjump/utsushi/pkg/utils"
	"go.uber.org/zap"
)

// ExistsFunc reports whether the backing file of a location is present.
type ExistsFunc func(location string) bool

// RemovedFunc is called with the records dropped by a successful run.
type RemovedFunc func(ctx context.Context, removed []store.Record) error

// Result summarizes one run.
type Result struct {
	Before   int            `json:"before"`
	After    int            `json:"after"`
	Removed  []store.Record `json:"removed"`
	Duration time.Duration  `json:"duration_ns"`
}

// Job runs reconciliation against one collection.
type Job struct {
	coll      *collection.Collection
	exists    ExistsFunc
	onRemoved RemovedFunc
	logger    *zap.Logger

	// mu keeps runs from overlapping; the collection already serializes the swap itself.
	mu      sync.Mutex
	lastRun time.Time
	last    Result
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithRemovedHook registers fn to run after records are dropped. Hook errors are logged, not returned.
func WithRemovedHook(fn RemovedFunc) Option {
	return func(j *Job) { j.onRemoved = fn }
}

// New creates a job that checks every record location with exists.
func New(coll *collection.Collection, exists ExistsFunc, opts ...Option) *Job {
	j := &Job{coll: coll, exists: exists}
	for _, opt := range opts {
		opt(j)
	}
	j.logger = utils.OrNop(j.logger)
	return j
}

// Run filters the collection. When nothing is missing the collection and its files are left untouched,
// so running twice without filesystem changes is a no-op the second time.
func (j *Job) Run(ctx context.Context) (Result, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	start := time.Now()
	var res Result
	err := j.coll.Replace(ctx, func(cur *store.Store) (*store.Store, error) {
		res.Before = cur.Len()
		next := cur.FilterExisting(j.exists)
		res.After = next.Len()
		if res.After == res.Before {
			return nil, nil
		}
		res.Removed = missing(cur, next)
		return next, nil
	})
	res.Duration = time.Since(start)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile: %w", err)
	}

	if len(res.Removed) > 0 {
		for _, rec := range res.Removed {
			j.logger.Info("Dropped record with missing backing file",
				zap.String("id", rec.ID), zap.String("location", rec.Location))
		}
		if j.onRemoved != nil {
			if err := j.onRemoved(ctx, res.Removed); err != nil {
				j.logger.Warn("Post-reconcile hook failed", zap.Error(err))
			}
		}
	}
	j.logger.Info("Reconciliation finished",
		zap.Int("before", res.Before),
		zap.Int("after", res.After),
		zap.Duration("duration", res.Duration))

	j.lastRun = time.Now()
	j.last = res
	return res, nil
}

// Last returns the result and time of the most recent successful run.
func (j *Job) Last() (Result, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.last, j.lastRun
}

// Response converts r for the API and CLI.
func (r Result) Response() *models.ReconcileResponse {
	removed := make([]string, 0, len(r.Removed))
	for _, rec := range r.Removed {
		removed = append(removed, rec.ID)
	}
	return &models.ReconcileResponse{
		Before:     r.Before,
		After:      r.After,
		Removed:    removed,
		DurationMS: r.Duration.Milliseconds(),
	}
}

func missing(cur, next *store.Store) []store.Record {
	var out []store.Record
	for _, rec := range cur.Records() {
		if _, ok := next.Position(rec.ID); !ok {
			rec.Vector = nil
			out = append(out, rec)
		}
	}
	return out
}
