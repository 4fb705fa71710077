// Package collection owns the record store and the similarity index as one unit.
//
// A Collection admits any number of concurrent readers or a single writer. Every successful write
// is durable (snapshot and index file rewritten) before it is acknowledged; a failed write leaves
// the in-memory state exactly as it was.
package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/hyperjump/utsushi/internal/store"
	"github.com/hyperjump/utsushi/internal/vector"
	"github.com/hyperjump/utsushi/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrWriteFailure is returned when a mutation could not be made durable and was rolled back.
	ErrWriteFailure = errors.New("write failure")
	// ErrNotReady is returned when the collection is not open.
	ErrNotReady = errors.New("collection not ready")

	errIndexStale = errors.New("index stale")
)

// State is the lifecycle state of a Collection.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateMutating
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateMutating:
		return "mutating"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures Open.
type Options struct {
	Dimensions   int
	SnapshotPath string
	IndexPath    string
	IndexType    string
	Compression  store.Compression
	Logger       *zap.Logger
}

// Collection is the aggregate of store and index.
type Collection struct {
	opts   Options
	logger *zap.Logger

	// writer admits one writer at a time; waiting on it does not block readers.
	writer *semaphore.Weighted
	mu     sync.RWMutex
	state  State
	store  *store.Store
	index  vector.Index
}

// Open loads the snapshot, then loads the index file or rebuilds it from the snapshot when the
// file is missing, unreadable, or disagrees with the snapshot.
func Open(ctx context.Context, opts Options) (*Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if opts.SnapshotPath == "" || opts.IndexPath == "" {
		return nil, fmt.Errorf("snapshot and index paths are required")
	}
	c := &Collection{opts: opts, logger: utils.OrNop(opts.Logger), writer: semaphore.NewWeighted(1)}

	st, err := store.Load(opts.SnapshotPath, opts.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	idx, err := vector.Load(opts.IndexType, opts.IndexPath, opts.Dimensions)
	if err == nil && idx.Size() != st.Len() {
		c.logger.Warn("Index size disagrees with snapshot, rebuilding",
			zap.Int("index_size", idx.Size()), zap.Int("snapshot_size", st.Len()))
		_ = idx.Close()
		idx, err = nil, errIndexStale
	}
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, errIndexStale) {
			c.logger.Warn("Index file unusable, rebuilding", zap.Error(err))
		}
		idx, err = vector.Build(opts.IndexType, opts.Dimensions, st.Vectors())
		if err != nil {
			return nil, fmt.Errorf("rebuild index: %w", err)
		}
		if err := idx.Save(opts.IndexPath); err != nil {
			_ = idx.Close()
			return nil, fmt.Errorf("%w: save rebuilt index: %v", ErrWriteFailure, err)
		}
	}

	c.store = st
	c.index = idx
	c.state = StateReady
	c.logger.Info("Collection opened",
		zap.Int("records", st.Len()),
		zap.Int("dimensions", opts.Dimensions),
		zap.String("index_type", idx.Type()))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Collection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Len returns the number of records.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.store == nil {
		return 0
	}
	return c.store.Len()
}

// Dimensions returns the vector dimension.
func (c *Collection) Dimensions() int {
	return c.opts.Dimensions
}

// IndexType returns the type of the live index.
func (c *Collection) IndexType() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.index == nil {
		return c.opts.IndexType
	}
	return c.index.Type()
}

// WithRead runs fn against a consistent view. Writers are excluded until fn returns.
func (c *Collection) WithRead(fn func(View) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, c.state)
	}
	return fn(View{store: c.store, index: c.index})
}

// WithWrite runs fn with exclusive access and commits the records it staged.
// The commit appends to store and index, persists the snapshot and then the index file.
// If ctx is done before the write lock is held nothing happens.
func (c *Collection) WithWrite(ctx context.Context, fn func(*Txn) error) error {
	if err := c.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.writer.Release(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, c.state)
	}

	txn := &Txn{dim: c.opts.Dimensions, view: View{store: c.store, index: c.index}}
	if err := fn(txn); err != nil {
		return err
	}
	if len(txn.staged) == 0 {
		return nil
	}

	c.state = StateMutating
	defer func() { c.state = StateReady }()
	return c.commit(txn.staged)
}

func (c *Collection) commit(staged []store.Record) error {
	base := c.store.Len()
	vectors := make([][]float32, 0, len(staged))
	for _, rec := range staged {
		if err := c.store.Append(rec); err != nil {
			c.store.Truncate(base)
			return err
		}
		vectors = append(vectors, rec.Vector)
	}
	if err := c.index.Append(vectors); err != nil {
		c.store.Truncate(base)
		return err
	}

	if err := c.store.Persist(c.opts.SnapshotPath, c.opts.Compression); err != nil {
		c.rollback(base, false)
		return fmt.Errorf("%w: persist snapshot: %v", ErrWriteFailure, err)
	}
	if err := c.index.Save(c.opts.IndexPath); err != nil {
		c.rollback(base, true)
		return fmt.Errorf("%w: persist index: %v", ErrWriteFailure, err)
	}
	return nil
}

// rollback discards the uncommitted tail. If the snapshot was already rewritten the previous
// one is restored; failing that, the next Open rebuilds the index from whatever snapshot is on disk.
func (c *Collection) rollback(base int, snapshotWritten bool) {
	c.store.Truncate(base)
	if err := c.index.Truncate(base); err != nil {
		c.logger.Error("Index rollback failed", zap.Error(err))
	}
	if !snapshotWritten {
		return
	}
	if err := c.store.Persist(c.opts.SnapshotPath, c.opts.Compression); err != nil {
		c.logger.Error("Failed to restore previous snapshot", zap.Error(err))
	}
}

// Replace swaps the whole record set for the store returned by fn, rebuilds the index from it,
// and persists both. fn must not modify the store it receives. Returning nil keeps the current state.
func (c *Collection) Replace(ctx context.Context, fn func(*store.Store) (*store.Store, error)) error {
	if err := c.writer.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.writer.Release(1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateReady {
		return fmt.Errorf("%w: %s", ErrNotReady, c.state)
	}

	next, err := fn(c.store)
	if err != nil || next == nil {
		return err
	}
	if next.Dimensions() != c.opts.Dimensions {
		return fmt.Errorf("%w: replacement has %d, collection expects %d", store.ErrDimensionMismatch, next.Dimensions(), c.opts.Dimensions)
	}

	c.state = StateMutating
	defer func() { c.state = StateReady }()

	idx, err := vector.Build(c.opts.IndexType, c.opts.Dimensions, next.Vectors())
	if err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	if err := next.Persist(c.opts.SnapshotPath, c.opts.Compression); err != nil {
		_ = idx.Close()
		return fmt.Errorf("%w: persist snapshot: %v", ErrWriteFailure, err)
	}
	if err := idx.Save(c.opts.IndexPath); err != nil {
		_ = idx.Close()
		// The new snapshot is on disk; the next Open rebuilds the index from it.
		if rerr := c.store.Persist(c.opts.SnapshotPath, c.opts.Compression); rerr != nil {
			c.logger.Error("Failed to restore previous snapshot", zap.Error(rerr))
		}
		return fmt.Errorf("%w: persist index: %v", ErrWriteFailure, err)
	}

	old := c.index
	c.store = next
	c.index = idx
	_ = old.Close()
	return nil
}

// Close releases the index. It persists nothing: every acknowledged write is already durable.
func (c *Collection) Close() error {
	if err := c.writer.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer c.writer.Release(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed
	if c.index != nil {
		return c.index.Close()
	}
	return nil
}
