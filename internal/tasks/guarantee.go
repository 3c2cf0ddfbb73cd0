package tasks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/desertthunder/songbird/internal/shared"
)

// Release gives back an execution guarantee. Calling it more than once is a no-op.
type Release func() error

// Guarantee grants the right to run one download.
//
// Acquire returns a context bounded by ttl: when the guarantee expires the run is canceled.
type Guarantee interface {
	Acquire(ctx context.Context, ttl time.Duration) (context.Context, Release, error)
}

// FileGuarantee is a cross-process execution guarantee backed by an advisory lock file.
type FileGuarantee struct {
	path  string
	wait  time.Duration
	retry time.Duration
}

// NewFileGuarantee locks path. Acquire gives up after wait when another process holds the lock.
func NewFileGuarantee(path string, wait time.Duration) *FileGuarantee {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &FileGuarantee{path: path, wait: wait, retry: 100 * time.Millisecond}
}

// Path returns the lock file path.
func (g *FileGuarantee) Path() string {
	return g.path
}

func (g *FileGuarantee) Acquire(ctx context.Context, ttl time.Duration) (context.Context, Release, error) {
	if err := os.MkdirAll(filepath.Dir(g.path), 0755); err != nil {
		return nil, nil, fmt.Errorf("%w: failed to create lock directory: %v", shared.ErrGuarantee, err)
	}

	lock := flock.New(g.path)
	waitCtx, cancelWait := context.WithTimeout(ctx, g.wait)
	defer cancelWait()

	locked, err := lock.TryLockContext(waitCtx, g.retry)
	if err != nil && ctx.Err() == nil && waitCtx.Err() == nil {
		return nil, nil, fmt.Errorf("%w: lock %s: %v", shared.ErrGuarantee, g.path, err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("%w: %s is held by another download", shared.ErrGuarantee, g.path)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if ttl > 0 {
		runCtx, cancel = context.WithTimeout(ctx, ttl)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	var once sync.Once
	release := func() error {
		var err error
		once.Do(func() {
			cancel()
			if uerr := lock.Unlock(); uerr != nil {
				err = fmt.Errorf("%w: unlock %s: %v", shared.ErrGuarantee, g.path, uerr)
			}
		})
		return err
	}
	return runCtx, release, nil
}
