package resource

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	// ErrMemoryLimitExceeded is returned when a reservation would exceed
	// the work memory budget.
	ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

	// ErrBucketLimitExceeded is returned when an aggregation creates more
	// buckets than allowed.
	ErrBucketLimitExceeded = errors.New("bucket limit exceeded")
)

// Config holds the limits of a Controller. Zero disables a limit.
type Config struct {
	// WorkMemBytes bounds the aggregation state and cached dictionary
	// blocks of every query sharing the controller.
	WorkMemBytes int64

	// DictionaryIOBytesPerSec caps the rate of dictionary block loads.
	DictionaryIOBytesPerSec int64
}

// Controller is the work memory budget and dictionary IO throttle shared by
// the queries of one engine. A nil *Controller imposes no limits.
type Controller struct {
	workMem int64
	sem     *semaphore.Weighted // nil if unlimited
	inUse   atomic.Int64
	io      *rate.Limiter // nil if unlimited
}

// NewController creates a controller enforcing cfg.
func NewController(cfg Config) *Controller {
	c := &Controller{workMem: cfg.WorkMemBytes}
	if cfg.WorkMemBytes > 0 {
		c.sem = semaphore.NewWeighted(cfg.WorkMemBytes)
	}
	if cfg.DictionaryIOBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.DictionaryIOBytesPerSec), int(cfg.DictionaryIOBytesPerSec))
	}
	return c
}

// Reserve takes bytes from the budget, waiting for other queries to
// release memory until ctx is done.
func (c *Controller) Reserve(ctx context.Context, bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, bytes); err != nil {
			return err
		}
	}
	c.inUse.Add(bytes)
	return nil
}

// TryReserve takes bytes from the budget if they are available right now.
func (c *Controller) TryReserve(bytes int64) bool {
	if c == nil || bytes <= 0 {
		return true
	}
	if c.sem != nil && !c.sem.TryAcquire(bytes) {
		return false
	}
	c.inUse.Add(bytes)
	return true
}

// Release returns bytes to the budget.
func (c *Controller) Release(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.sem != nil {
		c.sem.Release(bytes)
	}
	c.inUse.Add(-bytes)
}

// InUse returns the reserved bytes.
func (c *Controller) InUse() int64 {
	if c == nil {
		return 0
	}
	return c.inUse.Load()
}

// WorkMem returns the budget, 0 if unlimited.
func (c *Controller) WorkMem() int64 {
	if c == nil {
		return 0
	}
	return c.workMem
}

// WaitIO blocks until bytes of dictionary IO may proceed. Loads larger than
// one second of budget are admitted in slices.
func (c *Controller) WaitIO(ctx context.Context, bytes int) error {
	if c == nil || c.io == nil {
		return nil
	}
	burst := c.io.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.io.WaitN(ctx, n); err != nil {
			return err
		}
		bytes -= n
	}
	return nil
}

// TryIO admits bytes of dictionary IO if the budget allows it right now.
func (c *Controller) TryIO(bytes int) bool {
	if c == nil || c.io == nil {
		return true
	}
	return c.io.AllowN(time.Now(), bytes)
}
