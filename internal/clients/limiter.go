package clients

import (
	"context"
	"time"
)

const (
	// ChunkSize is the most a relay copies between limit checks.
	ChunkSize = 4096

	window = time.Second
)

// Limiter is the per-direction state of a bandwidth cap: bytes copied in the
// current one second window and when that window started. It is not safe for
// concurrent use; each relay direction owns its own.
//
// The check runs after a chunk has been copied, so a window may exceed the cap
// by up to one chunk.
type Limiter struct {
	limit  int64
	copied int64
	start  time.Time

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewLimiter returns a Limiter for limit bytes per second. A zero limit never
// waits.
func NewLimiter(limit TransferAmount) *Limiter {
	l := &Limiter{
		limit: int64(limit.Bytes()),
		now:   time.Now,
		sleep: sleepContext,
	}
	l.start = l.now()
	return l
}

// Enabled reports whether a cap is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// ChunkSize returns how many bytes to copy per step: ChunkSize, or the cap if
// it is smaller.
func (l *Limiter) ChunkSize() int {
	if l.Enabled() && l.limit < ChunkSize {
		return int(l.limit)
	}
	return ChunkSize
}

// Enforce records n copied bytes. Once the window is over the cap it waits out
// the rest of the window and starts a new one. The only error is the
// context's, when it is done while waiting.
func (l *Limiter) Enforce(ctx context.Context, n int) error {
	if !l.Enabled() {
		return nil
	}

	l.copied += int64(n)
	if l.copied <= l.limit {
		return nil
	}

	if wait := l.start.Add(window).Sub(l.now()); wait > 0 {
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}

	l.start = l.now()
	l.copied = 0
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
