package kv

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"
)

// ErrLockNotAcquired is returned when the acquire-wait budget is exhausted
// while another holder owns the lock.
var ErrLockNotAcquired = errors.New("kv: lock not acquired")

// releaseScript deletes the lock key only when the stored token matches,
// so a holder whose lease expired cannot release a successor's lock.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// LockOptions tune acquisition behavior. Zero values fall back to the
// defaults used by the deduplication step.
type LockOptions struct {
	Lease          time.Duration // how long the lock is held before expiry
	AcquireWait    time.Duration // total budget for acquisition attempts
	InitialBackoff time.Duration // first retry delay
	MaxBackoff     time.Duration // retry delay cap
	JitterFraction float64       // +/- fraction applied to each delay
}

// DefaultLockOptions are the submission-path settings: 30s lease, 5s wait,
// 50ms initial backoff doubling to a 500ms cap, 25% jitter.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Lease:          30 * time.Second,
		AcquireWait:    5 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		JitterFraction: 0.25,
	}
}

func (o LockOptions) withDefaults() LockOptions {
	d := DefaultLockOptions()
	if o.Lease <= 0 {
		o.Lease = d.Lease
	}
	if o.AcquireWait <= 0 {
		o.AcquireWait = d.AcquireWait
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = d.InitialBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.JitterFraction <= 0 {
		o.JitterFraction = d.JitterFraction
	}
	return o
}

// Lock is a held distributed lock. Release it exactly once.
type Lock struct {
	client Client
	key    string
	token  string
}

// Key returns the lock key.
func (l *Lock) Key() string { return l.key }

// Release frees the lock if this holder still owns it. Failure to release is
// logged and non-fatal since the lease expires on its own.
func (l *Lock) Release(ctx context.Context) error {
	_, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token)
	if err != nil {
		slog.Warn("lock release failed, lease will expire", "key", l.key, "error", err)
	}
	return err
}

// AcquireLock attempts to take the named lock with exponential backoff and
// jitter until the acquire-wait budget or the context runs out.
func AcquireLock(ctx context.Context, client Client, key string, opts LockOptions) (*Lock, error) {
	opts = opts.withDefaults()
	token := uuid.New().String()
	deadline := time.Now().Add(opts.AcquireWait)
	backoff := opts.InitialBackoff

	for {
		ok, err := client.SetNX(ctx, key, []byte(token), opts.Lease)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lock{client: client, key: key, token: token}, nil
		}

		delay := jitter(backoff, opts.JitterFraction)
		if time.Now().Add(delay).After(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		backoff *= 2
		if backoff > opts.MaxBackoff {
			backoff = opts.MaxBackoff
		}
	}
}

func jitter(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	// Spread uniformly in [d*(1-f), d*(1+f)].
	delta := float64(d) * fraction
	return time.Duration(float64(d) - delta + rand.Float64()*2*delta)
}
