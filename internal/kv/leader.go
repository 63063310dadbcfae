package kv

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// renewScript extends the lease only while this instance still holds it.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// LeaderElector maintains a KV lease so that at most one process in a fleet
// is leader at a time. Followers probe for takeover each interval; the
// leader heartbeats to renew its lease and demotes itself when renewal fails.
type LeaderElector struct {
	client     Client
	key        string
	instanceID string
	lease      time.Duration
	interval   time.Duration

	mu       sync.Mutex
	isLeader bool
	stop     chan struct{}
	done     chan struct{}

	// OnElected and OnDemoted fire on transitions, from the elector's
	// goroutine. Set before Start.
	OnElected func()
	OnDemoted func()
}

// NewLeaderElector creates an elector for the given lease key. The heartbeat
// interval should be well under the lease so a healthy leader never lapses.
func NewLeaderElector(client Client, key string, lease, interval time.Duration) *LeaderElector {
	if lease <= 0 {
		lease = 15 * time.Second
	}
	if interval <= 0 || interval >= lease {
		interval = lease / 3
	}
	return &LeaderElector{
		client:     client,
		key:        key,
		instanceID: uuid.New().String(),
		lease:      lease,
		interval:   interval,
	}
}

// InstanceID returns this process's candidate identity.
func (e *LeaderElector) InstanceID() string { return e.instanceID }

// IsLeader reports whether this instance currently holds the lease.
func (e *LeaderElector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// Start begins the campaign loop. It returns immediately; the loop runs
// until Stop or context cancellation.
func (e *LeaderElector) Start(ctx context.Context) {
	e.stop = make(chan struct{})
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		e.tick(ctx)
		for {
			select {
			case <-ctx.Done():
				e.resign(context.Background())
				return
			case <-e.stop:
				e.resign(context.Background())
				return
			case <-ticker.C:
				e.tick(ctx)
			}
		}
	}()
}

// Stop ends the campaign and releases the lease if held.
func (e *LeaderElector) Stop() {
	if e.stop == nil {
		return
	}
	close(e.stop)
	<-e.done
	e.stop = nil
}

// tick runs one campaign round: a leader renews, a follower probes.
func (e *LeaderElector) tick(ctx context.Context) {
	if e.IsLeader() {
		renewed, err := e.client.Eval(ctx, renewScript,
			[]string{e.key}, e.instanceID, e.lease.Milliseconds())
		if err == nil && toInt64(renewed) == 1 {
			return
		}
		slog.Warn("leader lease renewal failed, demoting",
			"key", e.key, "instance", e.instanceID, "error", err)
		e.setLeader(false)
		return
	}

	ok, err := e.client.SetNX(ctx, e.key, []byte(e.instanceID), e.lease)
	if err != nil {
		slog.Warn("leader probe failed", "key", e.key, "error", err)
		return
	}
	if ok {
		slog.Info("leadership acquired", "key", e.key, "instance", e.instanceID)
		e.setLeader(true)
	}
}

// resign releases the lease with the token-checked script so a successor's
// lease is never deleted.
func (e *LeaderElector) resign(ctx context.Context) {
	if !e.IsLeader() {
		return
	}
	_, _ = e.client.Eval(ctx, releaseScript, []string{e.key}, e.instanceID)
	e.setLeader(false)
}

func (e *LeaderElector) setLeader(leader bool) {
	e.mu.Lock()
	changed := e.isLeader != leader
	e.isLeader = leader
	e.mu.Unlock()

	if !changed {
		return
	}
	if leader && e.OnElected != nil {
		e.OnElected()
	}
	if !leader && e.OnDemoted != nil {
		e.OnDemoted()
	}
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	default:
		return 0
	}
}
