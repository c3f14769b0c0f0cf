// Package workgroup implements admission control for query execution: a
// per-organization concurrency bound with wait-time reporting. One
// weighted semaphore per organization plus an optional global ceiling,
// with deadline-bounded acquisition and wait-time measurement.
package workgroup

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/openobserve/promql-engine/pkg/queryerr"
)

// Category mirrors the two-tier deployment distinction:
// enterprise deployments classify metrics queries into a Short group,
// while OSS mode falls back to a single global group per org.
type Category string

const (
	CategoryShort Category = "short"
	CategoryLong  Category = "long"
)

// Lock is a scoped admission handle. Release must be called, typically via
// defer, to free the slot; calls after the first are no-ops.
type Lock struct {
	release func()
	Wait    time.Duration
}

// Release returns the slot to its group. Safe to call multiple times.
func (l *Lock) Release() {
	if l == nil || l.release == nil {
		return
	}
	once := l.release
	l.release = nil
	once()
}

type group struct {
	sem *semaphore.Weighted
}

// Admission bounds concurrent queries per organization. The zero value is
// not usable; construct with New.
type Admission struct {
	mu           sync.Mutex
	perOrgLimit  int64
	globalLimit  int64
	global       *semaphore.Weighted
	groups       map[string]*group
}

// New creates an Admission controller. perOrgLimit bounds concurrent
// in-flight queries for any single org_id; globalLimit additionally bounds
// the total across all orgs (0 disables the global ceiling, matching OSS
// mode's "global lock" description when perOrgLimit alone is meant to
// apply organization-wide).
func New(perOrgLimit, globalLimit int64) *Admission {
	if perOrgLimit <= 0 {
		perOrgLimit = 1
	}
	a := &Admission{
		perOrgLimit: perOrgLimit,
		globalLimit: globalLimit,
		groups:      make(map[string]*group),
	}
	if globalLimit > 0 {
		a.global = semaphore.NewWeighted(globalLimit)
	}
	return a
}

func (a *Admission) groupFor(orgID string) *group {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.groups[orgID]
	if !ok {
		g = &group{sem: semaphore.NewWeighted(a.perOrgLimit)}
		a.groups[orgID] = g
	}
	return g
}

// CheckWorkGroup blocks until a slot is free for orgID, the deadline
// elapses, or ctx is cancelled, whichever comes first. category is
// currently informational; both categories share one per-org semaphore
// until a Long-running class of query is introduced.
func (a *Admission) CheckWorkGroup(ctx context.Context, traceID, orgID string, deadline time.Duration, category Category) (*Lock, error) {
	start := time.Now()
	g := a.groupFor(orgID)

	waitCtx := ctx
	var cancel context.CancelFunc
	if deadline > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, deadline)
		defer cancel()
	}

	if a.global != nil {
		if err := a.global.Acquire(waitCtx, 1); err != nil {
			return nil, queryerr.ServerInternalError("work group wait timeout")
		}
	}
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if a.global != nil {
			a.global.Release(1)
		}
		return nil, queryerr.ServerInternalError("work group wait timeout")
	}

	wait := time.Since(start)
	var released bool
	var releaseMu sync.Mutex
	release := func() {
		releaseMu.Lock()
		defer releaseMu.Unlock()
		if released {
			return
		}
		released = true
		g.sem.Release(1)
		if a.global != nil {
			a.global.Release(1)
		}
	}
	return &Lock{release: release, Wait: wait}, nil
}
