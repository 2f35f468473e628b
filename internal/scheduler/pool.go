package scheduler

import "fmt"

// ResourcePool tracks the capacity that is currently free for launching tasks.
//
// The pool is owned by the scheduler's coordinating goroutine and has no
// locking of its own. Admission always checks CanAcquire first, so Acquire and
// Release treat an overdraft or an over-release as a programming error and
// panic rather than clamping.
type ResourcePool struct {
	total     Resources
	available Resources
	peak      Resources // highest in-use amount seen, per dimension
}

// NewResourcePool creates a pool with everything available.
func NewResourcePool(total Resources) *ResourcePool {
	if total.Negative() {
		panic(fmt.Sprintf("scheduler: negative pool capacity %s", total))
	}
	return &ResourcePool{
		total:     total,
		available: total,
	}
}

// Total returns the configured capacity.
func (p *ResourcePool) Total() Resources {
	return p.total
}

// Available returns the capacity not held by running tasks.
func (p *ResourcePool) Available() Resources {
	return p.available
}

// InUse returns the capacity held by running tasks.
func (p *ResourcePool) InUse() Resources {
	return p.total.Sub(p.available)
}

// Peak returns the highest in-use amount observed per dimension.
func (p *ResourcePool) Peak() Resources {
	return p.peak
}

// CanAcquire reports whether demand fits what is available right now.
func (p *ResourcePool) CanAcquire(demand Resources) bool {
	return demand.FitsIn(p.available)
}

// Acquire takes demand out of the pool.
func (p *ResourcePool) Acquire(demand Resources) {
	if !p.CanAcquire(demand) {
		panic(fmt.Sprintf("scheduler: acquiring %s exceeds available %s", demand, p.available))
	}
	p.available = p.available.Sub(demand)
	p.peak = p.peak.Max(p.InUse())
}

// Release returns demand to the pool.
func (p *ResourcePool) Release(demand Resources) {
	next := p.available.Add(demand)
	if !next.FitsIn(p.total) {
		panic(fmt.Sprintf("scheduler: releasing %s overflows total %s", demand, p.total))
	}
	p.available = next
}
