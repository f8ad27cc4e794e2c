package health

import (
	"context"
	"time"

	"github.com/nimburion/mds/pkg/relindex"
	"github.com/nimburion/mds/pkg/resilience"
)

// Checkable is implemented by store adapters.
type Checkable interface {
	HealthCheck(ctx context.Context) error
}

// AdapterChecker pings an adapter with its own timeout.
type AdapterChecker struct {
	name    string
	adapter Checkable
	timeout time.Duration
}

// NewAdapterChecker creates a checker for adapter. A zero timeout means 5s.
func NewAdapterChecker(name string, adapter Checkable, timeout time.Duration) *AdapterChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &AdapterChecker{name: name, adapter: adapter, timeout: timeout}
}

func (c *AdapterChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	result := CheckResult{Name: c.name, Status: StatusHealthy, Message: "OK"}
	if err := c.adapter.HealthCheck(checkCtx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = ""
		result.Error = err.Error()
	}
	result.Timestamp = time.Now()
	result.Duration = time.Since(start)
	return result
}

func (c *AdapterChecker) Name() string {
	return c.name
}

// BreakerChecker reports the store circuit breaker. An open breaker means
// every storage call is refused, so the instance is not ready.
type BreakerChecker struct {
	state func() resilience.State
}

// NewBreakerChecker creates a checker over a breaker state accessor such as
// engine.Engine.Breaker.
func NewBreakerChecker(state func() resilience.State) *BreakerChecker {
	return &BreakerChecker{state: state}
}

func (c *BreakerChecker) Check(context.Context) CheckResult {
	state := c.state()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"state": state.String()},
	}
	switch state {
	case resilience.StateOpen:
		result.Status = StatusUnhealthy
		result.Error = resilience.ErrCircuitBreakerOpen.Error()
	case resilience.StateHalfOpen:
		result.Status = StatusDegraded
		result.Message = "probing storage"
	}
	return result
}

func (c *BreakerChecker) Name() string {
	return "store_breaker"
}

// IndexChecker reports the age of the relationship index. A missing or old
// snapshot degrades the instance; requests rebuild it on demand.
type IndexChecker struct {
	index  *relindex.Index
	maxAge time.Duration
	now    func() time.Time
}

// NewIndexChecker creates a checker. A zero maxAge only checks presence.
func NewIndexChecker(index *relindex.Index, maxAge time.Duration) *IndexChecker {
	return &IndexChecker{index: index, maxAge: maxAge, now: time.Now}
}

func (c *IndexChecker) Check(context.Context) CheckResult {
	now := c.now()
	result := CheckResult{Name: c.Name(), Status: StatusHealthy, Timestamp: now}

	snap := c.index.Current()
	if snap == nil {
		result.Status = StatusDegraded
		result.Message = "index not built yet"
		return result
	}

	media, packages := snap.Counts()
	age := now.Sub(snap.BuiltAt())
	result.Metadata = map[string]interface{}{
		"media":     media,
		"packages":  packages,
		"unmatched": len(snap.Unmatched()),
		"age":       age.Round(time.Second).String(),
	}
	if c.maxAge > 0 && age > c.maxAge {
		result.Status = StatusDegraded
		result.Message = "index snapshot is stale"
	}
	return result
}

func (c *IndexChecker) Name() string {
	return "relationship_index"
}
