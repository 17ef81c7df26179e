// Package health runs component checks for the daemon and aggregates them
// into one status.
//
// The daemon registers a check per component (keyboard hook, rule storage,
// synthetic input, clipboard, control socket). `textreplacer doctor` reports
// the results over the control socket, or runs the local checks when no
// daemon is up.
package health

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Status is the health of a component or of the whole daemon.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// DefaultTimeout bounds a single check.
const DefaultTimeout = 2 * time.Second

// Result is the outcome of one check.
type Result struct {
	Status      Status         `json:"status"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	LastChecked time.Time      `json:"last_checked"`
	Duration    time.Duration  `json:"duration_ns"`
	Error       string         `json:"error,omitempty"`
}

// Healthy returns a healthy result.
func Healthy(msg string) Result {
	return Result{Status: StatusHealthy, Message: msg}
}

// Degraded returns a degraded result.
func Degraded(msg string) Result {
	return Result{Status: StatusDegraded, Message: msg}
}

// Unhealthy returns an unhealthy result carrying err.
func Unhealthy(msg string, err error) Result {
	r := Result{Status: StatusUnhealthy, Message: msg}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Check inspects one component.
type Check func(ctx context.Context) Result

// Component is a named check. A failing critical component makes the
// whole daemon unhealthy; any other failure only degrades it.
type Component struct {
	Name     string
	Critical bool
	Check    Check
	Timeout  time.Duration
}

// Checker holds the registered components and their last results.
type Checker struct {
	mu         sync.RWMutex
	components map[string]*Component
	results    map[string]Result
	startTime  time.Time
}

// NewChecker creates an empty Checker.
func NewChecker() *Checker {
	return &Checker{
		components: make(map[string]*Component),
		results:    make(map[string]Result),
		startTime:  time.Now(),
	}
}

// Register adds or replaces a component.
func (c *Checker) Register(component *Component) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if component.Timeout <= 0 {
		component.Timeout = DefaultTimeout
	}
	c.components[component.Name] = component
	c.results[component.Name] = Result{Status: StatusUnknown}
}

// RegisterFunc registers check under name.
func (c *Checker) RegisterFunc(name string, critical bool, check Check) {
	c.Register(&Component{Name: name, Critical: critical, Check: check})
}

// Names returns the registered component names, sorted.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.components))
	for name := range c.components {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Critical reports whether name is registered as critical.
func (c *Checker) Critical(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	comp, ok := c.components[name]
	return ok && comp.Critical
}

// Check runs every component concurrently. A check that panics or
// outlives its timeout is unhealthy.
func (c *Checker) Check(ctx context.Context) map[string]Result {
	c.mu.RLock()
	components := make([]*Component, 0, len(c.components))
	for _, comp := range c.components {
		components = append(components, comp)
	}
	c.mu.RUnlock()

	results := make(map[string]Result, len(components))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, comp := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.run(ctx, comp)

			mu.Lock()
			results[comp.Name] = result
			mu.Unlock()

			c.mu.Lock()
			c.results[comp.Name] = result
			c.mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

func (c *Checker) run(ctx context.Context, comp *Component) Result {
	checkCtx, cancel := context.WithTimeout(ctx, comp.Timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Status: StatusUnhealthy, Message: "check panicked", Error: fmt.Sprint(r)}
			}
		}()
		done <- comp.Check(checkCtx)
	}()

	var result Result
	select {
	case result = <-done:
	case <-checkCtx.Done():
		result = Result{Status: StatusUnhealthy, Message: "check timed out", Error: checkCtx.Err().Error()}
	}
	result.LastChecked = start
	result.Duration = time.Since(start)
	return result
}

// Results returns the last result of every component.
func (c *Checker) Results() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Result, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// Overall aggregates the last results.
func (c *Checker) Overall() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hasUnknown := false
	hasDegraded := false
	for name, result := range c.results {
		comp := c.components[name]
		if comp == nil {
			continue
		}
		switch result.Status {
		case StatusUnhealthy:
			if comp.Critical {
				return StatusUnhealthy
			}
			hasDegraded = true
		case StatusDegraded:
			hasDegraded = true
		case StatusUnknown:
			if comp.Critical {
				hasUnknown = true
			}
		}
	}

	switch {
	case hasUnknown:
		return StatusUnknown
	case hasDegraded:
		return StatusDegraded
	default:
		return StatusHealthy
	}
}

// Report is a full health snapshot.
type Report struct {
	Status     Status            `json:"status"`
	Uptime     time.Duration     `json:"uptime"`
	Components map[string]Result `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Report runs every check and returns the aggregate.
func (c *Checker) Report(ctx context.Context) Report {
	components := c.Check(ctx)
	return Report{
		Status:     c.Overall(),
		Uptime:     time.Since(c.startTime),
		Components: components,
		Timestamp:  time.Now(),
	}
}

// ErrorCheck turns fn into a Check: nil is healthy, an error unhealthy.
func ErrorCheck(okMsg string, fn func(ctx context.Context) error) Check {
	return func(ctx context.Context) Result {
		if err := fn(ctx); err != nil {
			return Unhealthy("check failed", err)
		}
		return Healthy(okMsg)
	}
}
