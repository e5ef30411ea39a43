// Package health runs post-change health checks against a device.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/netwarden/netwarden/pkg/transport"
	"github.com/netwarden/netwarden/pkg/util"
)

// Status represents the health status of a check
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Result represents the result of a single health check
type Result struct {
	Check     string        `json:"check"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Details   interface{}   `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report contains all health check results for a device
type Report struct {
	DeviceID  string        `json:"device_id"`
	Timestamp time.Time     `json:"timestamp"`
	Overall   Status        `json:"overall"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// Check defines the interface for health checks
type Check interface {
	Name() string
	Run(ctx context.Context, client transport.Client) Result
}

// Checker runs health checks after a mutation. collectionPath is the
// collection the mutation touched.
type Checker struct {
	checks []Check
}

// NewChecker creates a checker with the default post-change checks.
func NewChecker(collectionPath string) *Checker {
	return &Checker{
		checks: []Check{
			&SystemResourceCheck{},
			&CollectionCheck{Path: collectionPath},
		},
	}
}

// Run executes all checks and returns a report. The error is non-nil
// only when the overall status is critical.
func (c *Checker) Run(ctx context.Context, deviceID string, client transport.Client) (*Report, error) {
	start := time.Now()
	report := &Report{
		DeviceID:  deviceID,
		Timestamp: start,
		Results:   make([]Result, 0, len(c.checks)),
		Overall:   StatusOK,
	}

	for _, check := range c.checks {
		result := check.Run(ctx, client)
		report.Results = append(report.Results, result)

		// Worst status wins
		if result.Status == StatusCritical {
			report.Overall = StatusCritical
		} else if result.Status == StatusWarning && report.Overall != StatusCritical {
			report.Overall = StatusWarning
		} else if result.Status == StatusUnknown && report.Overall == StatusOK {
			report.Overall = StatusUnknown
		}
	}

	report.Duration = time.Since(start)

	if report.Overall == StatusCritical {
		for _, r := range report.Results {
			if r.Status == StatusCritical {
				return report, &util.HealthError{DeviceID: deviceID, Check: r.Check, Details: r.Message}
			}
		}
	}
	return report, nil
}

// SystemResourceCheck verifies the device still answers with its system
// resource record and a present uptime.
type SystemResourceCheck struct{}

// Name returns the check name
func (c *SystemResourceCheck) Name() string {
	return "system-resource"
}

// Run executes the system resource check
func (c *SystemResourceCheck) Run(ctx context.Context, client transport.Client) Result {
	start := time.Now()
	result := Result{
		Check:     c.Name(),
		Timestamp: start,
	}

	objs, err := client.Get(ctx, "system/resource")
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("system resource fetch failed: %v", err)
		return result
	}
	if len(objs) == 0 || objs[0] == nil {
		result.Status = StatusCritical
		result.Message = "system resource returned no data"
		return result
	}

	uptime, ok := objs[0]["uptime"]
	if !ok || uptime == "" {
		result.Status = StatusCritical
		result.Message = "system resource has no uptime"
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("device up %v", uptime)
	result.Details = map[string]any{"uptime": uptime}
	return result
}

// CollectionCheck verifies the mutated collection is still readable.
type CollectionCheck struct {
	Path string
}

// Name returns the check name
func (c *CollectionCheck) Name() string {
	return "collection"
}

// Run executes the collection check
func (c *CollectionCheck) Run(ctx context.Context, client transport.Client) Result {
	start := time.Now()
	result := Result{
		Check:     c.Name(),
		Timestamp: start,
	}

	objs, err := client.Get(ctx, c.Path)
	result.Duration = time.Since(start)

	if err != nil {
		result.Status = StatusCritical
		result.Message = fmt.Sprintf("fetching %s failed: %v", c.Path, err)
		return result
	}

	result.Status = StatusOK
	result.Message = fmt.Sprintf("%s readable (%d entries)", c.Path, len(objs))
	result.Details = map[string]int{"entries": len(objs)}
	return result
}
