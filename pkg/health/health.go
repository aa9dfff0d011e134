package health

import (
	"context"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"
)

type Status string

const (
	StatusOK      Status = "OK"
	StatusWarning Status = "WARNING"
	StatusError   Status = "ERROR"
)

type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Check is the outcome of one health check as served by __health.
type Check struct {
	Status          Status   `json:"status"`
	Severity        Severity `json:"severity"`
	ID              string   `json:"id"`
	Name            string   `json:"name"`
	Type            string   `json:"type"`
	Impact          string   `json:"impact"`
	Troubleshooting string   `json:"troubleshooting"`
	Description     string   `json:"description"`
	Message         string   `json:"message"`
}

type Info struct {
	Status       Status  `json:"status"`
	HealthChecks []Check `json:"healthChecks"`
}

// Checker runs one check. Implementations report failures in the returned Check, never panic.
type Checker interface {
	Check(ctx context.Context) Check
}

type CheckerFunc func(ctx context.Context) Check

func (f CheckerFunc) Check(ctx context.Context) Check { return f(ctx) }

// Registry runs the registered checks concurrently.
type Registry struct {
	checkers []Checker
	timeout  time.Duration
}

func NewRegistry(timeout time.Duration, checkers ...Checker) *Registry {
	return &Registry{checkers: checkers, timeout: timeout}
}

func (r *Registry) Add(c Checker) {
	r.checkers = append(r.checkers, c)
}

// Health runs every check. When troubleBase is an absolute URL the troubleshooting anchors are
// rewritten into links to it.
func (r *Registry) Health(ctx context.Context, troubleBase string) Info {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	results := make([]Check, len(r.checkers))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range r.checkers {
		g.Go(func() error {
			results[i] = c.Check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	info := Info{Status: StatusOK, HealthChecks: results}
	for i := range info.HealthChecks {
		hc := &info.HealthChecks[i]
		hc.Troubleshooting = troubleLink(troubleBase, hc.Troubleshooting)
		switch {
		case hc.Status == StatusError:
			info.Status = StatusError
		case hc.Status == StatusWarning && info.Status != StatusError:
			info.Status = StatusWarning
		}
	}
	return info
}

func troubleLink(base, anchor string) string {
	if base == "" {
		return anchor
	}
	link := base + anchor
	u, err := url.Parse(link)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return anchor
	}
	return link
}

// Healthy is false when some HIGH severity check is not OK.
func (i Info) Healthy() bool {
	if i.Status == StatusOK {
		return true
	}
	for _, hc := range i.HealthChecks {
		if hc.Status != StatusOK && hc.Severity == SeverityHigh {
			return false
		}
	}
	return true
}
