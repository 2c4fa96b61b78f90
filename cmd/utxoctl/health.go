// health.go - Health checks behind the status command.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"zkutxo/internal/balance"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
}

// degradedError marks a check that failed without making the client unusable.
type degradedError struct{ error }

func degraded(format string, args ...any) error {
	return degradedError{fmt.Errorf(format, args...)}
}

// HealthChecker runs the registered component checks.
type HealthChecker struct {
	mu       sync.Mutex
	checkers map[string]func(context.Context) (string, error)
	timeout  time.Duration
}

func NewHealthChecker(timeout time.Duration) *HealthChecker {
	return &HealthChecker{
		checkers: make(map[string]func(context.Context) (string, error)),
		timeout:  timeout,
	}
}

// RegisterComponent registers a health check for a component. The check
// returns a message shown when it succeeds.
func (hc *HealthChecker) RegisterComponent(name string, checker func(context.Context) (string, error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checkers[name] = checker
}

// CheckHealth runs every check concurrently, each bounded by the timeout.
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	hc.mu.Lock()
	names := make([]string, 0, len(hc.checkers))
	for name := range hc.checkers {
		names = append(names, name)
	}
	checkers := make([]func(context.Context) (string, error), len(names))
	sort.Strings(names)
	for i, name := range names {
		checkers[i] = hc.checkers[name]
	}
	hc.mu.Unlock()

	components := make([]ComponentHealth, len(names))
	var g errgroup.Group
	for i := range names {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, hc.timeout)
			defer cancel()
			start := time.Now()
			msg, err := checkers[i](cctx)

			ch := ComponentHealth{Name: names[i], Status: Healthy, Message: msg, LastCheck: time.Now(), Latency: time.Since(start)}
			var d degradedError
			switch {
			case errors.As(err, &d):
				ch.Status, ch.Message = Degraded, d.Error()
			case err != nil:
				ch.Status, ch.Message = Unhealthy, err.Error()
			case msg == "":
				ch.Message = "OK"
			}
			components[i] = ch
			return nil
		})
	}
	_ = g.Wait()

	overall := Healthy
	for _, c := range components {
		if c.Status == Unhealthy {
			overall = Unhealthy
		} else if c.Status == Degraded && overall == Healthy {
			overall = Degraded
		}
	}
	return &SystemHealth{OverallStatus: overall, Timestamp: time.Now(), Components: components}
}

const checkTimeout = 5 * time.Second

var commandStatus = &cli.Command{
	Name:  "status",
	Usage: "check the account, balance store and ledger backend",
	Flags: []cli.Flag{jsonFlag},
	Action: func(c *cli.Context) error {
		e := envFrom(c)
		hc := NewHealthChecker(checkTimeout)

		hc.RegisterComponent("account", func(context.Context) (string, error) {
			acct, err := loadAccount(c)
			if err != nil {
				return "", degraded("no account %q: %v", c.String(accountFlag.Name), err)
			}
			return acct.PublicKey(), nil
		})
		hc.RegisterComponent("store", func(context.Context) (string, error) {
			if err := os.MkdirAll(e.cfg.Paths.DataDir, 0o755); err != nil {
				return "", err
			}
			s, err := balance.NewStore(e.cfg.Paths.DataDir, e.log.Component("store"))
			if err != nil {
				return "", err
			}
			return e.cfg.Paths.DataDir, s.Close()
		})
		hc.RegisterComponent("backend", func(ctx context.Context) (string, error) {
			be, err := openBackend(ctx, e)
			if err != nil {
				return "", err
			}
			defer be.Close()
			tree, err := be.tree(ctx, e)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d leaves, root %s", tree.Size(), tree.Root()), nil
		})

		health := hc.CheckHealth(c.Context)
		if c.Bool(jsonFlag.Name) {
			if err := json.NewEncoder(c.App.Writer).Encode(health); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(c.App.Writer, "Status: %s\n", health.OverallStatus)
			for _, comp := range health.Components {
				fmt.Fprintf(c.App.Writer, "  %-8s %-9s %s (%s)\n", comp.Name, comp.Status, comp.Message, comp.Latency.Round(time.Millisecond))
			}
		}
		if health.OverallStatus == Unhealthy {
			return fmt.Errorf("status %s", health.OverallStatus)
		}
		return nil
	},
}
