// Copyright 2024 The fabricproxy Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package health

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fabricproxy/cluster/conn"
	"github.com/fabricproxy/cluster/internal"
)

// PollingCheckerConfig configures a polling health checker, mirroring a
// cluster descriptor's health_check block.
type PollingCheckerConfig struct {
	// PollingInterval is how often the prober runs against each connection.
	// Defaults to 10 seconds if zero.
	PollingInterval time.Duration
	// HealthyThreshold is the number of consecutive successful checks
	// required before a connection goes from unhealthy to healthy.
	// Defaults to 1 if zero.
	HealthyThreshold int
	// UnhealthyThreshold is the number of consecutive failed checks
	// required before a connection goes from healthy to unhealthy.
	// Defaults to 1 if zero.
	UnhealthyThreshold int
}

type pollingChecker struct {
	config PollingCheckerConfig
	prober Prober
	clock  internal.Clock
}

type pollingCheckerTask struct {
	cancel     context.CancelFunc
	doneSignal chan struct{}
}

// A Prober is a type that can perform single-shot healthchecks against a
// connection.
type Prober interface {
	Probe(ctx context.Context, conn conn.Conn) State
}

type proberFunc func(ctx context.Context, conn conn.Conn) State

// NewPollingChecker creates a new checker that calls a single-shot prober
// on a fixed interval, requiring a configurable number of consecutive
// results before flipping a connection's reported state.
func NewPollingChecker(config PollingCheckerConfig, prober Prober) Checker {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 10 * time.Second
	}
	if config.HealthyThreshold <= 0 {
		config.HealthyThreshold = 1
	}
	if config.UnhealthyThreshold <= 0 {
		config.UnhealthyThreshold = 1
	}
	return &pollingChecker{
		config: config,
		prober: prober,
		clock:  internal.NewRealClock(),
	}
}

// SetPollingClock overrides the clock used by a checker created with
// NewPollingChecker. It exists so tests can drive the polling loop with a
// fake clock instead of a real timer; production callers never need it.
func SetPollingClock(checker Checker, clock internal.Clock) {
	if pc, ok := checker.(*pollingChecker); ok {
		pc.clock = clock
	}
}

// NewSimpleProber creates a new prober that performs an HTTP GET request to
// the provided path. If it returns a successful status (status codes from
// 200-299), the connection is considered healthy. Otherwise, it is
// considered unhealthy.
func NewSimpleProber(url string) Prober {
	return proberFunc(func(ctx context.Context, conn conn.Conn) State {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
		if err != nil {
			return StateUnknown
		}
		resp, err := conn.RoundTrip(req, nil)
		if err != nil {
			return StateUnhealthy
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return StateUnhealthy
		}
		return StateHealthy
	})
}

func (r *pollingChecker) New(
	ctx context.Context,
	connection conn.Conn,
	tracker Tracker,
) io.Closer {
	ctx, cancel := context.WithCancel(ctx)
	task := &pollingCheckerTask{
		cancel:     cancel,
		doneSignal: make(chan struct{}),
	}

	go func() {
		defer close(task.doneSignal)
		defer cancel()

		thresholds := &consecutiveResultCounter{
			healthyThreshold:   r.config.HealthyThreshold,
			unhealthyThreshold: r.config.UnhealthyThreshold,
		}

		ticker := r.clock.NewTicker(r.config.PollingInterval)
		defer ticker.Stop()
		for {
			result := r.prober.Probe(ctx, connection)
			if newState, changed := thresholds.record(result); changed {
				tracker.UpdateHealthState(connection, newState)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
			}
		}
	}()
	return task
}

func (t *pollingCheckerTask) Close() error {
	t.cancel()
	<-t.doneSignal
	return nil
}

func (f proberFunc) Probe(ctx context.Context, conn conn.Conn) State {
	return f(ctx, conn)
}

// consecutiveResultCounter tracks consecutive healthy/unhealthy probe
// results and reports a state transition only once the configured
// threshold of consecutive opposing results is reached. The very first
// result establishes the initial state immediately, with no threshold
// applied, since there's nothing to flip away from yet. A StateUnknown (or
// StateDegraded) probe result doesn't count toward either streak, since it
// asserts neither health nor its absence.
type consecutiveResultCounter struct {
	mu                 sync.Mutex
	healthyThreshold   int
	unhealthyThreshold int
	current            State
	haveCurrent        bool
	pending            State
	pendingCount       int
}

func (c *consecutiveResultCounter) record(result State) (newState State, changed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch result {
	case StateHealthy, StateUnhealthy:
	default:
		return c.current, false
	}

	if !c.haveCurrent {
		c.current = result
		c.haveCurrent = true
		c.pending = result
		c.pendingCount = 0
		return c.current, true
	}

	if result == c.current {
		c.pending = result
		c.pendingCount = 0
		return c.current, false
	}

	if c.pending == result {
		c.pendingCount++
	} else {
		c.pending = result
		c.pendingCount = 1
	}

	threshold := c.unhealthyThreshold
	if result == StateHealthy {
		threshold = c.healthyThreshold
	}
	if c.pendingCount < threshold {
		return c.current, false
	}

	c.current = result
	c.pendingCount = 0
	return c.current, true
}
