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

package clustermanager

import (
	"context"
	"io"
	"sync"

	"github.com/fabricproxy/cluster/cluster"
	"github.com/fabricproxy/cluster/conn"
	"github.com/fabricproxy/cluster/connpool"
	"github.com/fabricproxy/cluster/health"
)

// healthDriver runs the active health-check loop for one cluster that
// declared a health_check block: one polling checker per host, probing the
// same pooled connection the data path would otherwise open (worker 0's
// registry owns it), with results fed back into the cluster's own host set
// through UpdateHealthState -- the one thing the load balancer actually
// reads. It tracks membership via AddMemberUpdateCb, so hosts added or
// removed after construction start or stop their own check.
type healthDriver struct {
	cancel context.CancelFunc
	remove func()

	mu    sync.Mutex
	tasks map[string]io.Closer
}

// newHealthDriver starts checking every host currently in c's host set and
// registers for future membership changes. registry and options come from
// worker 0, so health-check traffic reuses that worker's connection pools.
func newHealthDriver(parent context.Context, registry *connpool.Registry, c cluster.Cluster, cfg cluster.HealthCheckConfig, options connpool.RoundTripperOptions) *healthDriver {
	ctx, cancel := context.WithCancel(parent)
	d := &healthDriver{cancel: cancel, tasks: make(map[string]io.Closer)}
	tracker := &healthTracker{cluster: c}

	start := func(hosts []*cluster.Host) {
		for _, h := range hosts {
			d.start(ctx, registry, h, cfg, options, tracker)
		}
	}
	d.remove = c.AddMemberUpdateCb(func(added, removed []*cluster.Host) {
		start(added)
		d.stop(removed)
	})
	start(c.HostSet().All())
	return d
}

func (d *healthDriver) start(ctx context.Context, registry *connpool.Registry, h *cluster.Host, cfg cluster.HealthCheckConfig, options connpool.RoundTripperOptions, tracker *healthTracker) {
	hostPort := h.HostPort()

	d.mu.Lock()
	if _, ok := d.tasks[hostPort]; ok {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	pool := registry.PoolForHost(h, cluster.Default, options)
	c := pool.Conn()
	checker := health.NewPollingChecker(health.PollingCheckerConfig{
		PollingInterval:    cfg.Interval,
		HealthyThreshold:   cfg.HealthyThreshold,
		UnhealthyThreshold: cfg.UnhealthyThreshold,
	}, health.NewSimpleProber(c.Scheme()+"://"+c.Address().HostPort+cfg.Path))
	task := checker.New(ctx, c, tracker)

	d.mu.Lock()
	d.tasks[hostPort] = task
	d.mu.Unlock()
}

func (d *healthDriver) stop(hosts []*cluster.Host) {
	d.mu.Lock()
	var closers []io.Closer
	for _, h := range hosts {
		hostPort := h.HostPort()
		if c, ok := d.tasks[hostPort]; ok {
			closers = append(closers, c)
			delete(d.tasks, hostPort)
		}
	}
	d.mu.Unlock()
	for _, c := range closers {
		c.Close()
	}
}

// shutdown stops every running check task and detaches the membership
// callback. Called once, when the cluster it watches is removed or
// replaced.
func (d *healthDriver) shutdown() {
	d.cancel()
	d.remove()
	d.mu.Lock()
	closers := make([]io.Closer, 0, len(d.tasks))
	for _, c := range d.tasks {
		closers = append(closers, c)
	}
	d.tasks = nil
	d.mu.Unlock()
	for _, c := range closers {
		c.Close()
	}
}

// healthTracker adapts a cluster.Cluster into a health.Tracker: every
// reported state change becomes a host-keyed override on the cluster's own
// host set. A pollingChecker only ever reports StateHealthy or
// StateUnhealthy (never Unknown or Degraded), so the translation below is
// exact.
type healthTracker struct {
	cluster cluster.Cluster
}

func (t *healthTracker) UpdateHealthState(c conn.Conn, state health.State) {
	t.cluster.UpdateHealthState(c.Address().HostPort, state == health.StateHealthy)
}
