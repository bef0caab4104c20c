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

package connpool

import (
	"context"
	"net/http"
	"sync"

	"github.com/fabricproxy/cluster/cluster"
)

// Metrics receives the counters a Registry touches on the data path. Nil is
// a valid *Metrics, every method is nil-safe. NoneHealthy is passed the
// name of the cluster that had no healthy host, so a single Metrics value
// can back every cluster a worker's Registry ever looks up.
type Metrics struct {
	NoneHealthy func(clusterName string)
}

func (m *Metrics) noneHealthy(clusterName string) {
	if m != nil && m.NoneHealthy != nil {
		m.NoneHealthy(clusterName)
	}
}

// Registry is the per-worker-thread cache of connection pools, keyed by
// (host, priority). There is exactly one Registry per worker thread; it is
// not meant to be shared across threads.
type Registry struct {
	factory RoundTripperFactory
	metrics *Metrics

	mu    sync.Mutex
	pools map[poolKey]*Pool
}

type poolKey struct {
	hostPort string
	priority cluster.Priority
}

// NewRegistry creates an empty Registry. factory builds the leaf transport
// for each pool's connection; metrics may be nil.
func NewRegistry(factory RoundTripperFactory, metrics *Metrics) *Registry {
	if factory == nil {
		factory = DefaultRoundTripperFactory()
	}
	return &Registry{
		factory: factory,
		metrics: metrics,
		pools:   make(map[poolKey]*Pool),
	}
}

// Lookup asks c's load balancer to pick a host and returns the pool for
// (host, priority), creating it on first use. It returns a nil *PoolHandle
// (and a nil error) when the load balancer has no healthy host to offer,
// per lookup(cluster_name, priority, downstream_context) -> pool | nullopt.
func (r *Registry) Lookup(ctx context.Context, c cluster.Cluster, priority cluster.Priority, options RoundTripperOptions) (*PoolHandle, error) {
	picker := c.LoadBalancer()
	endpoint, whenDone, err := picker.Pick(ctx)
	if err != nil {
		r.metrics.noneHealthy(c.Info().Name)
		return nil, nil //nolint:nilnil // nullopt is a valid, non-error outcome here
	}
	host, ok := endpoint.(*cluster.Host)
	if !ok {
		r.metrics.noneHealthy(c.Info().Name)
		return nil, nil //nolint:nilnil
	}
	pool := r.poolFor(host, priority, options)
	return &PoolHandle{pool: pool, whenDone: whenDone}, nil
}

// PoolHandle couples a looked-up Pool with the picker's whenDone callback
// for the request that selected it; RoundTrip makes sure both the caller's
// completion hook and the picker's load-accounting hook run when the
// request finishes.
type PoolHandle struct {
	pool     *Pool
	whenDone func()
}

// Pool returns the underlying pool.
func (h *PoolHandle) Pool() *Pool { return h.pool }

// RoundTrip sends req over the looked-up pool.
func (h *PoolHandle) RoundTrip(req *http.Request, whenDone func()) (*http.Response, error) {
	return h.pool.RoundTrip(req, func() {
		if whenDone != nil {
			whenDone()
		}
		if h.whenDone != nil {
			h.whenDone()
		}
	})
}

// PoolForHost returns the pool for (host, priority), creating it on first
// use, without consulting the cluster's load balancer. An active health
// checker uses this to probe every host in a cluster rather than whichever
// one the picker would currently choose.
func (r *Registry) PoolForHost(host *cluster.Host, priority cluster.Priority, options RoundTripperOptions) *Pool {
	return r.poolFor(host, priority, options)
}

func (r *Registry) poolFor(host *cluster.Host, priority cluster.Priority, options RoundTripperOptions) *Pool {
	key := poolKey{hostPort: host.HostPort(), priority: priority}

	r.mu.Lock()
	defer r.mu.Unlock()
	if pool, ok := r.pools[key]; ok {
		return pool
	}
	pool := newPool(host, priority, r.factory, options)
	r.pools[key] = pool
	return pool
}

// RemoveHost schedules the drain of every pool this registry holds for
// host, across every priority. A pool that was never looked up for this
// host triggers no drain callback at all, matching the teacher's
// idle-pool-never-existed case. post is supplied by the thread's
// dispatcher: it schedules the pool's removal from the registry for
// execution back on the owning worker thread once the drain completes, so
// the map is only ever mutated on that thread.
func (r *Registry) RemoveHost(host *cluster.Host, post func(func())) {
	hostPort := host.HostPort()
	for _, priority := range []cluster.Priority{cluster.Default, cluster.High} {
		key := poolKey{hostPort: hostPort, priority: priority}

		r.mu.Lock()
		pool, ok := r.pools[key]
		r.mu.Unlock()
		if !ok {
			continue
		}

		pool.drain(func() {
			post(func() {
				r.mu.Lock()
				delete(r.pools, key)
				r.mu.Unlock()
			})
		})
	}
}

// Len reports how many pools are currently cached, for tests and stats.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pools)
}
