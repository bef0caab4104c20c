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

// Package clustermanager implements the authoritative cluster registry:
// add/update/remove of clusters at runtime, the two-phase initialization
// protocol (see InitHelper), and the worker-thread-local data path
// (get, the connection-pool lookups) that serves live traffic.
package clustermanager

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/fabricproxy/cluster/cluster"
	"github.com/fabricproxy/cluster/conn"
	"github.com/fabricproxy/cluster/connpool"
)

// Counters receives the manager's stats events. Nil is a valid *Counters;
// every field may be left nil.
type Counters struct {
	ClusterAdded    func()
	ClusterModified func()
	ClusterRemoved  func()
	TotalClusters   func(int)
}

func (c *Counters) clusterAdded() {
	if c != nil && c.ClusterAdded != nil {
		c.ClusterAdded()
	}
}

func (c *Counters) clusterModified() {
	if c != nil && c.ClusterModified != nil {
		c.ClusterModified()
	}
}

func (c *Counters) clusterRemoved() {
	if c != nil && c.ClusterRemoved != nil {
		c.ClusterRemoved()
	}
}

func (c *Counters) totalClusters(n int) {
	if c != nil && c.TotalClusters != nil {
		c.TotalClusters(n)
	}
}

// managedCluster is the manager's bookkeeping record for one registered
// cluster, static or api-managed.
type managedCluster struct {
	cluster cluster.Cluster
	hash    string
	static  bool
	// crossClusterCbRemovers undoes any AddMemberUpdateCb this cluster
	// registered on other clusters (e.g. for locality-aware routing), so
	// that those callbacks never fire after this cluster is removed.
	crossClusterCbRemovers []func()
}

// workerState is one worker thread's view of the cluster set: its own
// connection-pool registry, and a thread-local name -> cluster map that
// is only ever mutated by closures posted from the main thread.
type workerState struct {
	dispatcher *Dispatcher
	registry   *connpool.Registry

	mu       sync.RWMutex
	clusters map[string]cluster.Cluster
}

func newWorkerState(factory connpool.RoundTripperFactory, metrics *connpool.Metrics) *workerState {
	return &workerState{
		dispatcher: NewDispatcher(),
		registry:   connpool.NewRegistry(factory, metrics),
		clusters:   make(map[string]cluster.Cluster),
	}
}

func (w *workerState) setClusterLocal(name string, c cluster.Cluster) {
	w.mu.Lock()
	w.clusters[name] = c
	w.mu.Unlock()
}

func (w *workerState) removeClusterLocal(name string) {
	w.mu.Lock()
	delete(w.clusters, name)
	w.mu.Unlock()
}

func (w *workerState) getClusterLocal(name string) (cluster.Cluster, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c, ok := w.clusters[name]
	return c, ok
}

// Manager is the authoritative cluster registry: the single place that
// decides when clusters are added, updated, or removed, and the owner of
// the per-worker connection-pool caches that serve the data path.
type Manager struct {
	ctx                 context.Context
	init                *InitHelper
	roundTripperFactory connpool.RoundTripperFactory
	counters            *Counters
	workers             []*workerState

	mu       sync.Mutex
	clusters map[string]*managedCluster

	healthMu      sync.Mutex
	healthDrivers map[string]*healthDriver
}

// NewManager creates an empty Manager with workerCount worker threads.
// factory, counters, and connMetrics may all be nil. The manager is not
// ready for use until its clusters are installed; prefer Construct for
// the usual bootstrap-driven startup path.
func NewManager(ctx context.Context, workerCount int, factory connpool.RoundTripperFactory, counters *Counters, connMetrics *connpool.Metrics, cdsDriver CDSDriver) *Manager {
	if factory == nil {
		factory = connpool.DefaultRoundTripperFactory()
	}
	m := &Manager{
		ctx:                 ctx,
		roundTripperFactory: factory,
		counters:            counters,
		clusters:            make(map[string]*managedCluster),
		healthDrivers:       make(map[string]*healthDriver),
	}
	for i := 0; i < workerCount; i++ {
		m.workers = append(m.workers, newWorkerState(factory, connMetrics))
	}
	m.init = NewInitHelper(ctx, cdsDriver)
	return m
}

// Construct builds a Manager from a bootstrap's static cluster list,
// validating cluster names and local_cluster_name the way construction is
// required to: fatally, before anything is returned to the caller.
func Construct(ctx context.Context, descriptors []cluster.Descriptor, localClusterName string, workerCount int, factory connpool.RoundTripperFactory, counters *Counters, connMetrics *connpool.Metrics, cdsDriver CDSDriver) (*Manager, error) {
	seen := make(map[string]bool, len(descriptors))
	for _, d := range descriptors {
		if seen[d.Name] {
			return nil, fmt.Errorf("clustermanager: duplicate cluster name %q", d.Name)
		}
		seen[d.Name] = true
	}
	if localClusterName != "" && !seen[localClusterName] {
		return nil, fmt.Errorf("clustermanager: local_cluster_name %q not present in static cluster list", localClusterName)
	}

	m := NewManager(ctx, workerCount, factory, counters, connMetrics, cdsDriver)
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("clustermanager: cluster %q: %w", d.Name, err)
		}
		c, err := cluster.NewFromDescriptor(d)
		if err != nil {
			return nil, fmt.Errorf("clustermanager: cluster %q: %w", d.Name, err)
		}
		m.install(d.Name, c, d.ContentHash(), true)
		m.counters.clusterAdded()
	}
	m.FlushWorkers()
	m.init.OnStaticLoadComplete()
	return m, nil
}

// install registers c under name, propagates it to every worker, and
// hands it to the init helper. Callers must not hold m.mu.
func (m *Manager) install(name string, c cluster.Cluster, hash string, static bool) {
	m.mu.Lock()
	m.clusters[name] = &managedCluster{cluster: c, hash: hash, static: static}
	total := len(m.clusters)
	m.mu.Unlock()

	for _, w := range m.workers {
		w := w
		w.dispatcher.Post(func() { w.setClusterLocal(name, c) })
	}

	c.SetInitializedCb(func() { m.init.onClusterInitialized(c) })
	m.init.AddCluster(c)

	m.startHealthChecks(name, c)

	m.counters.totalClusters(total)
}

// startHealthChecks starts c's active health-check driver if its
// descriptor declares a health_check block, using worker 0's connection
// pools. A cluster without one gets no driver at all.
func (m *Manager) startHealthChecks(name string, c cluster.Cluster) {
	cfg := c.Info().HealthCheck
	if cfg == nil || len(m.workers) == 0 {
		return
	}
	w := m.workers[0]
	driver := newHealthDriver(m.ctx, w.registry, c, *cfg, roundTripperOptionsFor(c))

	m.healthMu.Lock()
	m.healthDrivers[name] = driver
	m.healthMu.Unlock()
}

// stopHealthChecks tears down name's health-check driver, if it has one.
func (m *Manager) stopHealthChecks(name string) {
	m.healthMu.Lock()
	driver, ok := m.healthDrivers[name]
	delete(m.healthDrivers, name)
	m.healthMu.Unlock()
	if ok {
		driver.shutdown()
	}
}

// AddOrUpdatePrimaryCluster installs a new cluster, or replaces an
// existing api-managed one, from a descriptor. It returns false without
// effect if the content hash is unchanged or if name belongs to a static
// cluster.
func (m *Manager) AddOrUpdatePrimaryCluster(d cluster.Descriptor) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, err
	}
	hash := d.ContentHash()

	m.mu.Lock()
	existing, ok := m.clusters[d.Name]
	if ok {
		if existing.hash == hash {
			m.mu.Unlock()
			return false, nil
		}
		if existing.static {
			m.mu.Unlock()
			return false, nil
		}
	}
	m.mu.Unlock()

	c, err := cluster.NewFromDescriptor(d)
	if err != nil {
		return false, err
	}

	if ok {
		m.drainRemoved(d.Name, existing)
		m.counters.clusterModified()
	} else {
		m.counters.clusterAdded()
	}
	m.install(d.Name, c, hash, false)
	return true, nil
}

// APIManagedClusterNames returns the names of every currently registered
// cluster that was added via the dynamic API (as opposed to the static
// bootstrap list). A CDS driver uses this to diff its updates against the
// clusters it already owns.
func (m *Manager) APIManagedClusterNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.clusters))
	for name, mc := range m.clusters {
		if !mc.static {
			names = append(names, name)
		}
	}
	return names
}

// RemovePrimaryCluster schedules the named api-managed cluster for
// removal: it is unregistered from the init helper, detached from every
// worker's thread-local map, and its pools are drained. Static clusters
// are never removed this way.
func (m *Manager) RemovePrimaryCluster(name string) bool {
	m.mu.Lock()
	existing, ok := m.clusters[name]
	if !ok || existing.static {
		m.mu.Unlock()
		return false
	}
	delete(m.clusters, name)
	total := len(m.clusters)
	m.mu.Unlock()

	m.init.RemoveCluster(existing.cluster)
	for _, remove := range existing.crossClusterCbRemovers {
		remove()
	}
	m.drainRemoved(name, existing)
	m.counters.clusterRemoved()
	m.counters.totalClusters(total)
	return true
}

// drainRemoved detaches the removed cluster from every worker's
// thread-local map and drains every pool its hosts have on every worker.
// The removed cluster is kept reachable from each drain closure until
// that closure runs, per the "pool drain ownership" rule: a removed
// cluster must outlive its pools.
func (m *Manager) drainRemoved(name string, removed *managedCluster) {
	m.stopHealthChecks(name)

	hosts := removed.cluster.HostSet().All()
	for _, w := range m.workers {
		w := w
		w.dispatcher.Post(func() { w.removeClusterLocal(name) })
		for _, h := range hosts {
			h := h
			removedCluster := removed.cluster
			w.registry.RemoveHost(h, func(deferredDelete func()) {
				w.dispatcher.Post(func() {
					deferredDelete()
					_ = removedCluster
				})
			})
		}
	}
	removed.cluster.Shutdown()
}

// Get returns the cluster registered under name, if any.
func (m *Manager) Get(name string) (cluster.Cluster, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.clusters[name]
	if !ok {
		return nil, false
	}
	return mc.cluster, true
}

// SetInitializedCb registers cb to fire exactly once, when every
// currently-registered cluster (and CDS, if configured) has initialized.
func (m *Manager) SetInitializedCb(cb func()) {
	m.init.SetInitializedCb(cb)
}

// FlushWorker blocks until every update posted to worker i so far has
// been applied.
func (m *Manager) FlushWorker(i int) {
	m.workers[i].dispatcher.Flush()
}

// FlushWorkers blocks until every worker has applied every update posted
// to it so far.
func (m *Manager) FlushWorkers() {
	for i := range m.workers {
		m.FlushWorker(i)
	}
}

func (m *Manager) workerCluster(workerIndex int, name string) (*workerState, cluster.Cluster, error) {
	if workerIndex < 0 || workerIndex >= len(m.workers) {
		return nil, nil, fmt.Errorf("clustermanager: invalid worker index %d", workerIndex)
	}
	w := m.workers[workerIndex]
	c, ok := w.getClusterLocal(name)
	if !ok {
		return nil, nil, &UnknownClusterError{Name: name}
	}
	return w, c, nil
}

func roundTripperOptionsFor(c cluster.Cluster) connpool.RoundTripperOptions {
	return connpool.RoundTripperOptions{PerConnectionBufferLimitBytes: c.Info().PerConnectionBufferLimitBytes}
}

// HTTPConnPoolForCluster returns the connection pool for an LB-chosen
// host of the named cluster, on the given worker thread. It returns a nil
// handle (and a nil error) when the load balancer has no healthy host.
func (m *Manager) HTTPConnPoolForCluster(workerIndex int, name string, priority cluster.Priority, ctx context.Context) (*connpool.PoolHandle, error) {
	w, c, err := m.workerCluster(workerIndex, name)
	if err != nil {
		return nil, err
	}
	return w.registry.Lookup(ctx, c, priority, roundTripperOptionsFor(c))
}

// TCPConnForCluster returns an LB-chosen connection and the host it
// belongs to, on the given worker thread. The connection is nil if no
// healthy host is available; the host is still returned if one was
// nonetheless selected (it never is, in that case) so callers can always
// safely check the connection alone.
func (m *Manager) TCPConnForCluster(workerIndex int, name string) (conn.Conn, *cluster.Host, error) {
	w, c, err := m.workerCluster(workerIndex, name)
	if err != nil {
		return nil, nil, err
	}
	handle, err := w.registry.Lookup(context.Background(), c, cluster.Default, roundTripperOptionsFor(c))
	if err != nil || handle == nil {
		return nil, nil, err
	}
	return handle.Pool().Conn(), handle.Pool().Host(), nil
}

// managerRoundTripper routes every request through HTTPConnPoolForCluster
// for a fixed cluster and worker, so HTTPAsyncClientForCluster can hand
// back a plain *http.Client.
type managerRoundTripper struct {
	manager     *Manager
	workerIndex int
	clusterName string
}

func (rt *managerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	handle, err := rt.manager.HTTPConnPoolForCluster(rt.workerIndex, rt.clusterName, cluster.Default, req.Context())
	if err != nil {
		return nil, err
	}
	if handle == nil {
		return nil, cluster.ErrNoHealthyHost
	}
	return handle.RoundTrip(req, nil)
}

// HTTPAsyncClientForCluster returns a long-lived *http.Client that routes
// every request to the named cluster, using worker 0's connection pools.
func (m *Manager) HTTPAsyncClientForCluster(name string) (*http.Client, error) {
	if _, ok := m.Get(name); !ok {
		return nil, &UnknownClusterError{Name: name}
	}
	return &http.Client{Transport: &managerRoundTripper{manager: m, clusterName: name}}, nil
}
