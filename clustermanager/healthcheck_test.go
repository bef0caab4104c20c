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
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fabricproxy/cluster/cluster"
	"github.com/fabricproxy/cluster/connpool"
	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

// healthFakeCluster is a minimal cluster.Cluster that genuinely stores and
// fires its member-update callback and records every UpdateHealthState
// call, so these tests can drive a healthDriver the way the manager does
// without standing up a full static or strict_dns cluster.
type healthFakeCluster struct {
	hosts []*cluster.Host

	mu        sync.Mutex
	cb        cluster.MemberUpdateFunc
	overrides map[string]bool
}

func newHealthFakeCluster(hosts ...*cluster.Host) *healthFakeCluster {
	return &healthFakeCluster{hosts: hosts, overrides: make(map[string]bool)}
}

func (f *healthFakeCluster) Info() cluster.Descriptor       { return cluster.Descriptor{Name: "fake"} }
func (f *healthFakeCluster) InitializePhase() cluster.Phase { return cluster.Primary }
func (f *healthFakeCluster) Initialize(context.Context)     {}
func (f *healthFakeCluster) HostSet() *cluster.HostSet      { return cluster.NewHostSet(f.hosts, nil) }
func (f *healthFakeCluster) LoadBalancer() picker.Picker    { return nil }
func (f *healthFakeCluster) SetInitializedCb(func())        {}
func (f *healthFakeCluster) Shutdown()                      {}

func (f *healthFakeCluster) AddMemberUpdateCb(cb cluster.MemberUpdateFunc) func() {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.cb = nil
		f.mu.Unlock()
	}
}

func (f *healthFakeCluster) fire(added, removed []*cluster.Host) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil {
		cb(added, removed)
	}
}

func (f *healthFakeCluster) UpdateHealthState(hostPort string, healthy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.overrides[hostPort] = healthy
}

func (f *healthFakeCluster) healthState(hostPort string) (healthy, recorded bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	healthy, recorded = f.overrides[hostPort]
	return healthy, recorded
}

var _ cluster.Cluster = (*healthFakeCluster)(nil)

func newTestHostFor(t *testing.T, server *httptest.Server) *cluster.Host {
	t.Helper()
	hostPort := strings.TrimPrefix(server.URL, "http://")
	return cluster.NewHost("fake", "", resolver.Address{HostPort: hostPort}, false, 0, "")
}

func TestHealthDriver_MarksHostUnhealthyAfterFailingProbes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	host := newTestHostFor(t, server)
	fc := newHealthFakeCluster(host)
	registry := connpool.NewRegistry(connpool.DefaultRoundTripperFactory(), nil)

	driver := newHealthDriver(context.Background(), registry, fc, cluster.HealthCheckConfig{
		Path:               "/healthz",
		Interval:           5 * time.Millisecond,
		UnhealthyThreshold: 1,
	}, connpool.RoundTripperOptions{})
	defer driver.shutdown()

	require.Eventually(t, func() bool {
		healthy, recorded := fc.healthState(host.HostPort())
		return recorded && !healthy
	}, time.Second, 5*time.Millisecond)
}

func TestHealthDriver_RecordsHealthyWhenProbesSucceed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	host := newTestHostFor(t, server)
	fc := newHealthFakeCluster(host)
	registry := connpool.NewRegistry(connpool.DefaultRoundTripperFactory(), nil)

	driver := newHealthDriver(context.Background(), registry, fc, cluster.HealthCheckConfig{
		Path:             "/healthz",
		Interval:         5 * time.Millisecond,
		HealthyThreshold: 1,
	}, connpool.RoundTripperOptions{})
	defer driver.shutdown()

	require.Eventually(t, func() bool {
		healthy, recorded := fc.healthState(host.HostPort())
		return recorded && healthy
	}, time.Second, 5*time.Millisecond)
}

func TestHealthDriver_StopsTaskWhenHostRemoved(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	host := newTestHostFor(t, server)
	fc := newHealthFakeCluster(host)
	registry := connpool.NewRegistry(connpool.DefaultRoundTripperFactory(), nil)

	driver := newHealthDriver(context.Background(), registry, fc, cluster.HealthCheckConfig{
		Path:     "/healthz",
		Interval: 5 * time.Millisecond,
	}, connpool.RoundTripperOptions{})
	defer driver.shutdown()

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		n := len(driver.tasks)
		driver.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	fc.fire(nil, []*cluster.Host{host})

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		n := len(driver.tasks)
		driver.mu.Unlock()
		return n == 0
	}, time.Second, 5*time.Millisecond)
}

func TestHealthDriver_StartsTaskWhenHostAdded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	fc := newHealthFakeCluster()
	registry := connpool.NewRegistry(connpool.DefaultRoundTripperFactory(), nil)

	driver := newHealthDriver(context.Background(), registry, fc, cluster.HealthCheckConfig{
		Path:     "/healthz",
		Interval: 5 * time.Millisecond,
	}, connpool.RoundTripperOptions{})
	defer driver.shutdown()

	host := newTestHostFor(t, server)
	fc.fire([]*cluster.Host{host}, nil)

	require.Eventually(t, func() bool {
		healthy, recorded := fc.healthState(host.HostPort())
		return recorded && healthy
	}, time.Second, 5*time.Millisecond)
}

func TestHealthDriver_ShutdownStopsAllTasksAndDetaches(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	host := newTestHostFor(t, server)
	fc := newHealthFakeCluster(host)
	registry := connpool.NewRegistry(connpool.DefaultRoundTripperFactory(), nil)

	driver := newHealthDriver(context.Background(), registry, fc, cluster.HealthCheckConfig{
		Path:     "/healthz",
		Interval: 5 * time.Millisecond,
	}, connpool.RoundTripperOptions{})

	require.Eventually(t, func() bool {
		driver.mu.Lock()
		n := len(driver.tasks)
		driver.mu.Unlock()
		return n == 1
	}, time.Second, 5*time.Millisecond)

	driver.shutdown()

	driver.mu.Lock()
	require.Empty(t, driver.tasks)
	driver.mu.Unlock()

	fc.mu.Lock()
	cb := fc.cb
	fc.mu.Unlock()
	require.Nil(t, cb, "shutdown must detach the member-update callback")
}
