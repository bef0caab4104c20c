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

package cluster

import (
	"sync/atomic"

	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

var _ picker.Endpoint = (*Host)(nil)

// Host is an immutable description of a single backend endpoint. Hosts are
// shared: the cluster's host set, any load balancer pickers built from it,
// and in-flight connection-pool callbacks may all hold a reference to the
// same Host well after a membership update has moved on. A Host is
// reference-counted for that reason, rather than tied to any one owner's
// lifetime.
type Host struct {
	clusterName string
	hostname    string
	address     resolver.Address
	canary      bool
	weight      uint32
	zone        string

	refs atomic.Int64
}

// NewHost constructs a Host for the given cluster with one live reference,
// owned by the caller (conventionally, the HostSet that first publishes
// it). hostname is the DNS name that produced address, if any; it is empty
// for statically configured or EDS-sourced hosts.
func NewHost(clusterName, hostname string, address resolver.Address, canary bool, weight uint32, zone string) *Host {
	host := &Host{
		clusterName: clusterName,
		hostname:    hostname,
		address:     address,
		canary:      canary,
		weight:      weight,
		zone:        zone,
	}
	host.refs.Store(1)
	return host
}

// ClusterName is the name of the cluster this host belongs to.
func (h *Host) ClusterName() string { return h.clusterName }

// Hostname is the DNS name that resolved to this host's address, or empty
// if this host wasn't created from DNS resolution.
func (h *Host) Hostname() string { return h.hostname }

// Address is the resolved network address of this host.
func (h *Host) Address() resolver.Address { return h.address }

// HostPort implements picker.Endpoint, so a Host can be picked directly.
func (h *Host) HostPort() string { return h.address.HostPort }

// Canary reports whether this host is flagged as a canary instance.
func (h *Host) Canary() bool { return h.canary }

// Weight is this host's load-balancing weight. Zero means "unweighted",
// equivalent to a weight of 1 for policies that honor weight.
func (h *Host) Weight() uint32 { return h.weight }

// Zone is this host's locality zone, or empty if unknown.
func (h *Host) Zone() string { return h.zone }

// Retain adds a reference to this host. Every Retain must be matched with a
// Release. Pools and callbacks that outlive a membership update call this
// when they capture a Host beyond the update that produced it.
func (h *Host) Retain() {
	h.refs.Add(1)
}

// Release drops a reference to this host. It reports whether that was the
// last reference. Hosts don't free any resource of their own on last
// release -- Go's collector owns that -- but callers (notably the
// connection-pool registry) use the return value to know when it's safe to
// finish tearing down state keyed by this host.
func (h *Host) Release() (last bool) {
	return h.refs.Add(-1) == 0
}

// RefCount returns the current number of live references. It exists
// primarily for tests that assert on host lifetime.
func (h *Host) RefCount() int64 {
	return h.refs.Load()
}
