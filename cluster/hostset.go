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

import "github.com/fabricproxy/cluster/picker"

// HostSet is an immutable snapshot pairing the full host list for a
// cluster with its healthy subset. healthy_hosts ⊆ all_hosts holds for
// every HostSet that is ever published; callers build a new HostSet
// rather than mutate one in place, so that a published snapshot is never
// observed half-updated.
type HostSet struct {
	all     []*Host
	healthy []*Host
}

// NewHostSet builds a HostSet from the full host list and a health
// predicate. The returned value owns its own slices; the caller's slice
// may be reused afterward.
func NewHostSet(all []*Host, healthy func(*Host) bool) *HostSet {
	allCopy := make([]*Host, len(all))
	copy(allCopy, all)

	healthyHosts := make([]*Host, 0, len(all))
	for _, host := range allCopy {
		if healthy == nil || healthy(host) {
			healthyHosts = append(healthyHosts, host)
		}
	}
	return &HostSet{all: allCopy, healthy: healthyHosts}
}

// All returns every host in the set, healthy or not.
func (s *HostSet) All() []*Host {
	if s == nil {
		return nil
	}
	return s.all
}

// Healthy returns the healthy subset of the set.
func (s *HostSet) Healthy() []*Host {
	if s == nil {
		return nil
	}
	return s.healthy
}

// Len implements picker.Endpoints over the healthy subset: a picker never
// selects an unhealthy host.
func (s *HostSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.healthy)
}

// Get implements picker.Endpoints over the healthy subset.
func (s *HostSet) Get(i int) picker.Endpoint {
	return s.healthy[i]
}

var _ picker.Endpoints = (*HostSet)(nil)

// Diff computes which hosts in next are not present in prev (added) and
// which hosts in prev are not present in next (removed), matching by
// address identity rather than pointer identity, since each resolution
// round constructs fresh Host values. Hosts present in both sets keep
// their prev-side *Host value in neither slice, since existing pools and
// pickers referencing it are still valid.
func Diff(prev, next *HostSet) (added, removed []*Host) {
	prevHosts := prev.All()
	nextHosts := next.All()

	prevByAddr := make(map[string]*Host, len(prevHosts))
	for _, host := range prevHosts {
		prevByAddr[host.address.HostPort] = host
	}
	nextByAddr := make(map[string]*Host, len(nextHosts))
	for _, host := range nextHosts {
		nextByAddr[host.address.HostPort] = host
	}

	for _, host := range nextHosts {
		if _, ok := prevByAddr[host.address.HostPort]; !ok {
			added = append(added, host)
		}
	}
	for _, host := range prevHosts {
		if _, ok := nextByAddr[host.address.HostPort]; !ok {
			removed = append(removed, host)
		}
	}
	return added, removed
}
