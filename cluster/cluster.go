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

// Package cluster implements the polymorphic Cluster unit: a named pool
// of backend hosts with a shared load-balancing policy, one of five
// variants (Static, StrictDNS, LogicalDNS, EDS, OriginalDst) dispatched
// from a Descriptor by NewFromDescriptor.
package cluster

import (
	"context"
	"sort"
	"sync"

	"github.com/fabricproxy/cluster/picker"
)

// Phase says whether a cluster's initialization can proceed on its own
// (Primary) or must wait for some other cluster -- typically the one
// hosting its EDS service -- to become ready first (Secondary).
type Phase int

const (
	Primary Phase = iota
	Secondary
)

// MemberUpdateFunc is invoked whenever a cluster's host set changes, with
// the hosts added and removed by that change. Invocation order among
// multiple callbacks registered on the same cluster is unspecified but
// stable from one call to the next.
type MemberUpdateFunc func(added, removed []*Host)

// Cluster is the capability set common to every cluster variant: a host
// set, a load balancer, and the two init/member-update callback
// registration points used by the cluster manager and by other clusters
// (e.g. for locality-aware load balancing).
type Cluster interface {
	// Info returns this cluster's descriptor, as last applied.
	Info() Descriptor
	// InitializePhase reports whether this cluster initializes
	// independently (Primary) or depends on another cluster (Secondary).
	InitializePhase() Phase
	// Initialize begins whatever work this cluster needs before it is
	// ready to serve traffic (DNS resolution, a first EDS response,
	// and so on). It must eventually invoke its initialize callback
	// exactly once, even if it starts with zero hosts.
	Initialize(ctx context.Context)
	// HostSet returns the cluster's current host set snapshot.
	HostSet() *HostSet
	// LoadBalancer returns the picker.Picker currently built for this
	// cluster's healthy host set.
	LoadBalancer() picker.Picker
	// AddMemberUpdateCb registers a callback invoked on every host set
	// change. It returns a function that deregisters the callback; the
	// cluster manager calls it to detach callbacks a removed cluster
	// registered on another cluster.
	AddMemberUpdateCb(cb MemberUpdateFunc) (remove func())
	// SetInitializedCb registers the callback invoked exactly once when
	// this cluster transitions to ready. Calling it after the cluster is
	// already initialized fires cb synchronously.
	SetInitializedCb(cb func())
	// UpdateHealthState overrides the healthy/unhealthy state of one host
	// in this cluster's current host set, as reported by an active health
	// checker keyed on hostPort. It narrows or widens the load balancer's
	// view of the healthy subset without adding or removing members, so
	// it never drives a member-update callback.
	UpdateHealthState(hostPort string, healthy bool)
	// Shutdown releases any resources (resolver tasks and the like) this
	// cluster holds directly. Called once, when the cluster is removed.
	// Active health checking, if any, is owned and stopped separately by
	// whatever started it against this cluster's UpdateHealthState.
	Shutdown()
}

// base implements the callback bookkeeping shared by every cluster
// variant: exactly-once initialize firing, member-update dispatch, and
// thread-safe host set publication. Variants embed base and call
// b.publish / b.fireInitialized from their own resolution logic.
type base struct {
	name string

	mu             sync.Mutex
	hostSet        *HostSet
	healthOverride map[string]bool // hostPort -> actively unhealthy, via UpdateHealthState
	picker         picker.Picker
	pickerFactory  picker.Factory
	memberCbs      map[int]MemberUpdateFunc
	nextMemberCbID int
	initialized    bool
	initializedCb  func()
}

func newBase(name string, pickerFactory picker.Factory) *base {
	return &base{
		name:          name,
		hostSet:       NewHostSet(nil, nil),
		pickerFactory: pickerFactory,
		memberCbs:     make(map[int]MemberUpdateFunc),
	}
}

// publish installs a new host set, builds a new picker from it (carrying
// forward the previous picker's state), and invokes every registered
// member-update callback with the diff against the previous host set.
// Callers must not hold b.mu.
func (b *base) publish(next *HostSet) {
	b.mu.Lock()
	prev := b.hostSet
	b.hostSet = next
	b.pruneHealthOverrideLocked(next)
	b.rebuildPickerLocked(next)
	ids := make([]int, 0, len(b.memberCbs))
	for id := range b.memberCbs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	callbacks := make([]MemberUpdateFunc, 0, len(ids))
	for _, id := range ids {
		callbacks = append(callbacks, b.memberCbs[id])
	}
	b.mu.Unlock()

	added, removed := Diff(prev, next)
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	for _, cb := range callbacks {
		cb(added, removed)
	}
}

// effectiveLocked narrows set's healthy subset by any active health-check
// overrides recorded via UpdateHealthState. Callers must hold b.mu.
func (b *base) effectiveLocked(set *HostSet) *HostSet {
	if len(b.healthOverride) == 0 {
		return set
	}
	healthy := set.Healthy()
	filtered := make([]*Host, 0, len(healthy))
	for _, h := range healthy {
		if !b.healthOverride[h.HostPort()] {
			filtered = append(filtered, h)
		}
	}
	return &HostSet{all: set.All(), healthy: filtered}
}

// pruneHealthOverrideLocked drops any override recorded against a hostPort
// that next no longer lists at all, so a host's check result doesn't
// outlive the host itself in memory. Callers must hold b.mu.
func (b *base) pruneHealthOverrideLocked(next *HostSet) {
	if len(b.healthOverride) == 0 {
		return
	}
	present := make(map[string]bool, len(next.All()))
	for _, h := range next.All() {
		present[h.HostPort()] = true
	}
	for hostPort := range b.healthOverride {
		if !present[hostPort] {
			delete(b.healthOverride, hostPort)
		}
	}
}

// rebuildPickerLocked regenerates b.picker from raw's health-overridden
// view, or installs an error picker outright if that leaves no healthy
// host -- a factory's own picker implementation need not handle the
// zero-endpoint case itself. Callers must hold b.mu.
func (b *base) rebuildPickerLocked(raw *HostSet) {
	effective := b.effectiveLocked(raw)
	if effective.Len() == 0 {
		b.picker = picker.ErrorPicker(ErrNoHealthyHost)
		return
	}
	b.picker = b.pickerFactory.New(b.picker, effective)
}

// UpdateHealthState implements Cluster.
func (b *base) UpdateHealthState(hostPort string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasOverridden := b.healthOverride[hostPort]
	if healthy == !wasOverridden {
		return // no change
	}
	if b.healthOverride == nil {
		b.healthOverride = make(map[string]bool)
	}
	if healthy {
		delete(b.healthOverride, hostPort)
	} else {
		b.healthOverride[hostPort] = true
	}
	b.rebuildPickerLocked(b.hostSet)
}

func (b *base) HostSet() *HostSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hostSet
}

func (b *base) LoadBalancer() picker.Picker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.picker == nil {
		return picker.ErrorPicker(ErrNoHealthyHost)
	}
	return b.picker
}

func (b *base) AddMemberUpdateCb(cb MemberUpdateFunc) (remove func()) {
	b.mu.Lock()
	id := b.nextMemberCbID
	b.nextMemberCbID++
	b.memberCbs[id] = cb
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.memberCbs, id)
		b.mu.Unlock()
	}
}

func (b *base) SetInitializedCb(cb func()) {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		cb()
		return
	}
	b.initializedCb = cb
	b.mu.Unlock()
}

// fireInitialized marks the cluster as initialized and invokes the
// registered initialize callback, if any. It is a no-op on a second call,
// enforcing the "fires exactly once, no re-arming" rule.
func (b *base) fireInitialized() {
	b.mu.Lock()
	if b.initialized {
		b.mu.Unlock()
		return
	}
	b.initialized = true
	cb := b.initializedCb
	b.mu.Unlock()

	if cb != nil {
		cb()
	}
}
