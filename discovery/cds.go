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

package discovery

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fabricproxy/cluster/cluster"
)

// ManagerTarget is the subset of clustermanager.Manager the CDS driver
// needs: enough to add, update, and remove api-managed clusters, and to
// know which ones it already owns so it can diff a new update against
// them. Kept narrow so this package never needs to import clustermanager.
type ManagerTarget interface {
	AddOrUpdatePrimaryCluster(d cluster.Descriptor) (bool, error)
	RemovePrimaryCluster(name string) bool
	APIManagedClusterNames() []string
}

// UpdateCounters receives CDS update accounting events. Nil is valid; any
// field may be left nil.
type UpdateCounters struct {
	Attempt  func()
	Success  func()
	Rejected func()
	Failure  func()
}

func (c *UpdateCounters) attempt() {
	if c != nil && c.Attempt != nil {
		c.Attempt()
	}
}

func (c *UpdateCounters) success() {
	if c != nil && c.Success != nil {
		c.Success()
	}
}

func (c *UpdateCounters) rejected() {
	if c != nil && c.Rejected != nil {
		c.Rejected()
	}
}

func (c *UpdateCounters) failure() {
	if c != nil && c.Failure != nil {
		c.Failure()
	}
}

// CDS drives a cluster manager's api-managed cluster set from a resource
// subscription. It diffs every update against the full-state-replacement
// rule: clusters present in the update are added or updated, api-managed
// clusters absent from it are removed, and static clusters are never
// touched. Grounded on CdsApiImpl::onConfigUpdate.
type CDS struct {
	sub     *Subscription
	manager ManagerTarget
	counters *UpdateCounters

	mu            sync.Mutex
	initializedCb func()
	initialized   bool
}

// NewCDS builds a CDS driver over transport, applying updates to manager.
// counters may be nil.
func NewCDS(transport Transport, manager ManagerTarget, counters *UpdateCounters) *CDS {
	c := &CDS{manager: manager, counters: counters}
	c.sub = NewSubscription(transport, c)
	return c
}

// Initialize begins the underlying subscription. Errors starting the
// transport are logged and treated the same as a failed update: they must
// never block the rest of the manager's initialization.
func (c *CDS) Initialize(ctx context.Context) {
	if err := c.sub.Start(ctx, nil); err != nil {
		log.WithError(err).Warn("cds: failed to start subscription")
		c.counters.failure()
		c.runInitializedCbIfAny()
	}
}

// SetInitializedCb registers cb to run once, after the first update (of
// either outcome) has been applied.
func (c *CDS) SetInitializedCb(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initializedCb = cb
}

// OnConfigUpdate implements Callbacks. It is invoked on the thread the
// transport delivers updates from; applying it to the manager happens
// synchronously, matching the teacher's single-dispatcher-thread model.
func (c *CDS) OnConfigUpdate(resources map[string][]byte) {
	c.counters.attempt()

	toRemove := make(map[string]struct{})
	for _, name := range c.manager.APIManagedClusterNames() {
		toRemove[name] = struct{}{}
	}

	failed := false
	for name, raw := range resources {
		var d cluster.Descriptor
		if err := json.Unmarshal(raw, &d); err != nil {
			log.WithError(err).WithField("cluster", name).Warn("cds: failed to decode cluster resource")
			failed = true
			continue
		}
		d.AddedViaAPI = true
		delete(toRemove, d.Name)

		if _, err := c.manager.AddOrUpdatePrimaryCluster(d); err != nil {
			log.WithError(err).WithField("cluster", d.Name).Warn("cds: rejected cluster update")
			c.counters.rejected()
			continue
		}
	}

	for name := range toRemove {
		c.manager.RemovePrimaryCluster(name)
	}

	if failed {
		c.counters.failure()
	} else {
		c.counters.success()
	}

	c.runInitializedCbIfAny()
}

// OnConfigUpdateFailed implements Callbacks. Startup must proceed even
// with a bad CDS config, so this still releases the initialize gate.
func (c *CDS) OnConfigUpdateFailed(err error) {
	log.WithError(err).Warn("cds: update failed")
	c.counters.failure()
	c.runInitializedCbIfAny()
}

func (c *CDS) runInitializedCbIfAny() {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return
	}
	cb := c.initializedCb
	c.initialized = true
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

var _ Callbacks = (*CDS)(nil)
