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
	"context"
	"sync"

	"github.com/fabricproxy/cluster/picker"
)

// edsCluster is the EDS (SDS) variant: its hosts arrive from an external
// subscription via UpdateHosts rather than from any resolution this
// package performs. It is Secondary: it must be initialized only after
// whatever cluster hosts its SDS service is itself ready.
type edsCluster struct {
	base
	descriptor Descriptor

	mu        sync.Mutex
	started   bool
	gotUpdate bool
}

func newEDS(d Descriptor, factory picker.Factory) (Cluster, error) {
	return &edsCluster{
		base:       *newBase(d.Name, factory),
		descriptor: d,
	}, nil
}

func (c *edsCluster) Info() Descriptor       { return c.descriptor }
func (c *edsCluster) InitializePhase() Phase { return Secondary }

func (c *edsCluster) Initialize(context.Context) {
	c.mu.Lock()
	c.started = true
	fire := c.gotUpdate
	c.mu.Unlock()
	if fire {
		c.fireInitialized()
	}
}

func (c *edsCluster) Shutdown() {}

// UpdateHosts installs a new host set for this cluster, as delivered by
// an EDS/SDS subscription. The first call after Initialize has run fires
// the cluster's initialize callback; subsequent calls only publish a
// member-update diff.
func (c *edsCluster) UpdateHosts(hosts []*Host, healthy func(*Host) bool) {
	c.mu.Lock()
	firstUpdate := !c.gotUpdate
	c.gotUpdate = true
	started := c.started
	c.mu.Unlock()

	c.publish(NewHostSet(hosts, healthy))

	if firstUpdate && started {
		c.fireInitialized()
	}
}
