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
	"github.com/fabricproxy/cluster/resolver"
)

// originalDstCluster is the OriginalDst variant: it starts with no
// configured hosts at all. Hosts are created on demand, one per distinct
// original-destination address seen on the data path, and added to the
// cluster's host set as they're discovered. It is Primary: there's
// nothing to wait on before it's ready to serve traffic (with zero
// hosts).
type originalDstCluster struct {
	base
	descriptor Descriptor

	mu        sync.Mutex
	byAddress map[string]*Host
}

func newOriginalDst(d Descriptor, factory picker.Factory) (Cluster, error) {
	return &originalDstCluster{
		base:       *newBase(d.Name, factory),
		descriptor: d,
		byAddress:  make(map[string]*Host),
	}, nil
}

func (c *originalDstCluster) Info() Descriptor       { return c.descriptor }
func (c *originalDstCluster) InitializePhase() Phase { return Primary }

func (c *originalDstCluster) Initialize(context.Context) { c.fireInitialized() }

func (c *originalDstCluster) Shutdown() {}

// HostFor returns the host for the given original-destination address,
// creating and adding it to the cluster's host set on first use.
func (c *originalDstCluster) HostFor(hostPort string) *Host {
	c.mu.Lock()
	host, ok := c.byAddress[hostPort]
	if ok {
		c.mu.Unlock()
		return host
	}
	host = NewHost(c.descriptor.Name, "", resolver.Address{HostPort: hostPort}, false, 0, "")
	c.byAddress[hostPort] = host
	hosts := make([]*Host, 0, len(c.byAddress))
	for _, h := range c.byAddress {
		hosts = append(hosts, h)
	}
	c.mu.Unlock()

	c.publish(NewHostSet(hosts, nil))
	return host
}
