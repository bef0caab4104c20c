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

	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

// staticCluster is the Static variant: its host list is fixed at
// construction from the descriptor's Hosts field. Initialization is
// effectively instantaneous, since there is no asynchronous resolution to
// wait for.
type staticCluster struct {
	base
	descriptor Descriptor
}

func newStatic(d Descriptor, factory picker.Factory) (Cluster, error) {
	hosts := make([]*Host, 0, len(d.Hosts))
	for _, entry := range d.Hosts {
		hostPort, err := hostPortFromURL(entry.URL)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, NewHost(d.Name, "", resolver.Address{HostPort: hostPort}, entry.Canary, entry.Weight, entry.Zone))
	}

	c := &staticCluster{
		base:       *newBase(d.Name, factory),
		descriptor: d,
	}
	c.publish(NewHostSet(hosts, nil))
	return c, nil
}

func (c *staticCluster) Info() Descriptor          { return c.descriptor }
func (c *staticCluster) InitializePhase() Phase    { return Primary }
func (c *staticCluster) Initialize(context.Context) { c.fireInitialized() }
func (c *staticCluster) Shutdown()                  {}
