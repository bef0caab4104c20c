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
	"fmt"
	"io"
	"sync"

	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

// logicalDNSCluster is the LogicalDNS variant: a single synthetic host
// whose address is refreshed by DNS, rather than a strict host-per-address
// membership. Only the address changes across resolutions; the host
// identity (from the manager's point of view) stays the cluster's single
// logical endpoint.
type logicalDNSCluster struct {
	base
	descriptor Descriptor
	resolver   resolver.Resolver

	mu   sync.Mutex
	task io.Closer
}

func newLogicalDNS(d Descriptor, factory picker.Factory, dnsResolver resolver.Resolver) (Cluster, error) {
	if len(d.DNSResolvers) != 1 {
		return nil, fmt.Errorf("cluster %q: logical_dns requires exactly one dns_resolvers entry, got %d", d.Name, len(d.DNSResolvers))
	}
	return &logicalDNSCluster{
		base:       *newBase(d.Name, factory),
		descriptor: d,
		resolver:   dnsResolver,
	}, nil
}

func (c *logicalDNSCluster) Info() Descriptor       { return c.descriptor }
func (c *logicalDNSCluster) InitializePhase() Phase { return Primary }

func (c *logicalDNSCluster) Initialize(ctx context.Context) {
	hostname := c.descriptor.DNSResolvers[0]
	receiver := &logicalDNSReceiver{cluster: c}
	task := c.resolver.New(ctx, "tcp", hostname, receiver, nil)
	c.mu.Lock()
	c.task = task
	c.mu.Unlock()
}

func (c *logicalDNSCluster) Shutdown() {
	c.mu.Lock()
	task := c.task
	c.task = nil
	c.mu.Unlock()
	if task != nil {
		_ = task.Close()
	}
}

func (c *logicalDNSCluster) onResolve(addresses []resolver.Address) {
	var hosts []*Host
	if len(addresses) > 0 {
		// Logical DNS only ever tracks one synthetic host; if the resolver
		// returns several addresses (e.g. multiple A records), the first
		// is used and the rest are ignored.
		hosts = []*Host{NewHost(c.descriptor.Name, c.descriptor.DNSResolvers[0], addresses[0], false, 0, "")}
	}
	c.publish(NewHostSet(hosts, nil))
	c.fireInitialized()
}

type logicalDNSReceiver struct {
	cluster *logicalDNSCluster
}

func (r *logicalDNSReceiver) OnResolve(addresses []resolver.Address) {
	r.cluster.onResolve(addresses)
}

func (r *logicalDNSReceiver) OnResolveError(error) {}

var _ resolver.Receiver = (*logicalDNSReceiver)(nil)
