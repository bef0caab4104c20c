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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

func TestLogicalDNSCluster_RequiresExactlyOneHostname(t *testing.T) {
	_, err := newLogicalDNS(Descriptor{Name: "c", Type: TypeLogicalDNS}, picker.RoundRobinFactory, newFakeResolver())
	require.Error(t, err)

	_, err = newLogicalDNS(Descriptor{
		Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal", "b.internal"},
	}, picker.RoundRobinFactory, newFakeResolver())
	require.Error(t, err)
}

func TestLogicalDNSCluster_FiresInitializeOnFirstResolve(t *testing.T) {
	d := Descriptor{Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal"}}
	r := newFakeResolver()
	c, err := newLogicalDNS(d, picker.RoundRobinFactory, r)
	require.NoError(t, err)
	require.Equal(t, Primary, c.InitializePhase())

	var fired bool
	c.SetInitializedCb(func() { fired = true })
	c.Initialize(context.Background())
	require.False(t, fired)

	r.resolve("a.internal", resolver.Address{HostPort: "10.0.0.1:80"})
	require.True(t, fired)
	require.Len(t, c.HostSet().All(), 1)
	require.Equal(t, "10.0.0.1:80", c.HostSet().All()[0].HostPort())
}

func TestLogicalDNSCluster_KeepsOnlyTheFirstAddressOfMultipleResults(t *testing.T) {
	d := Descriptor{Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal"}}
	r := newFakeResolver()
	c, err := newLogicalDNS(d, picker.RoundRobinFactory, r)
	require.NoError(t, err)
	c.Initialize(context.Background())

	r.resolve("a.internal", resolver.Address{HostPort: "10.0.0.1:80"}, resolver.Address{HostPort: "10.0.0.2:80"})

	hosts := c.HostSet().All()
	require.Len(t, hosts, 1)
	require.Equal(t, "10.0.0.1:80", hosts[0].HostPort())
}

func TestLogicalDNSCluster_ZeroAddressesLeavesHostSetEmpty(t *testing.T) {
	d := Descriptor{Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal"}}
	r := newFakeResolver()
	c, err := newLogicalDNS(d, picker.RoundRobinFactory, r)
	require.NoError(t, err)

	var fired bool
	c.SetInitializedCb(func() { fired = true })
	c.Initialize(context.Background())

	r.resolve("a.internal")
	require.True(t, fired, "a zero-address result must still fire initialize")
	require.Empty(t, c.HostSet().All())
}

func TestLogicalDNSCluster_RepublishesOnAddressChange(t *testing.T) {
	d := Descriptor{Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal"}}
	r := newFakeResolver()
	c, err := newLogicalDNS(d, picker.RoundRobinFactory, r)
	require.NoError(t, err)
	c.Initialize(context.Background())

	r.resolve("a.internal", resolver.Address{HostPort: "10.0.0.1:80"})

	var gotAdded, gotRemoved []*Host
	c.AddMemberUpdateCb(func(added, removed []*Host) {
		gotAdded, gotRemoved = added, removed
	})

	r.resolve("a.internal", resolver.Address{HostPort: "10.0.0.2:80"})
	require.Len(t, gotAdded, 1)
	require.Equal(t, "10.0.0.2:80", gotAdded[0].HostPort())
	require.Len(t, gotRemoved, 1)
	require.Equal(t, "10.0.0.1:80", gotRemoved[0].HostPort())
}

func TestLogicalDNSCluster_ShutdownClosesTheResolverTask(t *testing.T) {
	d := Descriptor{Name: "c", Type: TypeLogicalDNS, DNSResolvers: []string{"a.internal"}}
	c, err := newLogicalDNS(d, picker.RoundRobinFactory, newFakeResolver())
	require.NoError(t, err)
	c.Initialize(context.Background())

	require.NotPanics(t, func() { c.Shutdown() })
}
