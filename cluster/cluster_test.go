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
)

func TestBase_LoadBalancerIsErrorPickerBeforeFirstPublish(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)
	_, _, err := b.LoadBalancer().Pick(context.Background())
	require.ErrorIs(t, err, ErrNoHealthyHost)
}

func TestBase_PublishNotifiesMemberUpdateCallbacks(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	var gotAdded, gotRemoved []*Host
	var calls int
	b.AddMemberUpdateCb(func(added, removed []*Host) {
		calls++
		gotAdded = added
		gotRemoved = removed
	})

	h1 := host("10.0.0.1:80")
	b.publish(NewHostSet([]*Host{h1}, nil))
	require.Equal(t, 1, calls)
	require.Len(t, gotAdded, 1)
	require.Empty(t, gotRemoved)

	h2 := host("10.0.0.2:80")
	b.publish(NewHostSet([]*Host{h2}, nil))
	require.Equal(t, 2, calls)
	require.Len(t, gotAdded, 1)
	require.Equal(t, "10.0.0.2:80", gotAdded[0].HostPort())
	require.Len(t, gotRemoved, 1)
	require.Equal(t, "10.0.0.1:80", gotRemoved[0].HostPort())
}

func TestBase_PublishSkipsCallbacksWhenDiffIsEmpty(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	var calls int
	b.AddMemberUpdateCb(func(added, removed []*Host) { calls++ })

	h1 := host("10.0.0.1:80")
	b.publish(NewHostSet([]*Host{h1}, nil))
	require.Equal(t, 1, calls)

	b.publish(NewHostSet([]*Host{h1}, nil))
	require.Equal(t, 1, calls, "republishing an unchanged host set must not fire callbacks")
}

func TestBase_RemovedMemberUpdateCbNeverFiresAgain(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	var calls int
	remove := b.AddMemberUpdateCb(func(added, removed []*Host) { calls++ })
	remove()

	b.publish(NewHostSet([]*Host{host("10.0.0.1:80")}, nil))
	require.Equal(t, 0, calls)
}

func TestBase_FireInitializedFiresAtMostOnce(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	var calls int
	b.SetInitializedCb(func() { calls++ })

	b.fireInitialized()
	b.fireInitialized()
	require.Equal(t, 1, calls)
}

// pickedHostPorts drives picker n times and returns the distinct
// HostPorts it returned.
func pickedHostPorts(t *testing.T, p picker.Picker, n int) map[string]bool {
	t.Helper()
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		endpoint, _, err := p.Pick(context.Background())
		require.NoError(t, err)
		seen[endpoint.HostPort()] = true
	}
	return seen
}

func TestBase_UpdateHealthStateNarrowsLoadBalancerWithoutMemberCallback(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	var calls int
	b.AddMemberUpdateCb(func(added, removed []*Host) { calls++ })

	h1 := host("10.0.0.1:80")
	h2 := host("10.0.0.2:80")
	b.publish(NewHostSet([]*Host{h1, h2}, nil))
	require.Equal(t, 1, calls)
	require.Len(t, pickedHostPorts(t, b.LoadBalancer(), 20), 2)

	b.UpdateHealthState(h1.HostPort(), false)
	require.Equal(t, 1, calls, "an active health override must not fire a member-update callback")
	require.Equal(t, map[string]bool{h2.HostPort(): true}, pickedHostPorts(t, b.LoadBalancer(), 20))

	b.UpdateHealthState(h1.HostPort(), true)
	require.Equal(t, 1, calls)
	require.Len(t, pickedHostPorts(t, b.LoadBalancer(), 20), 2)
}

func TestBase_UpdateHealthStateSurvivesRepublish(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)

	h1 := host("10.0.0.1:80")
	h2 := host("10.0.0.2:80")
	b.publish(NewHostSet([]*Host{h1}, nil))
	b.UpdateHealthState(h1.HostPort(), false)
	require.ErrorIs(t, pickErr(t, b.LoadBalancer()), ErrNoHealthyHost)

	// A fresh publish that still includes h1 must keep honoring the
	// override recorded against its address.
	b.publish(NewHostSet([]*Host{h1, h2}, nil))
	require.Equal(t, map[string]bool{h2.HostPort(): true}, pickedHostPorts(t, b.LoadBalancer(), 20))
}

func pickErr(t *testing.T, p picker.Picker) error {
	t.Helper()
	_, _, err := p.Pick(context.Background())
	return err
}

func TestBase_SetInitializedCbAfterFireRunsSynchronously(t *testing.T) {
	b := newBase("c", picker.RoundRobinFactory)
	b.fireInitialized()

	var fired bool
	b.SetInitializedCb(func() { fired = true })
	require.True(t, fired)
}
