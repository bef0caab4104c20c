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
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fabricproxy/cluster/cluster"
)

var errFakeTransport = errors.New("fake transport failure")

// fakeManager is a minimal ManagerTarget that just records what it was
// asked to do, without constructing any real clusters.
type fakeManager struct {
	mu      sync.Mutex
	present map[string]bool
	removed []string
}

func newFakeManager(initial ...string) *fakeManager {
	m := &fakeManager{present: make(map[string]bool)}
	for _, name := range initial {
		m.present[name] = true
	}
	return m
}

func (m *fakeManager) AddOrUpdatePrimaryCluster(d cluster.Descriptor) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.Name == "" {
		return false, cluster.ValidateName(d.Name)
	}
	m.present[d.Name] = true
	return true, nil
}

func (m *fakeManager) RemovePrimaryCluster(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.present[name] {
		return false
	}
	delete(m.present, name)
	m.removed = append(m.removed, name)
	return true
}

func (m *fakeManager) APIManagedClusterNames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.present))
	for name := range m.present {
		names = append(names, name)
	}
	return names
}

// fakeTransport lets the test deliver updates directly, bypassing any
// real filesystem or network watching.
type fakeTransport struct {
	deliver func(map[string][]byte, error)
}

func (t *fakeTransport) Start(ctx context.Context, names []string, deliver func(map[string][]byte, error)) error {
	t.deliver = deliver
	return nil
}

func (t *fakeTransport) UpdateResources(names []string) {}
func (t *fakeTransport) Stop()                          {}

func mustMarshalDescriptor(t *testing.T, d cluster.Descriptor) []byte {
	data, err := json.Marshal(d)
	require.NoError(t, err)
	return data
}

func TestCDS_OnConfigUpdateAddsAndRemoves(t *testing.T) {
	manager := newFakeManager("stale-cluster")
	transport := &fakeTransport{}
	c := NewCDS(transport, manager, nil)
	c.Initialize(context.Background())

	var finished bool
	c.SetInitializedCb(func() { finished = true })

	transport.deliver(map[string][]byte{
		"fresh-cluster": mustMarshalDescriptor(t, cluster.Descriptor{Name: "fresh-cluster", Type: cluster.TypeEDS}),
	}, nil)

	require.True(t, manager.present["fresh-cluster"])
	require.False(t, manager.present["stale-cluster"], "a cluster absent from the update must be removed")
	require.Equal(t, []string{"stale-cluster"}, manager.removed)
	require.True(t, finished)
}

func TestCDS_OnConfigUpdateFailedStillFiresInitializedCb(t *testing.T) {
	manager := newFakeManager()
	transport := &fakeTransport{}
	c := NewCDS(transport, manager, nil)
	c.Initialize(context.Background())

	var finished bool
	c.SetInitializedCb(func() { finished = true })

	transport.deliver(nil, errFakeTransport)
	require.True(t, finished)
}

func TestCDS_InitializedCbFiresOnlyOnce(t *testing.T) {
	manager := newFakeManager()
	transport := &fakeTransport{}
	c := NewCDS(transport, manager, nil)
	c.Initialize(context.Background())

	var calls int
	c.SetInitializedCb(func() { calls++ })

	transport.deliver(map[string][]byte{}, nil)
	transport.deliver(map[string][]byte{}, nil)

	require.Equal(t, 1, calls)
}
