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

// Package discovery implements the generic resource-subscription contract
// that every discovery transport (filesystem, gRPC, REST) is adapted to,
// and the CDS driver that applies what it delivers to a cluster manager.
package discovery

import "context"

// Callbacks receives the outcome of a subscription's fetches. Exactly one
// of OnConfigUpdate or OnConfigUpdateFailed is called per update attempt.
type Callbacks interface {
	// OnConfigUpdate is called with the full set of resources from a
	// successful fetch, keyed by resource name.
	OnConfigUpdate(resources map[string][]byte)
	// OnConfigUpdateFailed is called when a fetch could not be completed
	// or parsed. err is never nil.
	OnConfigUpdateFailed(err error)
}

// Transport is the narrow interface a discovery source (filesystem
// watcher, gRPC stream, REST poller) implements to plug into a
// Subscription. Start begins delivering updates to deliver; it must not
// block past its initial setup. Stop releases any resources the
// transport holds.
type Transport interface {
	Start(ctx context.Context, initialResourceNames []string, deliver func(resources map[string][]byte, err error)) error
	UpdateResources(names []string)
	Stop()
}

// Subscription is the generic resource-subscription contract: Start
// begins delivering updates for initialResourceNames to callbacks, and
// UpdateResources changes the set of resources of interest without
// tearing the subscription down.
type Subscription struct {
	transport Transport
	callbacks Callbacks
}

// NewSubscription builds a Subscription over the given transport. The
// transport is not started until Start is called.
func NewSubscription(transport Transport, callbacks Callbacks) *Subscription {
	return &Subscription{transport: transport, callbacks: callbacks}
}

// Start begins the subscription, invoking callbacks for every update the
// transport delivers from here on (including, typically, an initial one).
func (s *Subscription) Start(ctx context.Context, initialResourceNames []string) error {
	return s.transport.Start(ctx, initialResourceNames, func(resources map[string][]byte, err error) {
		if err != nil {
			s.callbacks.OnConfigUpdateFailed(err)
			return
		}
		s.callbacks.OnConfigUpdate(resources)
	})
}

// UpdateResources changes the set of resource names the subscription is
// interested in.
func (s *Subscription) UpdateResources(names []string) {
	s.transport.UpdateResources(names)
}

// Stop tears the subscription's transport down.
func (s *Subscription) Stop() {
	s.transport.Stop()
}
