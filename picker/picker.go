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

package picker

import "context"

// Endpoint is the unit a Picker selects among. A cluster's healthy host
// set implements Endpoints; each host implements Endpoint.
//
// Pickers only need a stable identity for each endpoint, to recognize a
// returning endpoint across picker regeneration and to hash on for
// ring_hash -- they never dial connections themselves. That's the
// connection pool's job, once a host has been picked.
type Endpoint interface {
	// HostPort is the stable identity of this endpoint.
	HostPort() string
}

// Endpoints is a read-only collection of endpoints, typically backed by
// a cluster's healthy HostSet snapshot.
type Endpoints interface {
	Len() int
	Get(i int) Endpoint
}

// Picker implements host selection for one cluster's healthy host set. For
// a given pick, it returns the endpoint to use. It also returns a callback
// that, if non-nil, is invoked when the operation using that endpoint
// completes; load-aware policies (e.g. least_request) use it to track
// in-flight counts.
type Picker interface {
	Pick(ctx context.Context) (endpoint Endpoint, whenDone func(), err error)
}

// Factory creates a new Picker whenever a cluster's healthy host set
// changes. The previous picker is supplied so that stateful policies
// (least_request's load counters, ring_hash's ring) can carry state
// forward for endpoints that didn't change.
type Factory interface {
	New(previous Picker, endpoints Endpoints) Picker
}

// ErrorPicker returns a picker that always fails with the given error. The
// cluster manager installs one of these for a cluster with no healthy
// hosts, rather than handing back a nil pool.
func ErrorPicker(err error) Picker {
	return pickerFunc(func(context.Context) (Endpoint, func(), error) {
		return nil, nil, err
	})
}

type pickerFunc func(context.Context) (Endpoint, func(), error)

func (f pickerFunc) Pick(ctx context.Context) (Endpoint, func(), error) {
	return f(ctx)
}

// FactoryFor resolves a load-balancing policy name, as found in a cluster
// descriptor's lb_type field, to a Factory. It returns false if the name
// is not a recognized policy.
func FactoryFor(lbType string) (Factory, bool) {
	switch lbType {
	case "round_robin":
		return RoundRobinFactory, true
	case "least_request":
		return LeastLoadedFactory, true
	case "random":
		return RandomFactory, true
	case "ring_hash":
		return NewRingHashFactory(RingHashConfig{}), true
	default:
		return nil, false
	}
}
