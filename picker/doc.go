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

// Package picker selects a host from a cluster's healthy host set for a
// single logical connection attempt or request.
//
// This package defines the core interface, [Picker], which selects one
// [Endpoint] out of an [Endpoints] collection, and [Factory], which builds
// a new Picker whenever the healthy host set changes.
//
// [FactoryFor] resolves a cluster descriptor's lb_type string to a
// Factory for one of the four built-in policies: round_robin, least_request,
// random, and ring_hash. [PowerOfTwoFactory] is also provided, for callers
// that want it even though it isn't one of the lb_type values a descriptor
// can name.
//
// None of the provided implementations make use of an endpoint's custom
// metadata. A custom [Picker] could, to prefer hosts in a closer zone, or
// to implement weighted selection when the host set carries per-host
// capacity metadata.
package picker
