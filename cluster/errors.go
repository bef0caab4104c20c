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

import "errors"

// ErrNoHealthyHost is returned by a cluster's load balancer when its
// healthy host set is empty. It is a sentinel, not an exception: callers
// on the data path (connpool.Registry.Lookup) turn it into a null pool
// and count it, rather than propagating it as a hard failure.
var ErrNoHealthyHost = errors.New("cluster: no healthy host")
