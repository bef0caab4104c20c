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

import (
	"context"
	"sync/atomic"

	"github.com/fabricproxy/cluster/internal"
)

//nolint:gochecknoglobals
var (
	// RoundRobinFactory creates pickers that pick hosts in a "round-robin"
	// fashion, that is to say, in sequential order. In order to mitigate the
	// risk of a "thundering herd" scenario, the order of hosts is randomized
	// each time the healthy host set changes.
	RoundRobinFactory Factory = roundRobinFactory{}
)

type roundRobinFactory struct{}

type roundRobin struct {
	endpoints []Endpoint
	// +checkatomic
	counter atomic.Int64
}

func (f roundRobinFactory) New(_ Picker, allEndpoints Endpoints) Picker {
	rnd := internal.NewRand()
	numEndpoints := allEndpoints.Len()
	endpoints := make([]Endpoint, numEndpoints)
	for i := 0; i < numEndpoints; i++ {
		endpoints[i] = allEndpoints.Get(i)
	}
	rnd.Shuffle(numEndpoints, func(i, j int) {
		endpoints[i], endpoints[j] = endpoints[j], endpoints[i]
	})
	picker := &roundRobin{endpoints: endpoints}
	picker.counter.Store(-1)
	return picker
}

func (r *roundRobin) Pick(context.Context) (Endpoint, func(), error) {
	return r.endpoints[uint64(r.counter.Add(1))%uint64(len(r.endpoints))], nil, nil
}
