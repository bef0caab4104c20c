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
	"math/rand"
	"sync/atomic"

	"github.com/fabricproxy/cluster/internal"
)

// PowerOfTwoFactory creates pickers that select two hosts at random and
// pick the one with fewer requests. This takes advantage of the [power of
// two random choices], which provides substantial benefits over a simple
// random picker and, unlike least_request, doesn't need to maintain a
// heap. It's not one of the lb_type values a cluster descriptor can name,
// but is available for programmatic use with picker.Factory.
//
// [power of two random choices]: http://www.eecs.harvard.edu/~michaelm/postscripts/handbook2001.pdf
//
//nolint:gochecknoglobals
var PowerOfTwoFactory Factory = powerOfTwoFactory{}

type powerOfTwoFactory struct{}

func (powerOfTwoFactory) New(prev Picker, allEndpoints Endpoints) Picker {
	itemMap := map[string]*powerOfTwoItem{}

	if prev, ok := prev.(*powerOfTwo); ok {
		for _, entry := range prev.endpoints {
			itemMap[entry.endpoint.HostPort()] = entry
		}
	}

	endpoints := make([]*powerOfTwoItem, allEndpoints.Len())
	for i := range endpoints {
		endpoint := allEndpoints.Get(i)
		if item, ok := itemMap[endpoint.HostPort()]; ok {
			endpoints[i] = item
		} else {
			endpoints[i] = &powerOfTwoItem{endpoint: endpoint}
		}
	}

	return &powerOfTwo{
		endpoints: endpoints,
		rng:       internal.NewLockedRand(),
	}
}

type powerOfTwo struct {
	endpoints []*powerOfTwoItem
	rng       *rand.Rand
}

type powerOfTwoItem struct {
	endpoint Endpoint
	// +checkatomic
	load atomic.Int64
}

func (p *powerOfTwo) Pick(context.Context) (Endpoint, func(), error) {
	entry1 := p.endpoints[p.rng.Intn(len(p.endpoints))]
	entry2 := p.endpoints[p.rng.Intn(len(p.endpoints))]

	entry := entry1
	if entry2.load.Load() < entry1.load.Load() {
		entry = entry2
	}

	entry.load.Add(1)
	whenDone := func() {
		entry.load.Add(-1)
	}

	return entry.endpoint, whenDone, nil
}
