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
	"container/heap"
	"context"
	"math/bits"
	"math/rand/v2"
	"sync"
)

// LeastLoadedFactory creates pickers for the least_request policy: the
// endpoint with the fewest in-flight picks is chosen. Ties are broken with
// a random value, so tied endpoints aren't always returned in the same
// order.
//
//nolint:gochecknoglobals
var LeastLoadedFactory Factory = leastLoadedFactory{}

type leastLoadedFactory struct{}

func (leastLoadedFactory) New(prev Picker, allEndpoints Endpoints) Picker {
	if prev, ok := prev.(*leastLoaded); ok {
		prev.mu.Lock()
		defer prev.mu.Unlock()

		prev.endpoints.update(allEndpoints)
		return prev
	}

	return &leastLoaded{
		endpoints: newEndpointHeap(allEndpoints),
	}
}

type leastLoaded struct {
	mu sync.Mutex
	// +checklocks:mu
	endpoints *leastLoadedHeap
}

//nolint:recvcheck // mix of pointer and non-pointer receiver methods is intentional
type leastLoadedHeap []*leastLoadedItem

type leastLoadedItem struct {
	endpoint Endpoint
	load     uint64
	tieBreak uint64
	index    int
}

func (p *leastLoaded) Pick(context.Context) (Endpoint, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := p.endpoints.acquire(rand.Uint64()) //nolint:gosec // don't need crypto/rand here
	whenDone := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.endpoints.release(entry)
	}
	return entry.endpoint, whenDone, nil
}

func newEndpointHeap(allEndpoints Endpoints) *leastLoadedHeap {
	items := make([]*leastLoadedItem, allEndpoints.Len())
	newHeap := leastLoadedHeap(items)
	for i := range items {
		items[i] = &leastLoadedItem{
			endpoint: allEndpoints.Get(i),
			index:    i,
		}
	}
	heap.Init(&newHeap)
	return &newHeap
}

func (h *leastLoadedHeap) update(allEndpoints Endpoints) {
	newMap := map[string]Endpoint{}
	for i, l := 0, allEndpoints.Len(); i < l; i++ {
		endpoint := allEndpoints.Get(i)
		newMap[endpoint.HostPort()] = endpoint
	}
	j := 0 //nolint:varnamelen
	slice := *h
	// Remove items from slice that aren't in the new set of endpoints,
	// compacting the slice as we go.
	for i, item := range slice {
		if _, ok := newMap[item.endpoint.HostPort()]; ok {
			delete(newMap, item.endpoint.HostPort())
			if i != j {
				item.index = j
				(*h)[j] = item
			}
			j++
		} else {
			// If there are pending ops with this one, make sure it
			// knows it's been evicted.
			item.index = -1
		}
	}
	newLen := j + len(newMap)
	if j == len(slice) {
		// No items removed, so we haven't broken any heap invariants.
		// If we don't have too many items to add, just heap.Push them
		// and return.
		threshold := newLen / bits.Len(uint(newLen))
		// Push is O(log n). Init (aka heapify) is O(n). So threshold
		// is (n / log n). If there are more items than that, it's
		// better to fall through below and re-init.
		if len(newMap) <= threshold {
			for _, endpoint := range newMap {
				h.Push(&leastLoadedItem{endpoint: endpoint})
			}
			return
		}
	} else if len(slice) > newLen {
		// Make sure we don't leak memory with dangling pointers
		// in unused regions of the slice.
		for i := range slice[newLen:] {
			slice[newLen+i] = nil
		}
	}
	// Now add remaining new endpoints.
	slice = slice[:j]
	for _, endpoint := range newMap {
		slice = append(slice, &leastLoadedItem{endpoint: endpoint, index: len(slice)})
	}
	*h = slice
	// Re-heapify
	heap.Init(h)
}

func (h *leastLoadedHeap) acquire(nextTieBreak uint64) *leastLoadedItem {
	entry := (*h)[0]
	entry.load++
	entry.tieBreak = nextTieBreak
	heap.Fix(h, entry.index)
	return entry
}

func (h *leastLoadedHeap) release(entry *leastLoadedItem) {
	entry.load--
	if entry.index != -1 {
		heap.Fix(h, entry.index)
	}
}

func (h leastLoadedHeap) Len() int { return len(h) }

func (h leastLoadedHeap) Less(i, j int) bool {
	if h[i].load == h[j].load {
		return h[i].tieBreak < h[j].tieBreak
	}
	return h[i].load < h[j].load
}

func (h leastLoadedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *leastLoadedHeap) Push(x any) {
	n := len(*h)
	item := x.(*leastLoadedItem) //nolint:forcetypeassert,errcheck
	item.index = n
	*h = append(*h, item)
}

func (h *leastLoadedHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}
