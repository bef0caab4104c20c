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
	"errors"
	"hash"
	"math/rand/v2"

	"github.com/fabricproxy/cluster/internal"
)

var errNoHealthyEndpoints = errors.New("picker: no healthy endpoints")

// ringHashKeyType is the type of the context key a caller uses to carry the
// ring_hash selection key (e.g. a derived request hash policy value) to
// Pick. It is unexported; use WithRingHashKey to attach a key to a context.
type ringHashKeyType struct{}

//nolint:gochecknoglobals
var ringHashKey ringHashKeyType

// WithRingHashKey returns a context carrying key as the selection key a
// ring_hash picker hashes against. Without one, ring_hash falls back to
// picking a random endpoint, since there is nothing consistent to hash on.
func WithRingHashKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ringHashKey, key)
}

// RingHashConfig carries the options for a ring_hash Factory.
type RingHashConfig struct {
	// Hash provides a hash function to use. If unspecified, an
	// implementation of MurmurHash3 is used.
	Hash hash.Hash32
	// MinRingSize bounds how many times each endpoint is replicated onto
	// the ring, trading memory for hash-distribution smoothness. Defaults
	// to 1024 if unset.
	MinRingSize int
}

// NewRingHashFactory creates a Factory for the ring_hash policy. For a
// fixed endpoint set, the same selection key (see WithRingHashKey) always
// picks the same endpoint. Each endpoint gets MinRingSize divided by the
// endpoint count points on the ring (at least one), so when the endpoint
// count changes, the endpoints that stay gain or lose ring points as well,
// and some keys can move between endpoints that stayed healthy.
func NewRingHashFactory(config RingHashConfig) Factory {
	if config.MinRingSize == 0 {
		config.MinRingSize = defaultRingSize
	}
	return ringHashFactory{config: config}
}

const defaultRingSize = 1024

type ringHashFactory struct {
	config RingHashConfig
}

func (f ringHashFactory) New(_ Picker, allEndpoints Endpoints) Picker {
	hashFn := f.config.Hash
	if hashFn == nil {
		hashFn = internal.NewMurmurHash3(0)
	}

	numEndpoints := allEndpoints.Len()
	if numEndpoints == 0 {
		return &ringHash{}
	}

	replicas := f.config.MinRingSize / numEndpoints
	if replicas < 1 {
		replicas = 1
	}

	ring := make([]ringEntry, 0, numEndpoints*replicas)
	for i := 0; i < numEndpoints; i++ {
		endpoint := allEndpoints.Get(i)
		for r := 0; r < replicas; r++ {
			hashFn.Reset()
			_, _ = hashFn.Write([]byte{byte(r), byte(r >> 8)})
			_, _ = hashFn.Write([]byte(endpoint.HostPort()))
			ring = append(ring, ringEntry{hash: hashFn.Sum32(), endpoint: endpoint})
		}
	}
	sortRing(ring)

	return &ringHash{
		ring:     ring,
		hash:     hashFn,
		fallback: allEndpoints,
	}
}

type ringEntry struct {
	hash     uint32
	endpoint Endpoint
}

type ringHash struct {
	ring     []ringEntry
	hash     hash.Hash32
	fallback Endpoints
}

func (r *ringHash) Pick(ctx context.Context) (Endpoint, func(), error) {
	if len(r.ring) == 0 {
		return nil, nil, errNoHealthyEndpoints
	}

	key, ok := ctx.Value(ringHashKey).(string)
	if !ok || key == "" {
		return r.ring[rand.IntN(len(r.ring))].endpoint, nil, nil //nolint:gosec // does not need to be cryptographically secure
	}

	r.hash.Reset()
	_, _ = r.hash.Write([]byte(key))
	target := r.hash.Sum32()

	idx := searchRing(r.ring, target)
	return r.ring[idx].endpoint, nil, nil
}

// searchRing finds the first entry whose hash is >= target, wrapping
// around to the start of the ring if none is found (the classic
// consistent-hashing "walk clockwise" rule).
func searchRing(ring []ringEntry, target uint32) int {
	lo, hi := 0, len(ring)
	for lo < hi {
		mid := (lo + hi) / 2
		if ring[mid].hash < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(ring) {
		return 0
	}
	return lo
}

func sortRing(ring []ringEntry) {
	// Insertion sort is fine here: rings are rebuilt only when the
	// healthy host set changes, not per-request, and MinRingSize keeps
	// them small.
	for i := 1; i < len(ring); i++ {
		for j := i; j > 0 && ring[j-1].hash > ring[j].hash; j-- {
			ring[j-1], ring[j] = ring[j], ring[j-1]
		}
	}
}
