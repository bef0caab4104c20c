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
	"fmt"
	"net"

	"github.com/fabricproxy/cluster/picker"
	"github.com/fabricproxy/cluster/resolver"
)

// NewFromDescriptor dispatches on d.Type to construct the concrete cluster
// variant it names. This is the only place that needs to know about every
// variant; everything else in the package programs against the Cluster
// interface.
func NewFromDescriptor(d Descriptor) (Cluster, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	factory, ok := picker.FactoryFor(d.LBType)
	if !ok {
		if d.LBType == "" {
			factory = picker.RoundRobinFactory
		} else {
			return nil, fmt.Errorf("cluster %q: unsupported lb_type %q", d.Name, d.LBType)
		}
	}

	switch d.Type {
	case TypeStatic:
		return newStatic(d, factory)
	case TypeStrictDNS:
		return newStrictDNS(d, factory, resolver.NewDNSResolver(net.DefaultResolver, "ip", 0, resolver.AllFamilies))
	case TypeLogicalDNS:
		return newLogicalDNS(d, factory, resolver.NewDNSResolver(net.DefaultResolver, "ip", 0, resolver.AllFamilies))
	case TypeEDS:
		return newEDS(d, factory)
	case TypeOriginalDst:
		return newOriginalDst(d, factory)
	default:
		return nil, fmt.Errorf("cluster %q: unknown type %q", d.Name, d.Type)
	}
}
