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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Type names one of the five cluster variants a Descriptor can select.
type Type string

const (
	TypeStatic      Type = "static"
	TypeStrictDNS   Type = "strict_dns"
	TypeLogicalDNS  Type = "logical_dns"
	TypeEDS         Type = "eds"
	TypeOriginalDst Type = "original_dst"
)

// maxNameLength bounds a cluster's name, matching the 255-byte bound
// typical of DNS-derived identifiers that cluster names are often
// borrowed from.
const maxNameLength = 255

//nolint:gochecknoglobals
var nameCharset = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateName reports whether name is a legal cluster name: non-empty, no
// longer than 255 bytes, and drawn only from [A-Za-z0-9._-].
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("cluster name must not be empty")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("cluster name %q exceeds %d bytes", name, maxNameLength)
	}
	if !nameCharset.MatchString(name) {
		return fmt.Errorf("cluster name %q contains characters outside [A-Za-z0-9._-]", name)
	}
	return nil
}

// HostEntry is one statically configured host, as found in a descriptor's
// Hosts list.
type HostEntry struct {
	URL    string `json:"url"`
	Canary bool   `json:"canary,omitempty"`
	Weight uint32 `json:"weight,omitempty"`
	Zone   string `json:"zone,omitempty"`
}

// HealthCheckConfig configures active health checking for a cluster.
type HealthCheckConfig struct {
	Path               string        `json:"path"`
	Interval           time.Duration `json:"interval"`
	HealthyThreshold   int           `json:"healthy_threshold,omitempty"`
	UnhealthyThreshold int           `json:"unhealthy_threshold,omitempty"`
}

// OutlierDetectionConfig configures passive health checking (outlier
// ejection) for a cluster.
type OutlierDetectionConfig struct {
	Consecutive5xx int           `json:"consecutive_5xx,omitempty"`
	BaseEjectTime  time.Duration `json:"base_eject_time,omitempty"`
}

// Descriptor is the immutable per-version configuration of a cluster.
// Two descriptors with the same ContentHash are considered identical by
// addOrUpdatePrimaryCluster, regardless of field ordering in the source
// document.
type Descriptor struct {
	Name                          string                  `json:"name"`
	Type                          Type                    `json:"type"`
	ConnectTimeout                time.Duration           `json:"connect_timeout"`
	PerConnectionBufferLimitBytes uint32                  `json:"per_connection_buffer_limit_bytes,omitempty"`
	LBType                        string                  `json:"lb_type"`
	Hosts                         []HostEntry             `json:"hosts,omitempty"`
	DNSResolvers                  []string                `json:"dns_resolvers,omitempty"`
	HealthCheck                   *HealthCheckConfig      `json:"health_check,omitempty"`
	OutlierDetection              *OutlierDetectionConfig `json:"outlier_detection,omitempty"`
	AddedViaAPI                   bool                    `json:"-"`
}

// ContentHash returns a stable hash of the descriptor's fields, excluding
// AddedViaAPI (a bookkeeping flag, not part of the configuration proper).
// addOrUpdatePrimaryCluster uses equal hashes to short-circuit no-op
// updates.
func (d Descriptor) ContentHash() string {
	// json.Marshal orders struct fields by their declaration order, which
	// is fixed, so this is a stable serialization for hashing purposes.
	type hashable Descriptor
	stripped := hashable(d)
	stripped.AddedViaAPI = false
	data, err := json.Marshal(stripped)
	if err != nil {
		// Descriptor's fields are all trivially marshalable; this would
		// only happen from a programming error.
		panic(fmt.Errorf("cluster: hashing descriptor: %w", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Validate checks the descriptor for construction-time errors: an invalid
// name, an unrecognized type, or a type/field combination that can never
// be satisfied (e.g. strict_dns with no resolvers).
func (d Descriptor) Validate() error {
	if err := ValidateName(d.Name); err != nil {
		return err
	}
	switch d.Type {
	case TypeStatic:
		if len(d.Hosts) == 0 {
			return fmt.Errorf("cluster %q: static cluster must configure at least one host", d.Name)
		}
	case TypeStrictDNS, TypeLogicalDNS:
		if len(d.DNSResolvers) == 0 {
			return fmt.Errorf("cluster %q: %s cluster must configure dns_resolvers", d.Name, d.Type)
		}
	case TypeEDS, TypeOriginalDst:
		// Hosts arrive out-of-band; nothing to validate up front.
	default:
		return fmt.Errorf("cluster %q: unknown type %q", d.Name, d.Type)
	}
	switch d.LBType {
	case "", "round_robin", "least_request", "random", "ring_hash", "original_dst_lb":
	default:
		return fmt.Errorf("cluster %q: unknown lb_type %q", d.Name, d.LBType)
	}
	return nil
}
