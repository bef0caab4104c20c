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

// Package config decodes the bootstrap document that seeds a cluster
// manager at startup: the static cluster list, the optional CDS and SDS
// sources, the local cluster name, and outlier-detection event logging.
// The wire format is JSON, as mandated by the external interface this
// module implements; encoding/json is the correctly-grounded choice since
// no ecosystem library changes that decision.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fabricproxy/cluster/cluster"
)

// OutlierDetectionSettings configures where the manager writes its
// passive-health-check event log. It is distinct from a per-cluster
// cluster.OutlierDetectionConfig, which tunes ejection thresholds.
type OutlierDetectionSettings struct {
	EventLogPath string `json:"event_log_path,omitempty"`
}

// Bootstrap is the decoded, validated form of a bootstrap document.
type Bootstrap struct {
	// Clusters holds every statically configured cluster, including the
	// CDS and SDS target clusters if those were not already present
	// under the top-level clusters key.
	Clusters []cluster.Descriptor

	// CDSCluster is the descriptor for the cluster CDS fetches its
	// discovery responses through, if the document configures CDS.
	CDSCluster *cluster.Descriptor

	// SDSCluster and SDSRefreshDelay describe the service discovery
	// (EDS) source, if the document configures SDS.
	SDSCluster      *cluster.Descriptor
	SDSRefreshDelay time.Duration

	LocalClusterName string
	OutlierDetection *OutlierDetectionSettings
}

// wireDescriptor mirrors a cluster descriptor exactly as it appears in a
// bootstrap document. Its one divergence from cluster.Descriptor is
// connect_timeout_ms, a millisecond integer, where cluster.Descriptor
// itself stores a time.Duration; every other field's wire name already
// matches cluster.Descriptor's own json tags, so it's reused directly for
// the rest.
type wireDescriptor struct {
	Name                          string                         `json:"name"`
	ConnectTimeoutMS              int64                          `json:"connect_timeout_ms"`
	Type                          cluster.Type                   `json:"type"`
	LBType                        string                         `json:"lb_type"`
	Hosts                         []cluster.HostEntry            `json:"hosts,omitempty"`
	DNSResolvers                  []string                       `json:"dns_resolvers,omitempty"`
	PerConnectionBufferLimitBytes uint32                         `json:"per_connection_buffer_limit_bytes,omitempty"`
	HealthCheck                   *cluster.HealthCheckConfig     `json:"health_check,omitempty"`
	OutlierDetection              *cluster.OutlierDetectionConfig `json:"outlier_detection,omitempty"`
}

func (w wireDescriptor) toDescriptor() cluster.Descriptor {
	return cluster.Descriptor{
		Name:                          w.Name,
		Type:                          w.Type,
		ConnectTimeout:                time.Duration(w.ConnectTimeoutMS) * time.Millisecond,
		PerConnectionBufferLimitBytes: w.PerConnectionBufferLimitBytes,
		LBType:                        w.LBType,
		Hosts:                         w.Hosts,
		DNSResolvers:                  w.DNSResolvers,
		HealthCheck:                   w.HealthCheck,
		OutlierDetection:              w.OutlierDetection,
	}
}

type wireCDS struct {
	Cluster wireDescriptor `json:"cluster"`
}

type wireSDS struct {
	Cluster        wireDescriptor `json:"cluster"`
	RefreshDelayMS int64          `json:"refresh_delay_ms"`
}

type wireBootstrap struct {
	Clusters         []wireDescriptor          `json:"clusters"`
	CDS              *wireCDS                  `json:"cds,omitempty"`
	SDS              *wireSDS                  `json:"sds,omitempty"`
	LocalClusterName string                    `json:"local_cluster_name,omitempty"`
	OutlierDetection *OutlierDetectionSettings `json:"outlier_detection,omitempty"`
}

// Load decodes and validates a bootstrap document. It never performs any
// network side effect; a validate-mode caller can run Load alone to check
// a document for configuration errors.
func Load(data []byte) (*Bootstrap, error) {
	var wire wireBootstrap
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fieldError("$", err)
	}

	b := &Bootstrap{
		LocalClusterName: wire.LocalClusterName,
		OutlierDetection: wire.OutlierDetection,
	}

	seen := make(map[string]bool, len(wire.Clusters))
	for i, wd := range wire.Clusters {
		d := wd.toDescriptor()
		if err := d.Validate(); err != nil {
			return nil, fieldError(fmt.Sprintf("clusters[%d]", i), err)
		}
		if seen[d.Name] {
			return nil, &Error{
				Field:  fmt.Sprintf("clusters[%d].name", i),
				Reason: fmt.Sprintf("duplicate cluster name %q", d.Name),
			}
		}
		seen[d.Name] = true
		b.Clusters = append(b.Clusters, d)
	}

	if wire.CDS != nil {
		d := wire.CDS.Cluster.toDescriptor()
		if err := d.Validate(); err != nil {
			return nil, fieldError("cds.cluster", err)
		}
		b.CDSCluster = &d
		if !seen[d.Name] {
			seen[d.Name] = true
			b.Clusters = append(b.Clusters, d)
		}
	}

	if wire.SDS != nil {
		d := wire.SDS.Cluster.toDescriptor()
		if err := d.Validate(); err != nil {
			return nil, fieldError("sds.cluster", err)
		}
		b.SDSCluster = &d
		b.SDSRefreshDelay = time.Duration(wire.SDS.RefreshDelayMS) * time.Millisecond
		if !seen[d.Name] {
			seen[d.Name] = true
			b.Clusters = append(b.Clusters, d)
		}
	}

	if b.LocalClusterName != "" && !seen[b.LocalClusterName] {
		return nil, &Error{
			Field:  "local_cluster_name",
			Reason: fmt.Sprintf("cluster %q is not present in clusters", b.LocalClusterName),
		}
	}

	return b, nil
}

// LoadFile reads path and decodes it as a bootstrap document.
func LoadFile(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fieldError("$", err)
	}
	return Load(data)
}
