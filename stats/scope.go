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

// Package stats wraps prometheus/client_golang counters and gauges behind
// the small callback-shaped interfaces the rest of the module already
// takes (clustermanager.Counters, connpool.Metrics,
// discovery.UpdateCounters), and records per-cluster counters under a
// "cluster" label holding the cluster's name, where Envoy would chain a
// "cluster.<name>." stats scope.
//
// Grounded on openservicemesh-osm's pkg/metricsstore (a root-namespaced
// registry of CounterVec/Gauge/GaugeVec fields built once at startup) and
// linkerd-linkerd2's use of client_golang label vectors for per-resource
// counters.
package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fabricproxy/cluster/clustermanager"
	"github.com/fabricproxy/cluster/connpool"
	"github.com/fabricproxy/cluster/discovery"
)

const namespace = "cluster_manager"

// Scope is the root stats collector for a manager instance. Per-cluster
// counters are reached through Cluster, which binds a cluster name as a
// label rather than minting a new collector per cluster.
type Scope struct {
	registry *prometheus.Registry

	clusterAdded    prometheus.Counter
	clusterModified prometheus.Counter
	clusterRemoved  prometheus.Counter
	totalClusters   prometheus.Gauge

	noneHealthy    *prometheus.CounterVec
	updateAttempt  prometheus.Counter
	updateSuccess  prometheus.Counter
	updateRejected prometheus.Counter
	updateFailure  prometheus.Counter
}

// NewScope builds a Scope and registers every metric it owns with
// registry.
func NewScope(registry *prometheus.Registry) *Scope {
	s := &Scope{
		registry: registry,
		clusterAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_added",
			Help:      "Number of clusters added, static clusters at construction included.",
		}),
		clusterModified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_modified",
			Help:      "Number of api-managed clusters replaced via the dynamic API.",
		}),
		clusterRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_removed",
			Help:      "Number of clusters removed via the dynamic API.",
		}),
		totalClusters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "total_clusters",
			Help:      "Current number of registered clusters.",
		}),
		noneHealthy: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_cx_none_healthy",
			Help:      "Number of connection pool lookups that found no healthy host.",
		}, []string{"cluster"}),
		updateAttempt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_attempt",
			Help:      "Number of discovery updates attempted.",
		}),
		updateSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_success",
			Help:      "Number of discovery updates parsed and fully applied.",
		}),
		updateRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_rejected",
			Help:      "Number of discovery updates that parsed but whose application was rejected.",
		}),
		updateFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "update_failure",
			Help:      "Number of discovery updates that failed to parse or fetch.",
		}),
	}
	registry.MustRegister(
		s.clusterAdded, s.clusterModified, s.clusterRemoved, s.totalClusters,
		s.noneHealthy, s.updateAttempt, s.updateSuccess, s.updateRejected, s.updateFailure,
	)
	return s
}

// Handler serves this scope's metrics in the Prometheus exposition
// format.
func (s *Scope) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ManagerCounters adapts this scope to clustermanager.Counters.
func (s *Scope) ManagerCounters() *clustermanager.Counters {
	return &clustermanager.Counters{
		ClusterAdded:    s.clusterAdded.Inc,
		ClusterModified: s.clusterModified.Inc,
		ClusterRemoved:  s.clusterRemoved.Inc,
		TotalClusters:   func(n int) { s.totalClusters.Set(float64(n)) },
	}
}

// CDSCounters adapts this scope to discovery.UpdateCounters.
func (s *Scope) CDSCounters() *discovery.UpdateCounters {
	return &discovery.UpdateCounters{
		Attempt:  s.updateAttempt.Inc,
		Success:  s.updateSuccess.Inc,
		Rejected: s.updateRejected.Inc,
		Failure:  s.updateFailure.Inc,
	}
}

// ConnPoolMetrics adapts this scope to connpool.Metrics. A single value
// can be shared by every cluster a worker's Registry ever looks up: each
// no-healthy-host event is recorded under a "cluster" label set to its
// own cluster's name rather than needing a collector per cluster.
func (s *Scope) ConnPoolMetrics() *connpool.Metrics {
	return &connpool.Metrics{NoneHealthy: func(clusterName string) {
		s.noneHealthy.WithLabelValues(clusterName).Inc()
	}}
}
