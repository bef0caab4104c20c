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

package connpool

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// RoundTripperFactory creates the leaf [http.RoundTripper] that a Pool uses
// to talk to a single resolved host.
type RoundTripperFactory interface {
	New(scheme, hostPort string, options RoundTripperOptions) RoundTripperResult
}

// RoundTripperResult is the leaf transport produced by a RoundTripperFactory.
type RoundTripperResult struct {
	// RoundTripper is the transport that handles requests to the host.
	RoundTripper http.RoundTripper
	// Scheme, if non-empty, replaces the request's scheme before it reaches
	// RoundTripper.
	Scheme string
	// Close, if non-nil, is called when the pool's connection is drained.
	Close func()
	// Prewarm, if non-nil, eagerly establishes the underlying connection.
	Prewarm func(ctx context.Context, scheme, addr string) error
}

// RoundTripperOptions configures a leaf transport. PerConnectionBufferLimitBytes
// is a cluster-level setting (see cluster.Descriptor) threaded through to every
// pool built for that cluster's hosts.
type RoundTripperOptions struct {
	DialFunc                      func(ctx context.Context, network, addr string) (net.Conn, error)
	TLSClientConfig               *tls.Config
	TLSHandshakeTimeout           time.Duration
	IdleConnTimeout               time.Duration
	MaxResponseHeaderBytes        int64
	PerConnectionBufferLimitBytes uint32
	KeepWarm                      bool
}

// DefaultRoundTripperFactory returns the stock [http.Transport]-backed
// factory used when a cluster does not need anything more specialized.
func DefaultRoundTripperFactory() RoundTripperFactory {
	return simpleFactory{}
}

type simpleFactory struct{}

func (simpleFactory) New(_, _ string, opts RoundTripperOptions) RoundTripperResult {
	transport := &http.Transport{
		DialContext:            opts.DialFunc,
		ForceAttemptHTTP2:      true,
		MaxIdleConns:           1,
		MaxIdleConnsPerHost:    1,
		IdleConnTimeout:        opts.IdleConnTimeout,
		TLSHandshakeTimeout:    opts.TLSHandshakeTimeout,
		TLSClientConfig:        opts.TLSClientConfig,
		MaxResponseHeaderBytes: opts.MaxResponseHeaderBytes,
		ReadBufferSize:         int(opts.PerConnectionBufferLimitBytes),
		WriteBufferSize:        int(opts.PerConnectionBufferLimitBytes),
		ExpectContinueTimeout:  1 * time.Second,
	}
	return RoundTripperResult{RoundTripper: transport, Close: transport.CloseIdleConnections}
}
