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

// Package connpool implements the per-worker-thread connection-pool cache
// that serves the data path. A [Registry] caches one [Pool] per (host,
// priority) pair; pools are created lazily on first lookup and drained
// (never forcibly closed) when their host leaves the cluster.
//
// Adapted from the teacher's mainTransport/transportPool hierarchy: the
// teacher keys a pool-of-transports map by target{scheme, hostPort} and
// closes pools after an idle timeout. Here the key is (host, priority) and
// a pool is closed only in response to an explicit drain request, since
// that decision belongs to the cluster manager, not an idle timer.
package connpool

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/fabricproxy/cluster/attribute"
	"github.com/fabricproxy/cluster/cluster"
	"github.com/fabricproxy/cluster/conn"
	"github.com/fabricproxy/cluster/resolver"
)

// ErrDraining is returned by Pool.RoundTrip once the pool has been asked to
// drain; no new streams are accepted after that point.
var ErrDraining = errors.New("connpool: pool is draining")

// Pool is a single (host, priority) connection pool. It is safe for
// concurrent use by multiple requests on the worker thread that owns it.
type Pool struct {
	host     *cluster.Host
	priority cluster.Priority

	mu             sync.Mutex
	conn           *poolConnection
	factory        RoundTripperFactory
	options        RoundTripperOptions
	draining       bool
	drainCallbacks []func()
	active         int64
}

func newPool(host *cluster.Host, priority cluster.Priority, factory RoundTripperFactory, options RoundTripperOptions) *Pool {
	return &Pool{
		host:     host,
		priority: priority,
		factory:  factory,
		options:  options,
	}
}

// Host returns the host this pool is connected to.
func (p *Pool) Host() *cluster.Host { return p.host }

// Priority returns this pool's priority.
func (p *Pool) Priority() cluster.Priority { return p.priority }

func (p *Pool) ensureConnLocked() *poolConnection {
	if p.conn == nil {
		addr := p.host.Address()
		scheme := "http"
		if p.options.TLSClientConfig != nil {
			scheme = "https"
		}
		result := p.factory.New(scheme, addr.HostPort, p.options)
		if result.Scheme != "" {
			scheme = result.Scheme
		}
		p.conn = &poolConnection{address: addr, scheme: scheme, roundTripper: result.RoundTripper, closeFunc: result.Close, prewarmFunc: result.Prewarm}
	}
	return p.conn
}

// RoundTrip sends a request over this pool's connection, lazily
// establishing it on first use. It fails with ErrDraining once the pool
// has begun draining.
func (p *Pool) RoundTrip(req *http.Request, whenDone func()) (*http.Response, error) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return nil, ErrDraining
	}
	c := p.ensureConnLocked()
	p.active++
	p.mu.Unlock()

	return c.RoundTrip(req, func() {
		if whenDone != nil {
			whenDone()
		}
		p.release()
	})
}

// Conn returns this pool's underlying connection, establishing it if
// necessary. It lets a health checker probe the same connection the data
// path uses rather than opening a separate one.
func (p *Pool) Conn() conn.Conn {
	p.mu.Lock()
	c := p.ensureConnLocked()
	p.mu.Unlock()
	return c
}

// Prewarm eagerly establishes this pool's connection.
func (p *Pool) Prewarm(ctx context.Context) error {
	p.mu.Lock()
	c := p.ensureConnLocked()
	p.mu.Unlock()
	return c.Prewarm(ctx)
}

func (p *Pool) release() {
	p.mu.Lock()
	p.active--
	done := p.draining && p.active == 0
	var callbacks []func()
	if done {
		callbacks = p.drainCallbacks
		p.drainCallbacks = nil
	}
	p.mu.Unlock()
	if done {
		p.closeConn()
		for _, cb := range callbacks {
			cb()
		}
	}
}

func (p *Pool) closeConn() {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c != nil && c.closeFunc != nil {
		c.closeFunc()
	}
}

// drain stops the pool from accepting new streams and invokes onDrained
// once every in-flight stream has completed. If the pool is already idle,
// onDrained runs before drain returns.
func (p *Pool) drain(onDrained func()) {
	p.mu.Lock()
	p.draining = true
	idle := p.active == 0
	if idle {
		p.mu.Unlock()
		p.closeConn()
		onDrained()
		return
	}
	p.drainCallbacks = append(p.drainCallbacks, onDrained)
	p.mu.Unlock()
}

// poolConnection adapts a RoundTripperResult into a [conn.Conn]. A Pool
// only ever needs a single one, since each pool is already scoped to a
// single resolved address.
type poolConnection struct {
	address      resolver.Address
	scheme       string
	roundTripper http.RoundTripper
	closeFunc    func()
	prewarmFunc  func(ctx context.Context, scheme, addr string) error

	activeRequests atomic.Int32
}

var _ conn.Conn = (*poolConnection)(nil)

func (c *poolConnection) RoundTrip(req *http.Request, whenDone func()) (*http.Response, error) {
	if c.scheme != "" {
		req.URL.Scheme = c.scheme
	}
	c.activeRequests.Add(1)
	resp, err := c.roundTripper.RoundTrip(req)
	if err != nil {
		c.activeRequests.Add(-1)
		if whenDone != nil {
			whenDone()
		}
		return nil, err
	}
	if whenDone != nil {
		resp.Body = &completionBody{ReadCloser: resp.Body, onClose: func() {
			c.activeRequests.Add(-1)
			whenDone()
		}}
	} else {
		c.activeRequests.Add(-1)
	}
	return resp, nil
}

func (c *poolConnection) Scheme() string { return c.scheme }

func (c *poolConnection) Address() resolver.Address { return c.address }

func (c *poolConnection) UpdateAttributes(attrs attribute.Values) { c.address.Attributes = attrs }

func (c *poolConnection) Prewarm(ctx context.Context) error {
	if c.prewarmFunc == nil {
		return nil
	}
	return c.prewarmFunc(ctx, c.scheme, c.address.HostPort)
}

type completionBody struct {
	io.ReadCloser
	onClose func()
	once    sync.Once
}

func (b *completionBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.onClose)
	return err
}
