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

// Package filesystem implements the filesystem variant of a discovery
// subscription: it watches a single discovery-response file and reacts
// only to it being moved or created into place, the same
// "ignore everything but the atomic swap" pattern used to watch mounted
// Kubernetes secrets. Grounded on
// linkerd-linkerd2's controller/identity/creds_watcher.go.
package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/fabricproxy/cluster/discovery"
)

// discoveryResponse is the on-disk shape of the watched file: a map from
// resource name to its raw, still-encoded descriptor.
type discoveryResponse struct {
	Resources map[string]json.RawMessage `json:"resources"`
}

// Transport watches a single file for move-into-place updates and
// delivers its full contents on every such event. It implements
// discovery.Transport.
type Transport struct {
	path string

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewTransport builds a filesystem transport that watches path.
func NewTransport(path string) *Transport {
	return &Transport{path: path}
}

// Start begins watching the transport's file. initialResourceNames is
// ignored: the filesystem variant always delivers every resource the file
// contains, since there is no independent channel for requesting a
// subset. An initial load is attempted immediately, even before the
// watcher is guaranteed to have caught its first event.
func (t *Transport) Start(ctx context.Context, _ []string, deliver func(resources map[string][]byte, err error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(t.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	t.mu.Lock()
	t.watcher = watcher
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	go t.run(ctx, watcher, done, deliver)
	t.load(deliver)
	return nil
}

func (t *Transport) run(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}, deliver func(map[string][]byte, error)) {
	defer watcher.Close()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != t.path {
				continue
			}
			// Only an atomic create/rename into place is a real update;
			// a bare write to the destination path is not acted on.
			if event.Op&(fsnotify.Create|fsnotify.Rename) != 0 {
				t.load(deliver)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("discovery/filesystem: watch error")
			deliver(nil, err)
		case <-ctx.Done():
			return
		case <-done:
			return
		}
	}
}

func (t *Transport) load(deliver func(map[string][]byte, error)) {
	data, err := os.ReadFile(t.path)
	if err != nil {
		deliver(nil, err)
		return
	}
	var resp discoveryResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		deliver(nil, err)
		return
	}
	resources := make(map[string][]byte, len(resp.Resources))
	for name, raw := range resp.Resources {
		resources[name] = []byte(raw)
	}
	deliver(resources, nil)
}

// UpdateResources is a no-op: the filesystem variant has no way to
// request a resource subset independent of the watched file's contents.
func (t *Transport) UpdateResources(names []string) {}

// Stop ends the watch goroutine and closes the underlying fsnotify
// watcher. It is safe to call more than once.
func (t *Transport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done != nil {
		close(t.done)
		t.done = nil
	}
}

var _ discovery.Transport = (*Transport)(nil)
