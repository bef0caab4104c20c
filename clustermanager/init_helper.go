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

package clustermanager

import (
	"context"
	"sync"

	"github.com/fabricproxy/cluster/cluster"
)

// initState is one of the explicit states of the cluster initialization
// protocol. Modeling it as a state machine, rather than as an implicit
// callback chain, is what makes reentrant RemoveCluster and late-arriving
// Secondary clusters correct by construction.
type initState int

const (
	stateLoading initState = iota
	stateWaitingStaticPrimary
	stateWaitingStaticSecondary
	stateWaitingCDS
	stateCDSInitialized
	stateAllClustersInitialized
)

// CDSDriver is the subset of a CDS subscription's lifecycle the init
// helper needs: begin fetching on Initialize, and report readiness once
// after its own first update has been fully applied (i.e. after every
// cluster from that update has already been registered via AddCluster).
type CDSDriver interface {
	Initialize(ctx context.Context)
	SetInitializedCb(cb func())
}

// initRound tracks one wave of clusters that must finish initializing
// together: every Primary in the wave must complete before any of the
// wave's Secondaries are started.
type initRound struct {
	pendingPrimary   map[cluster.Cluster]struct{}
	pendingSecondary map[cluster.Cluster]struct{}
	secondaryQueue   []cluster.Cluster
}

func newInitRound() *initRound {
	return &initRound{
		pendingPrimary:   make(map[cluster.Cluster]struct{}),
		pendingSecondary: make(map[cluster.Cluster]struct{}),
	}
}

// InitHelper drives the two-phase (Primary/Secondary) initialization
// protocol across the static cluster load and, if configured, a single
// CDS-driven round that follows it.
type InitHelper struct {
	ctx context.Context
	cds CDSDriver

	mu            sync.Mutex
	state         initState
	static        *initRound
	cdsRound      *initRound
	clusterRound  map[cluster.Cluster]*initRound
	looseClusters map[cluster.Cluster]struct{}
	initializedCb func()
	initialized   bool
}

// NewInitHelper creates a helper in the Loading state. cds may be nil, in
// which case the helper skips straight from the static secondary round to
// AllClustersInitialized.
func NewInitHelper(ctx context.Context, cds CDSDriver) *InitHelper {
	return &InitHelper{
		ctx:           ctx,
		cds:           cds,
		state:         stateLoading,
		static:        newInitRound(),
		clusterRound:  make(map[cluster.Cluster]*initRound),
		looseClusters: make(map[cluster.Cluster]struct{}),
	}
}

// AddCluster registers c with the helper and, depending on the current
// state and c's InitializePhase, either begins its initialization now or
// enqueues it to start once its round's Primaries have all completed.
func (h *InitHelper) AddCluster(c cluster.Cluster) {
	h.mu.Lock()
	var toInitialize []cluster.Cluster

	switch h.state {
	case stateLoading, stateWaitingStaticPrimary:
		if c.InitializePhase() == cluster.Primary {
			h.static.pendingPrimary[c] = struct{}{}
			h.clusterRound[c] = h.static
			toInitialize = append(toInitialize, c)
		} else {
			h.static.secondaryQueue = append(h.static.secondaryQueue, c)
		}

	case stateWaitingStaticSecondary:
		// The static secondary queue has already started draining; a
		// cluster added now (e.g. a dynamic add racing with the tail of
		// static load) initializes immediately instead of re-queueing.
		h.clusterRound[c] = h.static
		if c.InitializePhase() == cluster.Primary {
			h.static.pendingPrimary[c] = struct{}{}
		} else {
			h.static.pendingSecondary[c] = struct{}{}
		}
		toInitialize = append(toInitialize, c)

	case stateWaitingCDS, stateCDSInitialized:
		if h.cdsRound == nil {
			h.cdsRound = newInitRound()
		}
		h.clusterRound[c] = h.cdsRound
		if c.InitializePhase() == cluster.Primary {
			h.cdsRound.pendingPrimary[c] = struct{}{}
			toInitialize = append(toInitialize, c)
		} else {
			h.cdsRound.secondaryQueue = append(h.cdsRound.secondaryQueue, c)
		}

	case stateAllClustersInitialized:
		// Tie-break: clusters added after the user-facing signal has
		// fired initialize immediately and never regress that signal,
		// regardless of phase.
		h.looseClusters[c] = struct{}{}
		toInitialize = append(toInitialize, c)
	}
	h.mu.Unlock()

	for _, cc := range toInitialize {
		cc.Initialize(h.ctx)
	}
}

// RemoveCluster detaches c from whatever pending bookkeeping the helper
// still holds for it. It is safe to call reentrantly, including from
// inside c's own Initialize(), since it never calls back into c.
func (h *InitHelper) RemoveCluster(c cluster.Cluster) {
	h.mu.Lock()
	round, tracked := h.clusterRound[c]
	delete(h.clusterRound, c)
	delete(h.looseClusters, c)
	var advance *initRound
	if tracked {
		delete(round.pendingPrimary, c)
		delete(round.pendingSecondary, c)
		round.secondaryQueue = removeCluster(round.secondaryQueue, c)
		advance = round
	}
	actions := h.computeAdvanceLocked(advance)
	h.mu.Unlock()

	h.runActions(actions)
}

// OnStaticLoadComplete signals that every cluster from the initial
// configuration has been added. It transitions Loading to
// WaitingForStaticPrimary and, if no static Primary is outstanding,
// immediately advances further.
func (h *InitHelper) OnStaticLoadComplete() {
	h.mu.Lock()
	h.state = stateWaitingStaticPrimary
	actions := h.computeAdvanceLocked(h.static)
	h.mu.Unlock()

	h.runActions(actions)
}

// SetInitializedCb registers cb to run exactly once, when every
// currently-registered cluster (and CDS, if configured) is initialized.
// If that has already happened, cb fires synchronously.
func (h *InitHelper) SetInitializedCb(cb func()) {
	h.mu.Lock()
	if h.initialized {
		h.mu.Unlock()
		cb()
		return
	}
	h.initializedCb = cb
	h.mu.Unlock()
}

// onClusterInitialized is installed (by the manager) as every cluster's
// initialize callback. It drains the cluster from its round and advances
// the state machine as far as that unblocks.
func (h *InitHelper) onClusterInitialized(c cluster.Cluster) {
	h.mu.Lock()
	round, tracked := h.clusterRound[c]
	if !tracked {
		// Already removed (e.g. via a reentrant RemoveCluster from
		// within its own Initialize) -- nothing to do.
		h.mu.Unlock()
		return
	}
	delete(h.clusterRound, c)
	delete(round.pendingPrimary, c)
	delete(round.pendingSecondary, c)
	actions := h.computeAdvanceLocked(round)
	h.mu.Unlock()

	h.runActions(actions)
}

// onCDSReady is the CDS driver's own initialize callback: its first
// update has been fully applied, meaning every cluster from that update
// has already gone through AddCluster and landed in h.cdsRound.
func (h *InitHelper) onCDSReady() {
	h.mu.Lock()
	h.state = stateCDSInitialized
	if h.cdsRound == nil {
		h.cdsRound = newInitRound()
	}
	actions := h.computeAdvanceLocked(h.cdsRound)
	h.mu.Unlock()

	h.runActions(actions)
}

// advanceActions is the set of side effects computeAdvanceLocked decided
// on; running them must happen with h.mu released.
type advanceActions struct {
	initialize []cluster.Cluster
	startCDS   bool
	finish     bool
}

// computeAdvanceLocked re-evaluates the state machine given that round
// (which may be nil) may have just lost a pending cluster. Callers must
// hold h.mu; it returns the actions to perform after releasing it.
func (h *InitHelper) computeAdvanceLocked(round *initRound) advanceActions {
	var actions advanceActions
	if round == nil {
		return actions
	}

	if round == h.static {
		switch h.state {
		case stateLoading:
			// Nothing to advance until OnStaticLoadComplete.
			return actions
		case stateWaitingStaticPrimary:
			if len(h.static.pendingPrimary) > 0 {
				return actions
			}
			h.state = stateWaitingStaticSecondary
			for _, c := range h.static.secondaryQueue {
				h.static.pendingSecondary[c] = struct{}{}
				h.clusterRound[c] = h.static
				actions.initialize = append(actions.initialize, c)
			}
			h.static.secondaryQueue = nil
			if len(h.static.pendingSecondary) > 0 {
				return actions
			}
			fallthrough
		case stateWaitingStaticSecondary:
			if len(h.static.pendingPrimary) > 0 || len(h.static.pendingSecondary) > 0 {
				return actions
			}
			h.enterCDSOrFinishLocked(&actions)
			return actions
		}
		return actions
	}

	if round == h.cdsRound {
		switch h.state {
		case stateWaitingCDS:
			// CDS hasn't announced readiness yet; clusters it has added
			// so far just accumulate.
			return actions
		case stateCDSInitialized:
			if len(h.cdsRound.pendingPrimary) > 0 {
				return actions
			}
			for _, c := range h.cdsRound.secondaryQueue {
				h.cdsRound.pendingSecondary[c] = struct{}{}
				h.clusterRound[c] = h.cdsRound
				actions.initialize = append(actions.initialize, c)
			}
			h.cdsRound.secondaryQueue = nil
			if len(h.cdsRound.pendingSecondary) > 0 {
				return actions
			}
			h.finishLocked(&actions)
			return actions
		}
	}

	return actions
}

// enterCDSOrFinishLocked is reached once the static round has fully
// drained. Callers must hold h.mu.
func (h *InitHelper) enterCDSOrFinishLocked(actions *advanceActions) {
	if h.cds == nil {
		h.finishLocked(actions)
		return
	}
	h.state = stateWaitingCDS
	actions.startCDS = true
}

func (h *InitHelper) finishLocked(actions *advanceActions) {
	if h.initialized {
		return
	}
	h.state = stateAllClustersInitialized
	h.initialized = true
	actions.finish = true
}

func (h *InitHelper) runActions(actions advanceActions) {
	for _, c := range actions.initialize {
		c.Initialize(h.ctx)
	}
	if actions.startCDS {
		h.cds.SetInitializedCb(h.onCDSReady)
		h.cds.Initialize(h.ctx)
	}
	if actions.finish {
		h.mu.Lock()
		cb := h.initializedCb
		h.mu.Unlock()
		if cb != nil {
			cb()
		}
	}
}

func removeCluster(clusters []cluster.Cluster, target cluster.Cluster) []cluster.Cluster {
	out := clusters[:0]
	for _, c := range clusters {
		if c != target {
			out = append(out, c)
		}
	}
	return out
}
