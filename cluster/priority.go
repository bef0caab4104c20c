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

// Priority distinguishes independent connection-pool caches for the same
// host. A host has exactly one identity but may be addressed at more than
// one priority; each (host, priority) pair gets its own pool.
type Priority int

const (
	Default Priority = iota
	High
)

func (p Priority) String() string {
	switch p {
	case Default:
		return "default"
	case High:
		return "high"
	default:
		return "unknown"
	}
}
