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

import "fmt"

// UnknownClusterError is raised by the data-path lookups --
// httpConnPoolForCluster, tcpConnForCluster, httpAsyncClientForCluster --
// when asked for a cluster name the manager has never heard of. Get does
// not use it: it reports a missing cluster as (nil, false).
// httpConnPoolForCluster still distinguishes this from the "no healthy
// host" case, which returns a nil pool with no error instead.
type UnknownClusterError struct {
	Name string
}

func (e *UnknownClusterError) Error() string {
	return fmt.Sprintf("clustermanager: unknown cluster %q", e.Name)
}
