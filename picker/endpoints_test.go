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

package picker

type fakeEndpoint string

func (f fakeEndpoint) HostPort() string { return string(f) }

type fakeEndpoints []fakeEndpoint

func (f fakeEndpoints) Len() int { return len(f) }

func (f fakeEndpoints) Get(i int) Endpoint { return f[i] }

func fakeEndpointsOf(ids ...string) fakeEndpoints {
	endpoints := make(fakeEndpoints, len(ids))
	for i, id := range ids {
		endpoints[i] = fakeEndpoint(id)
	}
	return endpoints
}
