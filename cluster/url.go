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
	"fmt"
	"strings"
)

// hostPortFromURL extracts the host:port pair from a static host entry's
// url field, which is always of the form "tcp://host:port".
func hostPortFromURL(url string) (string, error) {
	const scheme = "tcp://"
	if !strings.HasPrefix(url, scheme) {
		return "", fmt.Errorf("host url %q must have scheme %q", url, scheme)
	}
	hostPort := strings.TrimPrefix(url, scheme)
	if hostPort == "" {
		return "", fmt.Errorf("host url %q missing host:port", url)
	}
	return hostPort, nil
}
