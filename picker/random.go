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

import (
	"context"
	"math/rand/v2"
)

// RandomFactory creates pickers that pick a host at random.
//
//nolint:gochecknoglobals
var RandomFactory Factory = randomFactory{}

type randomFactory struct{}

func (randomFactory) New(_ Picker, allEndpoints Endpoints) Picker {
	return pickerFunc(func(context.Context) (Endpoint, func(), error) {
		return allEndpoints.Get(rand.IntN(allEndpoints.Len())), //nolint:gosec // does not need to be cryptographically secure
			nil, nil
	})
}
